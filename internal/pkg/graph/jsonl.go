package graph

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/endorses/fpengine/internal/pkg/engine"
)

// JSONWriter is an engine.Sink writing one JSON object per record
type JSONWriter struct {
	mu    sync.Mutex
	enc   *json.Encoder
	runID string
	err   error
	count int
}

type jsonRecord struct {
	RunID string `json:"run_id,omitempty"`
	engine.Record
}

// NewJSONWriter writes to w, stamping each line with runID when set
func NewJSONWriter(w io.Writer, runID string) *JSONWriter {
	return &JSONWriter{enc: json.NewEncoder(w), runID: runID}
}

// Emit implements engine.Sink. After the first write error further records
// are dropped; see Err.
func (w *JSONWriter) Emit(r engine.Record) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return
	}
	if err := w.enc.Encode(jsonRecord{RunID: w.runID, Record: r}); err != nil {
		w.err = err
		return
	}
	w.count++
}

// Err returns the first write error
func (w *JSONWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Count returns the number of records written
func (w *JSONWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Tee fans records out to several sinks in order
type Tee []engine.Sink

func (t Tee) Emit(r engine.Record) {
	for _, s := range t {
		s.Emit(r)
	}
}
