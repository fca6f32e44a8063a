// Package engine runs the loaded fingerprint set against packets: dispatch
// through the filter tree, evaluation of the selected payloads, and
// attribution of the results to the packet's endpoints.
package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/endorses/fpengine/internal/pkg/filtertree"
	"github.com/endorses/fpengine/internal/pkg/fingerprint"
	"github.com/endorses/fpengine/internal/pkg/logger"
	"github.com/endorses/fpengine/internal/pkg/matcher"
	"github.com/endorses/fpengine/internal/pkg/packet"
)

// snapshot is one immutable fingerprint generation
type snapshot struct {
	defs     []*fingerprint.Definition
	tree     *filtertree.Tree
	loadedAt time.Time
}

// Engine is safe for concurrent Process calls. Reload publishes a new
// fingerprint set atomically; calls already running finish against the set
// they started with.
type Engine struct {
	current atomic.Pointer[snapshot]
	eval    *matcher.Evaluator

	packets    atomic.Int64
	candidates atomic.Int64
	results    atomic.Int64
	records    atomic.Int64
	skipped    atomic.Int64
	failures   atomic.Int64
	reloads    atomic.Int64
}

// Stats is a point-in-time view of engine counters
type Stats struct {
	Packets    int64            `json:"packets"`
	Candidates int64            `json:"candidates"`
	Results    int64            `json:"results"`
	Records    int64            `json:"records"`
	Skipped    int64            `json:"skipped"`
	Failures   int64            `json:"failures"`
	Reloads    int64            `json:"reloads"`
	LoadedAt   time.Time        `json:"loaded_at"`
	Tree       filtertree.Stats `json:"tree"`
}

// New builds an engine over defs; lookups may be nil
func New(defs []*fingerprint.Definition, lookups matcher.LookupProvider) *Engine {
	e := &Engine{eval: matcher.NewEvaluator(lookups)}
	e.publish(defs)
	return e
}

// Reload rebuilds the dispatch tree from defs and swaps it in
func (e *Engine) Reload(defs []*fingerprint.Definition) {
	e.publish(defs)
	e.reloads.Add(1)
}

func (e *Engine) publish(defs []*fingerprint.Definition) {
	start := time.Now()
	snap := &snapshot{
		defs:     defs,
		tree:     filtertree.Build(defs),
		loadedAt: start,
	}
	e.current.Store(snap)

	st := snap.tree.Stats()
	logger.Info("Fingerprint set loaded",
		"fingerprints", st.Fingerprints,
		"payloads", st.Payloads,
		"nodes", st.Nodes,
		"depth", st.Depth,
		"order", snap.tree.Order(),
		"duration", time.Since(start))
}

// Fingerprints returns the active definitions
func (e *Engine) Fingerprints() []*fingerprint.Definition {
	return e.current.Load().defs
}

// Tree returns the active dispatch tree
func (e *Engine) Tree() *filtertree.Tree {
	return e.current.Load().tree
}

// Process evaluates pkt and returns the records it produced
func (e *Engine) Process(pkt packet.Info) []Record {
	var out []Record
	e.ProcessTo(pkt, SinkFunc(func(r Record) { out = append(out, r) }))
	return out
}

// ProcessTo evaluates pkt and hands each record to sink. It returns the
// number of records emitted. A failure anywhere in the pass is logged and
// yields no further records for the packet.
func (e *Engine) ProcessTo(pkt packet.Info, sink Sink) (n int) {
	e.packets.Add(1)
	defer func() {
		if r := recover(); r != nil {
			e.failures.Add(1)
			logger.Error("Packet processing failed", "error", fmt.Sprint(r))
		}
	}()

	var ts time.Time
	if t, ok := pkt.(interface{ Time() time.Time }); ok {
		ts = t.Time()
	}

	snap := e.current.Load()
	for _, ref := range snap.tree.Lookup(pkt) {
		e.candidates.Add(1)
		for _, res := range e.run(ref, pkt.Payload()) {
			e.results.Add(1)
			rec, ok := newRecord(res, pkt)
			if !ok {
				e.skipped.Add(1)
				continue
			}
			rec.Fingerprint = ref.Fingerprint
			rec.Payload = ref.Payload.For
			rec.Timestamp = ts
			sink.Emit(rec)
			e.records.Add(1)
			n++
		}
	}
	return n
}

// run evaluates one payload, containing any failure to that payload
func (e *Engine) run(ref *filtertree.PayloadRef, data []byte) (results []matcher.Result) {
	defer func() {
		if r := recover(); r != nil {
			e.failures.Add(1)
			results = nil
			logger.Warn("Fingerprint evaluation failed",
				"fingerprint", ref.Fingerprint,
				"payload", ref.Payload.For,
				"error", fmt.Sprint(r))
		}
	}()
	return e.eval.Run(ref.Payload, data)
}

// Stats returns current counters and the active tree's statistics
func (e *Engine) Stats() Stats {
	snap := e.current.Load()
	return Stats{
		Packets:    e.packets.Load(),
		Candidates: e.candidates.Load(),
		Results:    e.results.Load(),
		Records:    e.records.Load(),
		Skipped:    e.skipped.Load(),
		Failures:   e.failures.Load(),
		Reloads:    e.reloads.Load(),
		LoadedAt:   snap.loadedAt,
		Tree:       snap.tree.Stats(),
	}
}
