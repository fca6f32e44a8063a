package reload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/endorses/fpengine/internal/pkg/fingerprint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTarget struct {
	mu    sync.Mutex
	names [][]string
}

func (r *recordingTarget) Reload(defs []*fingerprint.Definition) {
	var names []string
	for _, d := range defs {
		names = append(names, d.Name)
	}
	r.mu.Lock()
	r.names = append(r.names, names)
	r.mu.Unlock()
}

func (r *recordingTarget) last() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.names) == 0 {
		return nil
	}
	return r.names[len(r.names)-1]
}

func writeDef(t *testing.T, path, name string) {
	t.Helper()
	doc := fmt.Sprintf(`name: %s
payloads:
  main:
    always:
      - direction: SOURCE
        details: {role: HOST}
`, name)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
}

func TestReloadNow(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, filepath.Join(dir, "a.yaml"), "Alpha")

	target := &recordingTarget{}
	w, err := New(Config{Paths: []string{dir}}, target)
	require.NoError(t, err)
	defer w.fs.Close()

	require.NoError(t, w.ReloadNow())
	assert.Equal(t, []string{"Alpha"}, target.last())
	assert.Equal(t, int64(1), w.Reloads())
}

// overlapTarget records the highest number of Reload calls in flight at once
type overlapTarget struct {
	inflight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (o *overlapTarget) Reload([]*fingerprint.Definition) {
	n := o.inflight.Add(1)
	for {
		p := o.peak.Load()
		if n <= p || o.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	o.inflight.Add(-1)
	o.calls.Add(1)
}

func TestReloadNow_Serialised(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, filepath.Join(dir, "a.yaml"), "Alpha")

	target := &overlapTarget{}
	w, err := New(Config{Paths: []string{dir}, Debounce: time.Millisecond}, target)
	require.NoError(t, err)
	defer w.fs.Close()

	// The debounce timer and direct calls race as SIGHUP and file events would
	w.schedule()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.ReloadNow())
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return w.Reloads() == 9 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(9), target.calls.Load())
	assert.Equal(t, int32(1), target.peak.Load())
}

func TestReloadNow_KeepsCurrentSetOnEmptyLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [unterminated"), 0o644))

	target := &recordingTarget{}
	w, err := New(Config{Paths: []string{dir}}, target)
	require.NoError(t, err)
	defer w.fs.Close()

	assert.ErrorIs(t, w.ReloadNow(), fingerprint.ErrNoFingerprints)
	assert.Nil(t, target.last())
	assert.Equal(t, int64(1), w.Failed())
}

func TestNew_MissingPath(t *testing.T) {
	_, err := New(Config{Paths: []string{filepath.Join(t.TempDir(), "missing")}}, &recordingTarget{})
	assert.Error(t, err)
}

func TestRun_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, filepath.Join(dir, "a.yaml"), "Alpha")

	target := &recordingTarget{}
	w, err := New(Config{Paths: []string{dir}, Debounce: 20 * time.Millisecond}, target)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to start
	time.Sleep(50 * time.Millisecond)
	writeDef(t, filepath.Join(dir, "b.yml"), "Beta")

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"Alpha", "Beta"}, target.last())
	}, 2*time.Second, 20*time.Millisecond)

	// Non-definition files are ignored
	before := w.Reloads()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, w.Reloads())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestRun_SingleFile(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "watched.yaml")
	writeDef(t, watched, "Watched")

	target := &recordingTarget{}
	w, err := New(Config{Paths: []string{watched}, Debounce: 20 * time.Millisecond}, target)
	require.NoError(t, err)

	assert.True(t, w.relevant(watched))
	assert.False(t, w.relevant(filepath.Join(dir, "other.yaml")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	writeDef(t, watched, "Renamed")

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"Renamed"}, target.last())
	}, 2*time.Second, 20*time.Millisecond)
}
