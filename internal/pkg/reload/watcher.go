// Package reload keeps the engine's fingerprint set in sync with the
// definition files on disk. Reloads are triggered by file changes and by
// SIGHUP.
package reload

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/endorses/fpengine/internal/pkg/constants"
	"github.com/endorses/fpengine/internal/pkg/fingerprint"
	"github.com/endorses/fpengine/internal/pkg/logger"
	"github.com/endorses/fpengine/internal/pkg/signals"
	"github.com/fsnotify/fsnotify"
)

// Target receives freshly loaded fingerprint sets
type Target interface {
	Reload(defs []*fingerprint.Definition)
}

// Config for a Watcher
type Config struct {
	Paths    []string                // Fingerprint files or directories
	Options  fingerprint.LoadOptions // Passed to the loader
	Debounce time.Duration           // Quiet period before reloading (0 = default)
	Signals  bool                    // Also reload on SIGHUP
}

// Watcher reloads Target whenever the watched definitions change
type Watcher struct {
	cfg    Config
	target Target
	fs     *fsnotify.Watcher

	files map[string]bool
	dirs  map[string]bool

	mu    sync.Mutex
	timer *time.Timer

	// reloadMu serialises ReloadNow between SIGHUP and the debounce timer
	reloadMu sync.Mutex

	reloads atomic.Int64
	failed  atomic.Int64
}

// New creates a watcher over cfg.Paths. Directories are watched
// recursively; for single files the parent directory is watched and events
// for other files in it are ignored.
func New(cfg Config, target Target) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = constants.ReloadDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		cfg:    cfg,
		target: target,
		fs:     fsw,
		files:  make(map[string]bool),
		dirs:   make(map[string]bool),
	}
	for _, p := range cfg.Paths {
		if err := w.add(p); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) add(path string) error {
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot watch %s: %w", path, err)
	}

	if !info.IsDir() {
		w.files[path] = true
		return w.fs.Add(filepath.Dir(path))
	}

	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		w.dirs[filepath.Clean(p)] = true
		if err := w.fs.Add(p); err != nil {
			return fmt.Errorf("cannot watch %s: %w", p, err)
		}
		return nil
	})
}

// relevant reports whether an event on name concerns a watched definition
func (w *Watcher) relevant(name string) bool {
	name = filepath.Clean(name)
	if w.files[name] {
		return true
	}
	return fingerprint.IsDefinitionFile(name) && w.dirs[filepath.Dir(name)]
}

// Run watches until ctx is done. It closes the underlying watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	if w.cfg.Signals {
		cleanup := signals.OnHangup(ctx, func() { w.ReloadNow() })
		defer cleanup()
	}

	logger.Info("Watching fingerprint definitions",
		"paths", w.cfg.Paths,
		"debounce", w.cfg.Debounce,
		"sighup", w.cfg.Signals)

	defer func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		if err := w.fs.Close(); err != nil {
			logger.Warn("Error closing file watcher", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				// Pick up new subdirectories of watched directories
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && w.dirs[filepath.Dir(filepath.Clean(event.Name))] {
					if err := w.add(event.Name); err != nil {
						logger.Warn("Failed to watch new directory", "dir", event.Name, "error", err)
					}
					w.schedule()
					continue
				}
			}
			if !w.relevant(event.Name) || event.Op == fsnotify.Chmod {
				continue
			}
			logger.Debug("Detected fingerprint change", "op", event.Op.String(), "file", event.Name)
			w.schedule()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			logger.Warn("File watcher error", "error", err)
		}
	}
}

// schedule reloads after the debounce period, restarting it on every call
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.cfg.Debounce, func() { w.ReloadNow() })
}

// ReloadNow loads the definitions and hands them to the target. A load that
// yields no definitions leaves the current set in place.
func (w *Watcher) ReloadNow() error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	defs, errs := fingerprint.LoadPaths(w.cfg.Paths, w.cfg.Options)
	for _, err := range errs {
		logger.Warn("Fingerprint load problem", "error", err)
	}
	if len(defs) == 0 {
		w.failed.Add(1)
		logger.Error("Reload produced no fingerprints, keeping current set", "errors", len(errs))
		return fingerprint.ErrNoFingerprints
	}

	w.target.Reload(defs)
	w.reloads.Add(1)
	logger.Info("Fingerprints reloaded", "fingerprints", len(defs), "errors", len(errs))
	return nil
}

// Reloads returns how many reloads reached the target
func (w *Watcher) Reloads() int64 {
	return w.reloads.Load()
}

// Failed returns how many reloads were rejected
func (w *Watcher) Failed() int64 {
	return w.failed.Load()
}
