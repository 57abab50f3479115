package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits after the last change to
// the file before reloading it.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a configuration file whenever it changes on disk.
//
// The parent directory is watched rather than the file itself so editors
// that replace the file (write to a temp file, then rename) are seen.
// Bursts of events are collapsed into one reload.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(*Config, error)

	// callMu serialises onChange calls.
	callMu sync.Mutex

	mu     sync.Mutex
	timer  *time.Timer
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a Watcher for path. onChange receives the freshly
// loaded configuration, or the Load error if the new file is invalid.
// A non-positive debounce selects DefaultDebounce.
func NewWatcher(path string, debounce time.Duration, onChange func(*Config, error)) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		path:     path,
		debounce: debounce,
		onChange: onChange,
	}
}

// Start begins watching. It returns once the watch is registered.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close() //nolint:errcheck // already failing
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(ctx, fw)
	return nil
}

// Stop ends watching and waits for the loop to exit. A reload already
// in progress may still complete.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	defer w.wg.Done()
	defer fw.Close()

	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(ctx)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.notify(nil, fmt.Errorf("watching %s: %w", w.path, err))
		}
	}
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		w.notify(Load(w.path))
	})
}

func (w *Watcher) notify(cfg *Config, err error) {
	w.callMu.Lock()
	defer w.callMu.Unlock()
	w.onChange(cfg, err)
}
