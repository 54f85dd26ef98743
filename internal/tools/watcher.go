package tools

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mastermind/internal/logging"
)

// Watcher hot-reloads the tool manifest when the file changes, so tools
// can be enabled or disabled without a restart.
type Watcher struct {
	mu       sync.Mutex
	fw       *fsnotify.Watcher
	path     string
	registry *Registry
	lastSeen time.Time
	debounce time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
	reloads  int
}

// NewWatcher creates a manifest watcher. It watches the manifest's
// directory rather than the file itself so editor rename-on-save is
// still observed.
func NewWatcher(manifestPath string, registry *Registry) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fw:       fw,
		path:     manifestPath,
		registry: registry,
		debounce: 200 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start applies the current manifest and begins watching. Non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.reload()

	if err := w.fw.Add(filepath.Dir(w.path)); err != nil {
		logging.ToolsWarn("manifest watch failed for %s: %v", w.path, err)
	} else {
		logging.Tools("watching tool manifest %s", w.path)
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.fw.Close(); err != nil {
		logging.ToolsWarn("closing manifest watcher: %v", err)
	}
}

// Reloads returns how many times the manifest was applied.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	var pending bool
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.lastSeen = time.Now()
			w.mu.Unlock()
			pending = true
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			logging.ToolsWarn("manifest watcher error: %v", err)
		case <-ticker.C:
			if !pending {
				continue
			}
			w.mu.Lock()
			settled := time.Since(w.lastSeen) >= w.debounce
			w.mu.Unlock()
			if settled {
				pending = false
				w.reload()
			}
		}
	}
}

// reload reads and applies the manifest.
func (w *Watcher) reload() {
	entries, err := LoadManifest(w.path)
	if err != nil {
		logging.ToolsWarn("manifest reload failed: %v", err)
		return
	}
	Apply(w.registry, entries)

	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
	logging.ToolsDebug("manifest applied: %d entries", len(entries))
}
