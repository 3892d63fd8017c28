package scripted

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"taskstream/internal/shared/async"
	"taskstream/internal/shared/logging"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 200 * time.Millisecond

// Watcher reloads an engine's script when the file changes. A script that
// fails to parse is logged and the previous one stays active.
type Watcher struct {
	path     string
	engine   *Engine
	logger   logging.Logger
	debounce time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Watch starts watching path and reloads eng on every change until ctx ends
// or Stop is called.
func Watch(ctx context.Context, path string, eng *Engine, logger logging.Logger) (*Watcher, error) {
	if eng == nil {
		return nil, fmt.Errorf("scripted engine required")
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// The directory is watched so editors that replace the file by rename
	// are still seen.
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}

	w := &Watcher{
		path:     filepath.Clean(path),
		engine:   eng,
		logger:   logging.OrNop(logger),
		debounce: defaultWatchDebounce,
		watcher:  fsWatcher,
		stopCh:   make(chan struct{}),
	}
	async.Go(w.logger, "scripted.watch", w.loop)
	async.Go(w.logger, "scripted.watch.ctx", func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.stopCh:
		}
	})
	return w, nil
}

// Stop ends the watch.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		_ = w.watcher.Close()
		w.mu.Unlock()
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			w.schedule()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Script watcher error: %v", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.stopCh:
		return
	default:
	}
	script, err := Load(w.path)
	if err != nil {
		w.logger.Warn("Script reload failed, keeping previous script: %v", err)
		return
	}
	w.engine.Replace(script)
	w.logger.Info("Script reloaded from %s (%d steps)", w.path, len(script.Steps))
}
