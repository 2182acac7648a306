package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the configuration when the global config file changes and
// hands the merged result to registered callbacks.
type Watcher struct {
	path     string
	load     func() (Config, error)
	debounce time.Duration
	log      *zap.Logger

	mu       sync.Mutex
	onChange []func(Config)
}

// NewWatcher watches path (normally GlobalPath()) and reloads via Load.
func NewWatcher(path string, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		path:     path,
		load:     Load,
		debounce: 100 * time.Millisecond,
		log:      log,
	}
}

// OnChange registers cb to run after every successful reload.
func (w *Watcher) OnChange(cb func(Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, cb)
}

// Run watches until ctx is cancelled. Reload failures are logged and the
// previous configuration stays in effect.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch config directory: %w", err)
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.load()
	if err != nil {
		w.log.Warn("config reload failed", zap.String("path", w.path), zap.Error(err))
		return
	}
	if err := cfg.Validate(); err != nil {
		w.log.Warn("reloaded config rejected", zap.Error(err))
		return
	}
	w.log.Info("config reloaded", zap.String("collector_url", cfg.CollectorURL))

	w.mu.Lock()
	callbacks := append([]func(Config){}, w.onChange...)
	w.mu.Unlock()
	for _, cb := range callbacks {
		cb(cfg)
	}
}
