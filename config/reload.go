package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes on disk and hands each
// valid result to a callback. Invalid files are logged and ignored; the
// last good config stays current.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	apply    func(*Config)

	current atomic.Pointer[Config]

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewWatcher returns a Watcher seeded with initial. apply may be nil.
func NewWatcher(path string, initial *Config, debounce time.Duration, logger *slog.Logger, apply func(*Config)) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	w := &Watcher{
		path:     path,
		debounce: debounce,
		logger:   logger.With("component", "config"),
		apply:    apply,
	}
	w.current.Store(initial)
	return w
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Reload re-reads the file now. On error the current config is kept.
func (w *Watcher) Reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed; keeping current config", "path", w.path, "error", err)
		return err
	}
	w.current.Store(cfg)
	if w.apply != nil {
		w.apply(cfg)
	}
	w.logger.Info("config reloaded", "path", w.path, "route_overrides", len(cfg.Security.Routes))
	return nil
}

// Start begins watching the file until ctx is canceled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fw.Add(w.path); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watching %s: %w", w.path, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	w.mu.Lock()
	w.cancel = cancel
	w.stopped = stopped
	w.mu.Unlock()

	go w.loop(ctx, fw, stopped)
	return nil
}

// Stop ends watching and waits for the watch goroutine to exit. It is safe
// to call before Start and more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, stopped := w.cancel, w.stopped
	w.cancel = nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, stopped chan struct{}) {
	defer close(stopped)
	defer fw.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		case <-fire:
			fire = nil
			// Editors that save by rename drop the original watch.
			_ = fw.Remove(w.path)
			if err := fw.Add(w.path); err != nil {
				w.logger.Warn("re-adding config watch failed", "path", w.path, "error", err)
			}
			_ = w.Reload()
		}
	}
}
