package config

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"agentd/internal/domain"
)

const reloadDebounce = 200 * time.Millisecond

// Watcher loads a config file and keeps the in-memory copy current as
// the file changes on disk. Readers get consistent snapshots; writers
// never block readers.
type Watcher struct {
	logger *zap.Logger
	loader *Loader
	path   string

	state atomic.Value // domain.Config

	subsMu sync.Mutex
	subs   map[chan domain.Config]struct{}

	reloadMu  sync.Mutex
	watchOnce sync.Once
	watchCtx  context.Context
}

// NewWatcher loads the config at path and prepares to watch it.
func NewWatcher(ctx context.Context, path string, logger *zap.Logger) (*Watcher, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	loader := NewLoader(logger)
	cfg, err := loader.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		logger:   logger.Named("config_watcher"),
		loader:   loader,
		path:     path,
		subs:     make(map[chan domain.Config]struct{}),
		watchCtx: ctx,
	}
	w.state.Store(cfg)
	return w, nil
}

// Current returns the latest successfully loaded config.
func (w *Watcher) Current() domain.Config {
	return w.state.Load().(domain.Config)
}

// Watch subscribes to config updates. The watcher goroutine starts on
// first subscription; the channel is dropped when ctx is done.
func (w *Watcher) Watch(ctx context.Context) <-chan domain.Config {
	if ctx == nil {
		ctx = context.Background()
	}
	ch := make(chan domain.Config, 1)
	w.subsMu.Lock()
	w.subs[ch] = struct{}{}
	w.subsMu.Unlock()

	w.watchOnce.Do(func() {
		go w.runWatcher(w.watchCtx)
	})

	go func() {
		<-ctx.Done()
		w.subsMu.Lock()
		delete(w.subs, ch)
		w.subsMu.Unlock()
	}()

	return ch
}

// Reload forces a reload from disk. A config that fails validation
// leaves the previous one in place.
func (w *Watcher) Reload(ctx context.Context) error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := w.loader.Load(ctx, w.path)
	if err != nil {
		return err
	}
	w.state.Store(cfg)
	w.broadcast(cfg)
	return nil
}

func (w *Watcher) broadcast(cfg domain.Config) {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	for ch := range w.subs {
		select {
		case ch <- cfg:
		default:
		}
	}
}

func (w *Watcher) runWatcher(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("config watcher failed", zap.Error(err))
		return
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file still trigger.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		w.logger.Warn("config watcher add failed", zap.String("path", w.path), zap.Error(err))
		return
	}

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-watcher.Errors:
			if err != nil {
				w.logger.Warn("config watcher error", zap.Error(err))
			}
		case event := <-watcher.Events:
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(reloadDebounce)
		case <-timerChan(timer):
			timer = nil
			if err := w.Reload(ctx); err != nil {
				w.logger.Warn("config reload failed", zap.Error(err))
			}
		}
	}
}

func timerChan(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}
