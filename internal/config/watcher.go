package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/kumbuk/orchestrator/internal/extract"
)

// ReloadFunc receives the new contents of a watched file.
type ReloadFunc func(data []byte) error

// Watcher reloads individual files when they change on disk. Editors often
// replace files instead of writing them, so the parent directory is watched.
type Watcher struct {
	dir      string
	watcher  *fsnotify.Watcher
	handlers map[string][]ReloadFunc
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewWatcher watches dir.
func NewWatcher(dir string, logger *zap.Logger) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("config directory cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		dir:      dir,
		watcher:  fw,
		handlers: make(map[string][]ReloadFunc),
		debounce: 50 * time.Millisecond,
		logger:   logger,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Handle registers fn for filename (base name inside the watched directory).
// Must be called before Start.
func (w *Watcher) Handle(filename string, fn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[filename] = append(w.handlers[filename], fn)
}

// Start loads every registered file once and then follows changes until
// ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	names := make([]string, 0, len(w.handlers))
	for name := range w.handlers {
		names = append(names, name)
	}
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}
	for _, name := range names {
		if err := w.reload(filepath.Join(w.dir, name), "initial_load"); err != nil && !os.IsNotExist(err) {
			w.logger.Warn("Initial config load failed", zap.String("file", name), zap.Error(err))
		}
	}

	go w.loop(ctx)
	w.logger.Info("Configuration watcher started", zap.String("dir", w.dir), zap.Int("files", len(names)))
	return nil
}

// Stop ends the watch loop and waits for it to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = false
	close(w.stopCh)
	w.mu.Unlock()

	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Watch loop panicked", zap.Any("panic", r))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	w.mu.Lock()
	_, watched := w.handlers[name]
	w.mu.Unlock()
	if !watched {
		return
	}

	var action string
	switch {
	case ev.Op&fsnotify.Create == fsnotify.Create:
		action = "create"
	case ev.Op&fsnotify.Write == fsnotify.Write:
		action = "modify"
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// keep serving the last good version
		w.logger.Info("Configuration file removed", zap.String("file", name))
		return
	default:
		return
	}

	// rapid successive writes
	time.Sleep(w.debounce)
	if err := w.reload(ev.Name, action); err != nil {
		w.logger.Error("Failed to reload config file",
			zap.String("file", name),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

func (w *Watcher) reload(path, action string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	w.mu.Lock()
	handlers := append([]ReloadFunc(nil), w.handlers[name]...)
	w.mu.Unlock()

	for _, h := range handlers {
		if err := h(data); err != nil {
			return fmt.Errorf("handler for %s: %w", name, err)
		}
	}
	w.logger.Info("Configuration loaded", zap.String("file", name), zap.String("action", action))
	return nil
}

// VocabularyReloader swaps x's vocabulary whenever the YAML file changes.
// Invalid files leave the current vocabulary in place.
func VocabularyReloader(x *extract.Extractor) ReloadFunc {
	return func(data []byte) error {
		v, err := extract.ParseVocabulary(data)
		if err != nil {
			return err
		}
		x.SetVocabulary(v)
		return nil
	}
}

// WatchVocabulary starts a watcher that hot-reloads path into x.
func WatchVocabulary(ctx context.Context, path string, x *extract.Extractor, logger *zap.Logger) (*Watcher, error) {
	w, err := NewWatcher(filepath.Dir(path), logger)
	if err != nil {
		return nil, err
	}
	w.Handle(filepath.Base(path), VocabularyReloader(x))
	if err := w.Start(ctx); err != nil {
		w.watcher.Close()
		return nil, err
	}
	return w, nil
}
