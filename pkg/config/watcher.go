package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher signals when a configuration file changes on disk. The parent
// directory is watched so editors that replace the file are observed too.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	changes  chan struct{}
	logger   *slog.Logger
	debounce time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

// NewWatcher starts watching path.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:     absPath,
		watcher:  fsw,
		changes:  make(chan struct{}, 1),
		logger:   logger,
		debounce: defaultDebounce,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go w.watchLoop(ctx)
	return w, nil
}

// Changes receives one value per debounced burst of file events. A pending
// notification is never duplicated.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Path returns the watched file.
func (w *Watcher) Path() string {
	return w.path
}

// Close stops the watcher and cleans up resources.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		w.cancel()
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.done)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(w.debounce, w.notify)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Watcher error", "error", err)
		}
	}
}

func (w *Watcher) notify() {
	w.logger.Info("Configuration changed", "path", w.path)
	select {
	case w.changes <- struct{}{}:
	default:
	}
}
