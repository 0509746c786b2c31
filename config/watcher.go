package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/jacentio/trellis/logging"
)

// Watcher reloads a config file when it changes on disk.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onReload func(*Defaults, error)
	logger   *logrus.Entry

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher watches the directory of path, so editors that replace the
// file are noticed too. onReload receives the freshly loaded defaults, or
// the load error, once writes have been quiet for debounce.
func NewWatcher(path string, debounce time.Duration, onReload func(*Defaults, error)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, err
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	return &Watcher{
		path:     abs,
		watcher:  fw,
		debounce: debounce,
		onReload: onReload,
		logger:   logging.NewLogger("config-watcher"),
	}, nil
}

// Start processes file events until ctx is cancelled or the watcher is
// closed.
func (w *Watcher) Start(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			w.logger.Debugf("fsnotify event: %s op=%v", event.Name, event.Op)
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("watcher error: %v", err)
		case <-ctx.Done():
			w.Close()
			return
		}
	}
}

// schedule (re)starts the debounce timer so a burst of writes results in a
// single reload.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	d, err := Load(w.path)
	if err != nil {
		w.logger.WithError(err).Warn("config reload failed")
	} else {
		w.logger.Infof("config reloaded: %s", filepath.Base(w.path))
	}
	if w.onReload != nil {
		w.onReload(d, err)
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}
