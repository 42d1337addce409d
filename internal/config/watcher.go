package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/mediacheck/mediacheck/internal/errors"
)

const defaultDebounce = 500 * time.Millisecond

// ReloadFunc receives each successfully reloaded configuration.
type ReloadFunc func(*Config) error

// Watcher reloads a config file when it changes on disk. The parent
// directory is watched so editors that replace the file on save are seen.
type Watcher struct {
	path     string
	fsw      *fsnotify.Watcher
	log      *zap.SugaredLogger
	debounce time.Duration

	mu        sync.Mutex
	callbacks []ReloadFunc
	timer     *time.Timer
	closed    bool

	done chan struct{}
}

// NewWatcher starts watching path. Call Close to stop.
func NewWatcher(path string, log *zap.SugaredLogger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve config path %s", path)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, errors.Wrapf(err, "failed to watch config file %s", abs)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	w := &Watcher{
		path:     abs,
		fsw:      fsw,
		log:      log.Named("config"),
		debounce: defaultDebounce,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// OnReload registers fn. Callbacks run in registration order; an error is
// logged and does not stop later callbacks.
func (w *Watcher) OnReload(fn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// SetDebounce changes the quiet period before a reload.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.log.Debugw("config change detected", "file", ev.Name, "op", ev.Op.String())
			w.schedule()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warnw("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Errorw("config reload failed, keeping previous settings", "path", w.path, "error", err)
		return
	}
	w.log.Infow("config reloaded", "path", w.path)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	callbacks := append([]ReloadFunc(nil), w.callbacks...)
	w.mu.Unlock()

	for _, fn := range callbacks {
		if err := fn(cfg); err != nil {
			w.log.Warnw("config reload callback failed", "error", err)
		}
	}
}

// Close stops watching. Pending reloads are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	err := w.fsw.Close()
	<-w.done
	return err
}
