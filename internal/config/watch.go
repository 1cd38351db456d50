package config

import (
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/argus-sec/toolgate/internal/logger"
)

// Watcher hot-reloads a config file: it watches the file, coalesces a
// burst of writes behind a short debounce timer, then re-runs Load and
// hands the result to a callback.
type Watcher struct {
	path     string
	onReload func(*Config)
	log      *logger.Logger
	watcher  *fsnotify.Watcher
	stop     chan struct{}
}

// Watch starts watching path for changes and returns the live
// Watcher; call Close to stop. path must already exist — Load's
// "missing file is not fatal" rule applies only to startup, not to a
// file that disappears mid-watch (which simply stops firing events).
func Watch(path string, onReload func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		onReload: onReload,
		log:      logger.New("config"),
		watcher:  fw,
		stop:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	const debounce = 200 * time.Millisecond
	var timer *time.Timer

	reload := func() {
		cfg, err := Load(w.path)
		if err != nil {
			w.log.Warn("reload of %s failed, keeping previous config: %v", w.path, err)
			return
		}
		w.log.Info("reloaded configuration from %s", w.path)
		w.onReload(cfg)
	}

	for {
		select {
		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watch error: %v", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.watcher.Close()
}
