package config

import (
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a Watcher checks the file.
const DefaultWatchInterval = 5 * time.Second

// =============================================================================
// Config Watcher
// =============================================================================

// Watcher polls a config file and reloads it when its modification time
// changes. Only settings that can change at runtime should be taken from a
// reloaded config; the daemon applies the logging section.
type Watcher struct {
	path     string
	interval time.Duration
	callback func(*Config, error)

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	modTime  time.Time
}

// NewWatcher creates a watcher. callback receives the validated config, or
// the error that prevented loading it.
func NewWatcher(path string, interval time.Duration, callback func(*Config, error)) *Watcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return &Watcher{
		path:     path,
		interval: interval,
		callback: callback,
		done:     make(chan struct{}),
	}
}

// Start begins watching the config file.
func (w *Watcher) Start() {
	if info, err := os.Stat(w.path); err == nil {
		w.modTime = info.ModTime()
	}

	w.wg.Add(1)
	go w.watch()
}

// Stop stops watching and waits for a running reload to finish.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
}

func (w *Watcher) watch() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				continue
			}
			if !info.ModTime().Equal(w.modTime) {
				w.modTime = info.ModTime()
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err == nil {
		err = Validate(cfg)
	}
	if err != nil {
		log.Warn("config reload failed", "path", w.path, "error", err)
		cfg = nil
	} else {
		log.Info("config reloaded", "path", w.path)
	}

	if w.callback != nil {
		w.callback(cfg, err)
	}
}
