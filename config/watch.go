package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file on change and hands the parsed result to
// a callback. A cooldown suppresses the editor write bursts fsnotify
// reports as several events.
type Watcher struct {
	Path     string
	Cooldown time.Duration

	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewWatcher sets up an fsnotify watch on the config file's directory
// (watching the file itself breaks on rename-based saves).
func NewWatcher(path string, cooldown time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	if cooldown <= 0 {
		cooldown = 2 * time.Second
	}
	return &Watcher{
		Path:     path,
		Cooldown: cooldown,
		watcher:  fw,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start begins watching; onUpdate receives each successfully reloaded
// config. A file that fails to load is skipped and the previous config
// stays in effect.
func (w *Watcher) Start(onUpdate func(AppConfig), onError func(error)) {
	go func() {
		defer close(w.doneChan)
		var lastReload time.Time
		for {
			select {
			case <-w.stopChan:
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(w.Path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if time.Since(lastReload) < w.Cooldown {
					continue
				}
				lastReload = time.Now()
				cfg, err := LoadWithEnvOverrides(w.Path)
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				if onUpdate != nil {
					onUpdate(cfg)
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(err)
				}
			}
		}
	}()
}

// Stop ends the watch.
func (w *Watcher) Stop() {
	close(w.stopChan)
	w.watcher.Close()
	<-w.doneChan
}
