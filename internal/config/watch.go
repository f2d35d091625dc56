package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce absorbs the write bursts editors produce when saving a file.
const debounce = 250 * time.Millisecond

// Watch reloads the manager's config file whenever it changes on disk.
// It returns a stop function. When the manager runs on defaults (no file)
// watching is a no-op.
func (m *Manager) Watch() (func(), error) {
	path := m.Path()
	if path == "" {
		return func() {}, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files on save, which drops the
	// watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		var pending *time.Timer
		target := filepath.Base(path)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(debounce, func() {
					if err := m.Reload(); err != nil {
						log.Printf("Config: reload failed, keeping previous config: %v", err)
						return
					}
					log.Printf("Config: reloaded %s", path)
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("Config: watch error: %v", err)

			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
