package api

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// WatchConfig watches the credential store file and invokes onChange after
// edits settle, so the model catalog follows enabled-model changes made by
// sibling tools. Events are debounced because atomic saves produce a burst
// of create/rename notifications.
func WatchConfig(ctx context.Context, configPath string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// Watch the directory: renames replace the file inode.
	if err = watcher.Add(filepath.Dir(configPath)); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer func() {
			_ = watcher.Close()
		}()

		var debounce *time.Timer
		target := filepath.Base(configPath)
		for {
			select {
			case <-ctx.Done():
				return
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
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					log.Debug("config file changed, reloading model catalog")
					onChange()
				})
			case errWatch, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("config watcher error: %v", errWatch)
			}
		}
	}()
	return nil
}
