package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// debounceDelay coalesces the event bursts editors produce on save.
const debounceDelay = 250 * time.Millisecond

// Watch reloads the store whenever its config file changes, until ctx is
// cancelled. The parent directory is watched rather than the file itself,
// because atomic-save editors replace the file and would otherwise detach
// the watch.
func Watch(ctx context.Context, store *Store, log *logrus.Logger) error {
	if store.Path() == "" {
		// Nothing to watch when running on defaults.
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(store.Path())
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return err
	}

	entry := log.WithFields(logrus.Fields{"component": "config", "file": absPath})
	entry.Debug("watching configuration file")

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				if err := store.Reload(); err != nil {
					entry.WithError(err).Warn("configuration change not applied")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			entry.WithError(err).Warn("config watcher error")
		}
	}
}
