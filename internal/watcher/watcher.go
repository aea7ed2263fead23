package watcher

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// WatchSettingsFile signals on eventChan whenever the settings file at path is
// written or replaced. The parent directory is watched so that editors which
// save through rename are noticed too. It blocks until ctx is done.
func WatchSettingsFile(ctx context.Context, log *zerolog.Logger, path string, eventChan chan<- struct{}) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve settings path %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Error().Err(err).Msg("Failed to create fsnotify watcher")
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
		log.Info().Msg("Stopped watching settings file")
	}()

	dir := filepath.Dir(abs)
	if err := watcher.Add(dir); err != nil {
		log.Error().Err(err).Str("path", dir).Msg("Failed to add path to watcher")
		return fmt.Errorf("failed to add watch on path %s: %w", dir, err)
	}

	log.Info().Str("path", abs).Msg("Started watching settings file for changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				log.Error().Msg("Watcher event channel closed unexpectedly")
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			log.Debug().Str("event", event.String()).Msg("Received fsnotify event")
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			select {
			case eventChan <- struct{}{}:
				log.Debug().Str("file", event.Name).Msg("Settings file changed")
			default:
				// a reload is already pending
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				log.Error().Msg("Watcher error channel closed unexpectedly")
				return nil
			}
			log.Error().Err(err).Msg("Watcher encountered an error")
		}
	}
}
