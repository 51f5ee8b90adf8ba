package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// watchFile calls onChange with the file's content every time it changes,
// until ctx is done. The directory is watched rather than the file because
// most editors save by writing a new file and renaming it over the old one.
func watchFile(ctx context.Context, path string, log zerolog.Logger, onChange func(content string)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	log = log.With().Str("component", "file_watcher").Str("file", abs).Logger()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			data, err := os.ReadFile(abs)
			if err != nil {
				// Mid-rename; the Create that follows carries the content.
				log.Debug().Err(err).Msg("File not readable yet")
				continue
			}
			onChange(string(data))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Watcher error")
		}
	}
}
