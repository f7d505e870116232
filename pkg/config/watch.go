package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads path whenever it changes and passes the new Config to
// onChange. It runs until ctx is cancelled.
//
// The parent directory is watched rather than the file itself, so editors
// that save by writing a temp file and renaming it over path are picked up.
// A reload that fails to parse or validate is logged and skipped; the
// previous config stays active.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config)) error {
	if logger == nil {
		logger = slog.Default()
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watch: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config: watch %s: %w", path, err)
	}

	logger.Info("config: watching for changes", "path", target)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(target)
			if err != nil {
				logger.Error("config: reload failed, keeping previous config", "path", target, "err", err)
				continue
			}

			logger.Info("config: reloaded", "path", target)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config: watcher error", "err", err)
		}
	}
}
