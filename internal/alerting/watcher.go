package alerting

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchRulesFile monitors a rules YAML file and reloads the engine registry
// each time the file changes. It runs until ctx is cancelled.
//
// If a reload fails (unreadable file, invalid YAML, bad rule), the error is
// logged and the previous registry stays active.
func WatchRulesFile(ctx context.Context, path string, engine *Engine, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	logger.Info("watching rules file", zap.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Editors often save via rename, so catch Create alongside Write.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			rules, err := LoadRulesFromFile(path)
			if err != nil {
				logger.Error("rules reload failed, keeping previous rules",
					zap.String("path", path), zap.Error(err))
				continue
			}
			if err := engine.LoadRules(rules); err != nil {
				logger.Error("rules reload rejected, keeping previous rules",
					zap.String("path", path), zap.Error(err))
				continue
			}

			logger.Info("rules reloaded",
				zap.String("path", path), zap.Int("count", len(rules)))

			// Re-add in case an atomic save replaced the inode.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("rules watcher error", zap.Error(err))
		}
	}
}
