package gateways

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchDebounce is how long a burst of file events is coalesced before reloading.
const WatchDebounce = 500 * time.Millisecond

// Watch reloads set whenever the gateway file is written, created or renamed
// into place. The parent directory is watched so that editors replacing the
// file atomically are picked up. Watch returns once the watcher is running.
func Watch(ctx context.Context, path string, set *Set, logger *zap.Logger) error {
	logger = logger.Named("gateways")
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve gateway file path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create gateway file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		var timerC <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					logger.Warn("gateway file watcher closed")
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(WatchDebounce)
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(WatchDebounce)
				}
				timerC = timer.C
			case <-timerC:
				timerC = nil
				reload(path, set, logger, "file change")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("gateway file watcher error", zap.Error(err))
			}
		}
	}()

	logger.Info("watching gateway file for changes", zap.String("path", abs))
	return nil
}
