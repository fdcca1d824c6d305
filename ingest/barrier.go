package ingest

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wintlu/stereo-play/logger"
)

// awaitProgressiveReady blocks until both leftPath and rightPath have
// reached minBytes, polling every pollInterval as the spec mandates
// (§4.4 step 3). An fsnotify watch on dir is used only to shorten the
// sleep between polls when there is write activity — the poll itself
// remains the source of truth, so a platform without inotify support
// (or a watcher that fails to start) degrades to plain polling rather
// than blocking ingestion.
func awaitProgressiveReady(ctx context.Context, dir, leftPath, rightPath string, minBytes int64, pollInterval time.Duration) error {
	wake := make(chan struct{}, 1)
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		defer watcher.Close()
		if err := watcher.Add(dir); err == nil {
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case _, ok := <-watcher.Events:
						if !ok {
							return
						}
						select {
						case wake <- struct{}{}:
						default:
						}
					case err, ok := <-watcher.Errors:
						if !ok {
							return
						}
						logger.Warn("ingestion watcher error", logger.ErrorField(err))
					}
				}
			}()
		} else {
			logger.Warn("ingestion watcher add failed, falling back to plain polling", logger.ErrorField(err))
		}
	} else {
		logger.Warn("ingestion watcher unavailable, falling back to plain polling", logger.ErrorField(err))
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		leftSize := fileSize(leftPath)
		rightSize := fileSize(rightPath)
		if minInt64(leftSize, rightSize) >= minBytes {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		case <-ticker.C:
		}
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
