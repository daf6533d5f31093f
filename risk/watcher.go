package risk

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/changegate/changegate/telemetry"
)

const reloadDebounce = 500 * time.Millisecond

// Reloader watches the risk table file and hot-reloads it on change.
// A failed reload keeps the previous table live.
type Reloader struct {
	watcher    *fsnotify.Watcher
	classifier *Classifier
	path       string
	logger     *telemetry.Logger
}

// NewReloader creates a file watcher for the given table path
func NewReloader(classifier *Classifier, path string, logger *telemetry.Logger) (*Reloader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("risk table %q not watchable: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", path, err)
	}

	if logger == nil {
		logger = telemetry.NewLogger("risk-reloader")
	}

	return &Reloader{
		watcher:    watcher,
		classifier: classifier,
		path:       path,
		logger:     logger,
	}, nil
}

// Run watches for writes and reloads the table after a short debounce.
// Blocks until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer func() { _ = r.watcher.Close() }()

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() {
					if err := r.classifier.ReloadFrom(r.path); err != nil {
						r.logger.Error().
							Err(err).
							Str("path", r.path).
							Msg("risk table reload failed, keeping previous table")
					}
				})
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Error().Err(err).Msg("risk table watcher error")
		}
	}
}
