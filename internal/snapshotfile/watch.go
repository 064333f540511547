package snapshotfile

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/Simplici0/glassquote/internal/pricing"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher reloads a snapshot file whenever it changes on disk and hands the decoded
// snapshot to a callback.
type Watcher struct {
	path     string
	debounce time.Duration
	apply    func(context.Context, pricing.Snapshot) error
	logger   zerolog.Logger
	fsw      *fsnotify.Watcher
}

// NewWatcher watches path. The parent directory is watched rather than the file so
// editors that replace the file on save are still picked up.
func NewWatcher(path string, logger zerolog.Logger, apply func(context.Context, pricing.Snapshot) error) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	return &Watcher{
		path:     filepath.Clean(path),
		debounce: defaultDebounce,
		apply:    apply,
		logger:   logger.With().Str("snapshot_file", path).Logger(),
		fsw:      fsw,
	}, nil
}

// Run processes file events until ctx is cancelled. Bursts of writes are collapsed into
// one reload after the debounce delay.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug().Str("op", event.Op.String()).Msg("snapshot file changed")
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("snapshot watcher error")

		case <-fire:
			fire = nil
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	snap, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Msg("snapshot file rejected, keeping current rates")
		return
	}
	if err := w.apply(ctx, snap); err != nil {
		w.logger.Error().Err(err).Msg("apply snapshot file")
		return
	}
	w.logger.Info().Int("glass_rates", len(snap.Glass)).Msg("snapshot file applied")
}
