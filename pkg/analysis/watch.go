package analysis

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce coalesces the burst of writes a capture tool makes while
// appending.
const DefaultDebounce = 500 * time.Millisecond

// Watcher re-runs a callback whenever a capture file is written.
type Watcher struct {
	path          string
	watcher       *fsnotify.Watcher
	debounceDelay time.Duration
	logger        zerolog.Logger

	mu            sync.Mutex
	debounceTimer *time.Timer
}

// NewWatcher watches path. A non-positive debounce uses DefaultDebounce.
func NewWatcher(path string, debounce time.Duration, logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		path:          path,
		watcher:       fw,
		debounceDelay: debounce,
		logger:        logger.With().Str("component", "analysis.watcher").Logger(),
	}, nil
}

// Run blocks until ctx ends, calling onChange after each debounced write or
// create of the watched file. onChange never runs concurrently with itself
// and is not running once Run returns.
func (w *Watcher) Run(ctx context.Context, onChange func(context.Context)) error {
	// fsnotify watches directories reliably; files replaced by rename are not.
	dir := filepath.Dir(w.path)
	name := filepath.Base(w.path)
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Error().Err(err).Str("dir", dir).Msg("failed to watch capture directory")
		return err
	}
	w.logger.Info().Str("file", w.path).Dur("debounce", w.debounceDelay).Msg("watching capture")

	var (
		running sync.Mutex
		stopped bool
	)
	fire := func() {
		running.Lock()
		defer running.Unlock()
		if stopped || ctx.Err() != nil {
			return
		}
		onChange(ctx)
	}

	defer func() {
		w.stopTimer()
		// Wait out a callback the timer already started.
		running.Lock()
		stopped = true
		running.Unlock()
		if err := w.watcher.Close(); err != nil {
			w.logger.Warn().Err(err).Msg("error closing watcher")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.logger.Debug().Str("op", event.Op.String()).Str("file", event.Name).Msg("capture changed")
				w.schedule(fire)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("file watcher error")
		}
	}
}

func (w *Watcher) schedule(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, fn)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
}
