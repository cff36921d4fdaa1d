package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of file events.
const DefaultDebounce = 100 * time.Millisecond

// AccountWatcher reports changes of the current account.
type AccountWatcher struct {
	store    *AccountStore
	logger   *slog.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher
}

// NewAccountWatcher watches the directory holding the store's file. The
// directory is created if missing so the file may appear later.
func NewAccountWatcher(store *AccountStore, logger *slog.Logger) (*AccountWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(store.Path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	return &AccountWatcher{
		store:    store,
		logger:   logger,
		debounce: DefaultDebounce,
		watcher:  w,
	}, nil
}

// SetDebounce sets the quiet period before a change is reported. Must be
// called before Run.
func (w *AccountWatcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run reports the current account to fn whenever it differs from the last
// one seen, until ctx is done or the watcher is closed. baseline is the
// account the caller already applied. A nil account means none is selected.
func (w *AccountWatcher) Run(ctx context.Context, baseline *StoredAccount, fn func(*StoredAccount)) error {
	last := baseline

	name := filepath.Base(w.store.Path())
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerCh = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("persistence: watcher error", slog.Any("error", err))

		case <-timerCh:
			timerCh = nil
			current, err := w.store.Current()
			if err != nil {
				w.logger.Warn("persistence: reading account file", slog.Any("error", err))
				continue
			}
			if sameAccount(last, current) {
				continue
			}
			last = current
			w.logger.Info("persistence: current account changed")
			fn(current)
		}
	}
}

// Close stops watching.
func (w *AccountWatcher) Close() error {
	return w.watcher.Close()
}

func sameAccount(a, b *StoredAccount) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
