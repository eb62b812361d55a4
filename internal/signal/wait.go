package signal

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/session"
)

// DefaultPollInterval is used when a Waiter has no interval set.
const DefaultPollInterval = 2 * time.Second

// WaitResult reports the counts observed when waiting stopped.
type WaitResult struct {
	Done     int
	Failed   int
	Expected int
}

// Complete reports whether enough signals arrived.
func (r WaitResult) Complete() bool {
	return r.Done+r.Failed >= r.Expected
}

// Waiter blocks until a number of signals matching a name pattern exist.
type Waiter struct {
	Store *Store
	// Pattern is a glob over signal names without suffix.
	Pattern  string
	Expected int
	// PollInterval bounds the time between counts. A filesystem watch on
	// the signals directory wakes the waiter early when available.
	PollInterval time.Duration
}

// Wait polls until done+failed reaches Expected or ctx ends. Cancellation
// is checked on every iteration. On ctx expiry it returns the last counts
// with ErrTimeout (deadline) or ErrCanceled.
func (w *Waiter) Wait(ctx context.Context) (WaitResult, error) {
	interval := w.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	dir := filepath.Join(w.Store.Dir(), session.DirSignals)
	if err := os.MkdirAll(dir, 0755); err == nil {
		if watcher, err := fsnotify.NewWatcher(); err == nil {
			defer watcher.Close()
			if err := watcher.Add(dir); err == nil {
				events, errs = watcher.Events, watcher.Errors
			}
		}
	}
	return w.wait(ctx, interval, events, errs)
}

// wait counts on every tick or create event. Watch errors are logged and
// drained so the watcher keeps delivering events.
func (w *Waiter) wait(ctx context.Context, interval time.Duration, events <-chan fsnotify.Event, errs <-chan error) (WaitResult, error) {
	res := WaitResult{Expected: w.Expected}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return res, ctxError(err)
		}
		done, failed, err := w.Store.Counts(w.Pattern)
		if err != nil {
			return res, err
		}
		res.Done, res.Failed = done, failed
		if res.Complete() {
			return res, nil
		}

		select {
		case <-ctx.Done():
			return res, ctxError(ctx.Err())
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.Store.logger.Warn("signal watch error", "error", err)
		case <-ticker.C:
		}
	}
}

func ctxError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(errors.ErrTimeout, "waiting for signals")
	}
	return errors.Wrap(errors.ErrCanceled, "waiting for signals")
}
