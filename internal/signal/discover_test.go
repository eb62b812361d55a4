package signal

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/logging"
)

func TestStoreQueries(t *testing.T) {
	dir := newSession(t)
	store := NewStore(dir, nil)

	for _, p := range []Params{
		{Layer: "research-round-1", Name: "security", Status: StatusSuccess, Artifact: "/a", Size: 10},
		{Layer: "research-round-1", Name: "perf", Status: StatusSuccess, Artifact: "/b", Size: 32},
		{Layer: "research-round-1", Name: "ux", Status: StatusFail, Error: "timeout"},
		{Layer: "stage", Name: "lint", Status: StatusSuccess, Artifact: "/c", Size: 100},
	} {
		_, err := store.Write(p)
		require.NoError(t, err)
	}

	n, err := store.Count("research-round-1-*.done")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	done, failed, err := store.Counts("research-round-1-*")
	require.NoError(t, err)
	assert.Equal(t, 2, done)
	assert.Equal(t, 1, failed)

	all, err := store.Count("")
	require.NoError(t, err)
	assert.Equal(t, 4, all)

	failures, err := store.ListFailures()
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "research-round-1-ux", failures[0].Signal)
	assert.Equal(t, "timeout", failures[0].Error)

	size, err := store.TotalSize()
	require.NoError(t, err)
	assert.Equal(t, int64(142), size)

	_, err = store.Count("[")
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestDiscoverFallback(t *testing.T) {
	dir := newSession(t)
	var buf bytes.Buffer
	store := NewStore(dir, logging.NewWriterLogger(&buf, "debug"))

	_, err := store.Write(Params{Layer: "w", Name: "good", Status: StatusSuccess})
	require.NoError(t, err)

	stray := filepath.Join(dir, "research", "round-1", "w-stray.done")
	require.NoError(t, os.MkdirAll(filepath.Dir(stray), 0755))
	require.NoError(t, os.WriteFile(stray, []byte("path: /x\nsize: 1\nstatus: success\ncreated_at: 2026-01-01T00:00:00Z\n"), 0644))

	// Bookkeeping directories are never scanned.
	ignored := filepath.Join(dir, ".circuits", "w-ignored.done")
	require.NoError(t, os.WriteFile(ignored, []byte("junk"), 0644))

	paths, err := store.Discover()
	require.NoError(t, err)
	assert.Len(t, paths, 2)
	assert.Contains(t, paths, stray)
	assert.NotContains(t, paths, ignored)
	assert.Contains(t, buf.String(), "outside preferred location")
}

func TestListSkipsMalformedDone(t *testing.T) {
	dir := newSession(t)
	store := NewStore(dir, nil)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".signals", "w-bad.done"), []byte("oops"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".signals", "w-bad2.fail"), []byte("oops"), 0644))

	sigs, err := store.List("")
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, "w-bad2", sigs[0].Name)
	assert.True(t, sigs[0].Failed())

	// Counting is by name only, so the malformed success still counts.
	n, err := store.Count("*.done")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWaiter(t *testing.T) {
	dir := newSession(t)
	store := NewStore(dir, nil)

	go func() {
		for _, name := range []string{"a", "b", "c"} {
			time.Sleep(20 * time.Millisecond)
			status := StatusSuccess
			if name == "c" {
				status = StatusFail
			}
			_, _ = store.Write(Params{Layer: "fan", Name: name, Status: status})
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w := &Waiter{Store: store, Pattern: "fan-*", Expected: 3, PollInterval: 10 * time.Millisecond}
	res, err := w.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, res.Complete())
	assert.Equal(t, 2, res.Done)
	assert.Equal(t, 1, res.Failed)
}

func TestWaiterDeadline(t *testing.T) {
	dir := newSession(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	w := &Waiter{Store: NewStore(dir, nil), Pattern: "never-*", Expected: 1, PollInterval: 10 * time.Millisecond}
	res, err := w.Wait(ctx)
	assert.ErrorIs(t, err, errors.ErrTimeout)
	assert.False(t, res.Complete())
}

func TestWaiterCanceled(t *testing.T) {
	dir := newSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := &Waiter{Store: NewStore(dir, nil), Pattern: "never-*", Expected: 1}
	_, err := w.Wait(ctx)
	assert.ErrorIs(t, err, errors.ErrCanceled)
}

// Watch errors must not stall the waiter: they are logged, the channel is
// drained, and create events after them still wake it.
func TestWaiterDrainsWatchErrors(t *testing.T) {
	dir := newSession(t)
	var buf bytes.Buffer
	store := NewStore(dir, logging.NewWriterLogger(&buf, "debug"))

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		errs <- errors.New("queue overflow")
	}
	close(errs)
	events := make(chan fsnotify.Event, 1)

	go func() {
		time.Sleep(20 * time.Millisecond)
		path, err := store.Write(Params{Layer: "fan", Name: "a", Status: StatusSuccess})
		if err == nil {
			events <- fsnotify.Event{Name: path, Op: fsnotify.Create}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w := &Waiter{Store: store, Pattern: "fan-*", Expected: 1}
	res, err := w.wait(ctx, time.Hour, events, errs)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Done)
	assert.Empty(t, errs)
	assert.Contains(t, buf.String(), "queue overflow")
}
