// Package filelock provides cross-process mutual exclusion over a single
// lock file using flock(2).
//
// Locks are advisory and scoped to one path, so two keys never contend with
// each other. A lock is meant to be held only for a read-modify-write of a
// small state file, never across a worker invocation.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultRetryInterval is how often LockContext retries a contended lock.
const DefaultRetryInterval = 10 * time.Millisecond

// FileLock is an exclusive lock on one lock file. The zero value is not
// usable; create one with New.
type FileLock struct {
	path string
	file *os.File
}

// New creates a FileLock for path. The file and its parent directory are
// created on first Lock.
func New(path string) *FileLock {
	return &FileLock{path: path}
}

// Path returns the lock file path.
func (fl *FileLock) Path() string {
	return fl.path
}

func (fl *FileLock) open() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(fl.path), 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return f, nil
}

// Lock acquires the lock, blocking until it is available.
func (fl *FileLock) Lock() error {
	f, err := fl.open()
	if err != nil {
		return err
	}
	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("flock: %w", err)
	}
	fl.file = f
	return nil
}

// TryLock attempts to acquire the lock without blocking. It returns false
// when another holder owns the lock.
func (fl *FileLock) TryLock() (bool, error) {
	f, err := fl.open()
	if err != nil {
		return false, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return false, nil
		}
		return false, fmt.Errorf("flock: %w", err)
	}
	fl.file = f
	return true, nil
}

// LockContext retries TryLock until it succeeds or ctx is done.
func (fl *FileLock) LockContext(ctx context.Context) error {
	ticker := time.NewTicker(DefaultRetryInterval)
	defer ticker.Stop()
	for {
		ok, err := fl.TryLock()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("acquire %s: %w", fl.path, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Unlock releases the lock and closes the lock file. Unlocking an unheld
// lock is a no-op.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	f := fl.file
	fl.file = nil
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		_ = f.Close()
		return fmt.Errorf("funlock: %w", err)
	}
	return f.Close()
}

// With runs fn while holding an exclusive lock on path.
func With(ctx context.Context, path string, fn func() error) error {
	fl := New(path)
	if err := fl.LockContext(ctx); err != nil {
		return err
	}
	defer func() { _ = fl.Unlock() }()
	return fn()
}
