package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/logging"
)

// LockFileName is the name of the lock file within a session directory.
const LockFileName = ".session.lock"

// Lock is held by the process driving a session's campaign.
type Lock struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	Command   string    `json:"command,omitempty"`
	StartedAt time.Time `json:"started_at"`

	path   string
	logger *logging.Logger
}

// AcquireLock takes the session lock. A lock whose owning process has died
// is removed first. Returns ErrSessionLocked when a live process holds it.
func AcquireLock(sessionDir, command string, logger *logging.Logger) (*Lock, error) {
	logger = logging.OrNop(logger)
	path := filepath.Join(sessionDir, LockFileName)

	if existing, err := ReadLock(path); err == nil {
		if isProcessAlive(existing.PID) {
			return nil, fmt.Errorf("%w: PID %d on %s", errors.ErrSessionLocked, existing.PID, existing.Hostname)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
		logger.Warn("stale session lock removed", "old_pid", existing.PID)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	lock := &Lock{
		PID:       os.Getpid(),
		Hostname:  hostname,
		Command:   command,
		StartedAt: time.Now().UTC(),
		path:      path,
		logger:    logger,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal lock: %w", err)
	}

	// O_EXCL settles races between two processes that both saw no lock.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			if existing, rerr := ReadLock(path); rerr == nil {
				return nil, fmt.Errorf("%w: PID %d on %s", errors.ErrSessionLocked, existing.PID, existing.Hostname)
			}
			return nil, errors.ErrSessionLocked
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write lock file: %w", err)
	}

	logger.Debug("session lock acquired", "pid", lock.PID, "command", command)
	return lock, nil
}

// Release removes the lock file if this process still owns it. Safe to call
// more than once.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	existing, err := ReadLock(l.path)
	if err != nil || existing.PID != l.PID {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	logging.OrNop(l.logger).Debug("session lock released", "pid", l.PID)
	return nil
}

// ReadLock reads a lock file.
func ReadLock(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parse lock file: %w", err)
	}
	lock.path = path
	return &lock, nil
}

// IsLocked reports whether a live process holds the session lock.
func IsLocked(sessionDir string) (*Lock, bool) {
	lock, err := ReadLock(filepath.Join(sessionDir, LockFileName))
	if err != nil {
		return nil, false
	}
	return lock, isProcessAlive(lock.PID)
}

// isProcessAlive probes pid with signal 0.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
