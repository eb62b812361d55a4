package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/conductor/internal/errors"
)

func TestAcquireLock(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, "campaign", nil)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), lock.PID)

	_, err = AcquireLock(dir, "campaign", nil)
	assert.ErrorIs(t, err, errors.ErrSessionLocked)

	held, locked := IsLocked(dir)
	assert.True(t, locked)
	assert.Equal(t, "campaign", held.Command)

	require.NoError(t, lock.Release())
	require.NoError(t, lock.Release())
	_, locked = IsLocked(dir)
	assert.False(t, locked)
}

func TestAcquireLockRemovesStale(t *testing.T) {
	dir := t.TempDir()
	// PIDs above the kernel maximum never exist.
	stale, err := json.Marshal(Lock{PID: 1 << 30, Hostname: "gone"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, LockFileName), stale, 0644))

	_, locked := IsLocked(dir)
	assert.False(t, locked)

	lock, err := AcquireLock(dir, "campaign", nil)
	require.NoError(t, err)
	defer lock.Release()
	assert.Equal(t, os.Getpid(), lock.PID)
}

func TestReleaseLeavesForeignLock(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir, "", nil)
	require.NoError(t, err)

	other, err := json.Marshal(Lock{PID: lock.PID + 1, Hostname: "elsewhere"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, LockFileName), other, 0644))

	require.NoError(t, lock.Release())
	_, err = os.Stat(filepath.Join(dir, LockFileName))
	assert.NoError(t, err)
}
