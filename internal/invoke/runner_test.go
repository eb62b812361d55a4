package invoke

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/testutil"
)

func TestExecRunner(t *testing.T) {
	testutil.SkipIfNoShell(t)
	r := NewExecRunner()
	dir := t.TempDir()

	out, err := r.Run(context.Background(), Command{
		Path: "/bin/sh",
		Args: []string{"-c", `echo "depth=$CONDUCTOR_DEPTH"; pwd; echo err >&2; exit 3`},
		Dir:  dir,
		Env:  []string{"CONDUCTOR_DEPTH=4"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out.ExitStatus)
	resolved, _ := filepath.EvalSymlinks(dir)
	assert.Contains(t, string(out.Stdout), "depth=4")
	assert.Contains(t, string(out.Stdout), resolved)
	assert.Equal(t, "err\n", string(out.Stderr))
}

func TestExecRunnerNotFound(t *testing.T) {
	_, err := NewExecRunner().Run(context.Background(), Command{Path: "conductor-no-such-binary"})
	assert.ErrorIs(t, err, errors.ErrWorkerNotFound)
}

// A worker that forks a long-lived grandchild must still be torn down when
// the deadline passes.
func TestExecRunnerKillsProcessGroup(t *testing.T) {
	testutil.SkipIfNoShell(t)
	r := &ExecRunner{KillGrace: 100 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	out, err := r.Run(ctx, Command{
		Path: "/bin/sh",
		Args: []string{"-c", "sleep 30 & sleep 30; wait"},
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.NotZero(t, out.ExitStatus)
}
