package invoke

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/conductor/internal/errors"
)

// Command is a fully resolved worker process.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// Output is what a finished worker process produced.
type Output struct {
	Stdout     []byte
	Stderr     []byte
	ExitStatus int
	// Signaled is set when the process was killed by a signal.
	Signaled bool
}

// Runner executes a worker process and waits for it. A non-zero exit is
// reported in Output, not as an error; errors mean the process could not
// be run at all.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// ExecRunner runs workers as OS processes in their own process group.
type ExecRunner struct {
	// KillGrace is the time between SIGTERM and SIGKILL to the group.
	KillGrace time.Duration
}

// NewExecRunner returns an ExecRunner with a two second kill grace.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{KillGrace: 2 * time.Second}
}

// Run starts the command and waits. When ctx ends the process group gets
// SIGTERM, then SIGKILL after KillGrace.
func (r *ExecRunner) Run(ctx context.Context, c Command) (Output, error) {
	grace := r.KillGrace
	if grace <= 0 {
		grace = 2 * time.Second
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		pgid := cmd.Process.Pid
		_ = unix.Kill(-pgid, unix.SIGTERM)
		time.AfterFunc(grace, func() { _ = unix.Kill(-pgid, unix.SIGKILL) })
		return nil
	}
	// Grandchildren holding the pipes open must not block Wait forever.
	cmd.WaitDelay = grace + time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return Output{}, errors.NewInvocationError("start worker", errors.ErrWorkerNotFound).WithRetryable(false)
		}
		return Output{}, errors.NewInvocationError(fmt.Sprintf("start %s", c.Path), err)
	}

	err := cmd.Wait()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return out, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitStatus = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			out.Signaled = true
		}
		return out, nil
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		out.ExitStatus = -1
		out.Signaled = true
		return out, nil
	}
	return out, errors.NewInvocationError("wait for worker", err)
}
