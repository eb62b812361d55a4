package phase

import (
	"bytes"
	"context"
	"os"
	"strconv"
	"time"

	"github.com/Iron-Ham/conductor/internal/exitcode"
	"github.com/Iron-Ham/conductor/internal/invoke"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/manifest"
	"github.com/Iron-Ham/conductor/internal/pipeline"
)

// Request is everything a phase's orchestrator needs.
type Request struct {
	Phase pipeline.Phase
	Ref   pipeline.Ref
	// RunID is unique per attempt.
	RunID      string
	SessionDir string
	TraceID    string
	Topic      string
	Notes      []string
	// WorkDir is where the phase's workers run. Empty inherits the
	// child's working directory.
	WorkDir string
	Depth   int
	Timeout time.Duration
}

// Runner executes one phase attempt.
type Runner interface {
	RunPhase(ctx context.Context, req Request) (exitcode.Code, *manifest.Manifest)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, req Request) (exitcode.Code, *manifest.Manifest)

func (f RunnerFunc) RunPhase(ctx context.Context, req Request) (exitcode.Code, *manifest.Manifest) {
	return f(ctx, req)
}

// SubprocessRunner runs each phase as a child conductor process. The child
// prints its manifest on stdout and reports its code through its exit
// status, so a hung phase can be killed without touching coordinator state.
type SubprocessRunner struct {
	// Executable is the conductor binary. Empty means the running binary.
	Executable string
	// ExtraArgs go before the subcommand, e.g. a --config flag.
	ExtraArgs []string
	Runner    invoke.Runner
	Environ   func() []string
	Logger    *logging.Logger
}

// NewSubprocessRunner returns a runner that re-executes the current binary.
func NewSubprocessRunner(logger *logging.Logger) *SubprocessRunner {
	return &SubprocessRunner{
		Runner:  invoke.NewExecRunner(),
		Environ: os.Environ,
		Logger:  logging.OrNop(logger),
	}
}

// Args builds the child command line for req.
func Args(req Request) []string {
	var args []string
	switch req.Ref.Kind {
	case pipeline.KindStage:
		args = []string{"stage", req.Ref.Name, "--target", req.Phase.Target}
	case pipeline.KindFanout:
		args = []string{"fanout", req.Ref.Name}
	}
	args = append(args,
		"--session", req.SessionDir,
		"--run-id", req.RunID,
		"--depth", strconv.Itoa(req.Depth),
	)
	if req.Topic != "" {
		args = append(args, "--topic", req.Topic)
	}
	if req.Phase.Modifier != "" {
		args = append(args, "--modifier", req.Phase.Modifier)
	}
	for _, n := range req.Notes {
		args = append(args, "--note", n)
	}
	if req.WorkDir != "" {
		args = append(args, "--workdir", req.WorkDir)
	}
	return args
}

// RunPhase starts the child and maps its outcome.
func (r *SubprocessRunner) RunPhase(ctx context.Context, req Request) (exitcode.Code, *manifest.Manifest) {
	log := logging.OrNop(r.Logger).WithPhase(req.Phase.Name)
	exe := r.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			log.Error("cannot locate conductor binary", "error", err)
			return exitcode.Failure, nil
		}
	}
	environ := r.Environ
	if environ == nil {
		environ = os.Environ
	}
	runner := r.Runner
	if runner == nil {
		runner = invoke.NewExecRunner()
	}

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := invoke.Command{
		Path: exe,
		Args: append(append([]string(nil), r.ExtraArgs...), Args(req)...),
		// Orchestration layers are not a hop; only worker invocations
		// increment depth.
		Env: invoke.ChildEnv(environ(), req.Depth, req.TraceID),
	}
	out, err := runner.Run(runCtx, cmd)
	switch {
	case ctx.Err() != nil:
		return exitcode.FromContext(ctx.Err()), nil
	case runCtx.Err() != nil:
		log.Warn("phase timed out", "timeout", req.Timeout)
		return exitcode.Timeout, nil
	case err != nil:
		log.Error("phase process failed to start", "error", err)
		return exitcode.Failure, nil
	}

	code := exitcode.FromExitStatus(out.ExitStatus)
	m, perr := manifest.Parse(bytes.TrimSpace(out.Stdout))
	if perr != nil {
		if len(bytes.TrimSpace(out.Stdout)) > 0 {
			log.Warn("unparseable phase manifest", "error", perr)
		}
		return code, nil
	}
	if m.Summary.Code.Valid() && m.Summary.Code != code {
		log.Warn("phase manifest disagrees with exit status",
			"manifest_code", m.Summary.Code, "exit_code", code)
	}
	return code, m
}
