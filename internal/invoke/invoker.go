package invoke

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Iron-Ham/conductor/internal/circuit"
	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/event"
	"github.com/Iron-Ham/conductor/internal/exitcode"
	"github.com/Iron-Ham/conductor/internal/logging"
)

// DefaultMaxDepth is used when neither the Invoker nor the Request sets one.
const DefaultMaxDepth = 5

// Result is the outcome of one invocation. Code is the only field callers
// branch on; the rest is for recording.
type Result struct {
	Code exitcode.Code
	// Output is stdout in text mode, or the document's result field in
	// JSON mode.
	Output string
	// Structured is set in JSON mode when stdout parsed.
	Structured *Structured
	// Artifact is the file holding the raw JSON document.
	Artifact   string
	Model      string
	Depth      int
	ExitStatus int
	Stderr     string
	Duration   time.Duration
	Err        error
}

// Config configures an Invoker.
type Config struct {
	Command      string
	ExtraArgs    []string
	Models       ModelResolver
	AllowedTools []string
	MaxDepth     int
	// Timeout applies when a Request has none.
	Timeout time.Duration
	// ArtifactDir receives structured output files. Empty means the system
	// temp directory.
	ArtifactDir string
	TraceID     string
}

// Invoker runs worker processes.
type Invoker struct {
	cfg     Config
	runner  Runner
	breaker *circuit.Breaker
	bus     *event.Bus
	logger  *logging.Logger
	environ func() []string
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option { return func(i *Invoker) { i.runner = r } }

// WithBreaker gates invocations that name an agent type.
func WithBreaker(b *circuit.Breaker) Option { return func(i *Invoker) { i.breaker = b } }

// WithBus publishes invocation events.
func WithBus(b *event.Bus) Option { return func(i *Invoker) { i.bus = b } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(i *Invoker) { i.logger = l } }

// WithEnviron overrides the base environment passed to workers.
func WithEnviron(fn func() []string) Option { return func(i *Invoker) { i.environ = fn } }

// New creates an Invoker.
func New(cfg Config, opts ...Option) *Invoker {
	if cfg.Command == "" {
		cfg.Command = "claude"
	}
	if cfg.Models == nil {
		cfg.Models = DefaultModels()
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	i := &Invoker{
		cfg:     cfg,
		runner:  NewExecRunner(),
		environ: os.Environ,
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = logging.OrNop(i.logger).WithLayer("invoke")
	return i
}

// MaxDepth returns the configured depth limit.
func (i *Invoker) MaxDepth() int {
	return i.cfg.MaxDepth
}

// Invoke runs one worker for req. It never panics on worker misbehavior;
// every outcome is expressed as a Code.
func (i *Invoker) Invoke(ctx context.Context, req Request) Result {
	start := time.Now()
	depth := ResolveDepth(ctx, req.Depth)
	maxDepth := req.MaxDepth
	if maxDepth <= 0 {
		maxDepth = i.cfg.MaxDepth
	}
	res := Result{Depth: depth, ExitStatus: -1}
	log := i.logger.With("depth", depth, "agent_type", req.AgentType)

	if depth >= maxDepth {
		log.Warn("depth limit reached", "max_depth", maxDepth)
		res.Code = exitcode.DepthExceeded
		res.Err = errors.NewInvocationError(fmt.Sprintf("depth %d >= max %d", depth, maxDepth), errors.ErrDepthExceeded).
			WithAgentType(req.AgentType).WithDepth(depth).WithRetryable(false)
		return res
	}

	model, err := i.cfg.Models.Resolve(req.Tier)
	if err != nil {
		res.Code = exitcode.Failure
		res.Err = errors.NewInvocationError("resolve model", err).WithRetryable(false)
		return res
	}
	res.Model = model

	if i.breaker != nil && req.AgentType != "" {
		if err := i.breaker.Check(ctx, req.AgentType); err != nil {
			var cerr *errors.CircuitError
			if errors.As(err, &cerr) {
				i.bus.Publish(event.NewCircuitDeniedEvent(req.AgentType, cerr.RetryAfter))
				log.Warn("circuit open, invocation denied", "retry_after", cerr.RetryAfter)
				res.Code = exitcode.Failure
				res.Err = err
				return res
			}
			// Breaker storage problems must not block work.
			log.Warn("circuit check failed", "error", err)
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = i.cfg.Timeout
	}
	runCtx := WithDepth(ctx, depth+1)
	var cancel context.CancelFunc = func() {}
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
	}
	defer cancel()

	var promptFile string
	if req.SystemPrompt != "" {
		promptFile, err = i.writeTemp("system-*.md", []byte(req.SystemPrompt))
		if err != nil {
			res.Code = exitcode.Failure
			res.Err = errors.NewInvocationError("write system prompt", err)
			return res
		}
		defer os.Remove(promptFile)
	}

	cmd := Command{
		Path: i.cfg.Command,
		Args: i.args(req, model, promptFile),
		Dir:  req.WorkDir,
		Env:  ChildEnv(i.environ(), depth+1, i.cfg.TraceID),
	}

	i.bus.Publish(event.NewInvocationStartedEvent(req.AgentType, model, depth))
	log.Info("invoking worker", "model", model, "format", req.Format, "workdir", req.WorkDir)

	out, runErr := i.runner.Run(runCtx, cmd)
	res.Duration = time.Since(start)
	res.ExitStatus = out.ExitStatus
	res.Stderr = strings.TrimSpace(string(out.Stderr))

	switch {
	case ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Code = exitcode.Interrupted
		res.Err = errors.Wrap(errors.ErrCanceled, "worker interrupted")
	case runCtx.Err() != nil:
		// Either this invocation's timeout or an inherited deadline fired.
		res.Code = exitcode.Timeout
		res.Err = errors.Wrap(errors.ErrTimeout, "worker deadline exceeded")
	case runErr != nil:
		res.Code = exitcode.Failure
		res.Err = runErr
	default:
		i.interpret(&res, req, out, log)
	}

	i.record(ctx, req.AgentType, res.Code, log)
	i.bus.Publish(event.NewInvocationFinishedEvent(req.AgentType, res.Code, res.Duration))
	log.Info("worker finished",
		"code", res.Code,
		"exit_status", res.ExitStatus,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res
}

// interpret maps a completed process to a code.
func (i *Invoker) interpret(res *Result, req Request, out Output, log *logging.Logger) {
	if out.ExitStatus != 0 {
		// A nested conductor reports non-absorbable outcomes through its
		// exit status; anything else is a plain failure.
		code := exitcode.FromExitStatus(out.ExitStatus)
		if !code.IsNonAbsorbable() {
			code = exitcode.Failure
		}
		res.Code = code
		res.Output = string(out.Stdout)
		res.Err = errors.NewInvocationError("worker exited non-zero", errors.ErrWorkerFailed).
			WithAgentType(req.AgentType).WithModel(res.Model).WithDepth(res.Depth).WithExitCode(out.ExitStatus)
		return
	}

	if req.Format != FormatJSON {
		res.Code = exitcode.Success
		res.Output = string(out.Stdout)
		return
	}

	path, err := i.writeTemp("result-*.json", out.Stdout)
	if err != nil {
		log.Warn("failed to persist structured output", "error", err)
	}
	res.Artifact = path

	doc, err := parseStructured(out.Stdout)
	if err != nil {
		log.Warn("unparseable structured output", "error", err, "artifact", path)
		res.Code = exitcode.Failure
		res.Output = string(out.Stdout)
		res.Err = errors.NewInvocationError("parse worker output", err).WithAgentType(req.AgentType)
		return
	}
	res.Structured = doc
	res.Output = doc.Result
	res.Code = doc.code()
	if res.Code == exitcode.Failure && doc.Error != "" {
		res.Err = errors.NewInvocationError(doc.Error, errors.ErrWorkerFailed).WithAgentType(req.AgentType)
	}
}

func (i *Invoker) writeTemp(pattern string, data []byte) (string, error) {
	dir := i.cfg.ArtifactDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return "", err
	}
	return filepath.Clean(f.Name()), nil
}

// record feeds the breaker. Interruptions and depth refusals say nothing
// about the agent's health and are not recorded.
func (i *Invoker) record(ctx context.Context, agentType string, code exitcode.Code, log *logging.Logger) {
	if i.breaker == nil || agentType == "" {
		return
	}
	// The caller's context may already be canceled; the update is short.
	ctx = context.WithoutCancel(ctx)
	var err error
	switch code {
	case exitcode.Success, exitcode.PartialSuccess:
		err = i.breaker.RecordSuccess(ctx, agentType)
	case exitcode.Failure, exitcode.Timeout:
		err = i.breaker.RecordFailure(ctx, agentType)
	}
	if err != nil {
		log.Warn("failed to record circuit outcome", "error", err)
	}
}

func (i *Invoker) args(req Request, model, systemPromptFile string) []string {
	args := []string{"-p", req.Prompt, "--model", model}
	if systemPromptFile != "" {
		args = append(args, "--system-prompt-file", systemPromptFile)
	}
	tools := req.AllowedTools
	if len(tools) == 0 {
		tools = i.cfg.AllowedTools
	}
	if len(tools) > 0 {
		args = append(args, "--allowedTools", strings.Join(tools, ","))
	}
	if req.Format == FormatJSON {
		args = append(args, "--output-format", "json")
	}
	return append(args, i.cfg.ExtraArgs...)
}
