// Package stage runs a pipeline's stages in order for one target.
//
// Each stage is one worker invocation. A plain failure is retried up to the
// stage's retry count, strictly sequentially. A required stage that is still
// failing after its retries ends the run with failure; an optional stage's
// failure is recorded and tolerated. A non-absorbable code from any stage
// aborts the run and is returned unchanged.
package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/event"
	"github.com/Iron-Ham/conductor/internal/exitcode"
	"github.com/Iron-Ham/conductor/internal/invoke"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/manifest"
	"github.com/Iron-Ham/conductor/internal/orchestrator/prompt"
	"github.com/Iron-Ham/conductor/internal/orchestrator/retry"
	"github.com/Iron-Ham/conductor/internal/pipeline"
	"github.com/Iron-Ham/conductor/internal/session"
	"github.com/Iron-Ham/conductor/internal/signal"
	"github.com/Iron-Ham/conductor/internal/util"
)

// Layer is the signal layer name for stage outcomes.
const Layer = "stage"

// Invoker runs one worker. *invoke.Invoker satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, req invoke.Request) invoke.Result
}

// Run describes one execution of a pipeline.
type Run struct {
	Pipeline *pipeline.Pipeline
	// Target is the document or path the stages work on.
	Target string
	Topic  string
	// Modifier is appended to every stage's instructions.
	Modifier string
	// Notes are extra context documents, e.g. heal feedback.
	Notes []string
	// RunID keeps artifacts and signals of separate runs apart. Empty
	// means a generated id.
	RunID   string
	WorkDir string
	// Depth is the caller's depth, or invoke.DepthUnset.
	Depth int
}

// Defaults apply to stages that leave a field unset.
type Defaults struct {
	Retries int
	Timeout time.Duration
	Tier    string
}

// Orchestrator executes stage pipelines.
type Orchestrator struct {
	invoker  Invoker
	session  *session.Session
	defaults Defaults
	bus      *event.Bus
	logger   *logging.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDefaults sets stage defaults.
func WithDefaults(d Defaults) Option { return func(o *Orchestrator) { o.defaults = d } }

// WithBus publishes stage events.
func WithBus(b *event.Bus) Option { return func(o *Orchestrator) { o.bus = b } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// New creates an Orchestrator writing artifacts and signals into sess.
func New(inv Invoker, sess *session.Session, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		invoker:  inv,
		session:  sess,
		defaults: Defaults{Retries: 1, Tier: string(invoke.TierMedium)},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.OrNop(o.logger).WithLayer(Layer)
	return o
}

// Run executes every stage of r.Pipeline in declared order. The manifest
// is always non-nil and finished with the returned code.
func (o *Orchestrator) Run(ctx context.Context, r Run) (exitcode.Code, *manifest.Manifest) {
	m := manifest.New(manifest.KindStages)
	m.TraceID = o.session.TraceID
	if r.Pipeline == nil || len(r.Pipeline.Stages) == 0 {
		o.logger.Error("pipeline has no stages")
		return exitcode.Failure, m.Finish(exitcode.Failure)
	}
	if r.RunID == "" {
		r.RunID = uuid.NewString()[:8]
	}
	log := o.logger.With("pipeline", r.Pipeline.Name, "run_id", r.RunID)
	log.Info("pipeline started", "stages", len(r.Pipeline.Stages), "target", r.Target)

	attempts := retry.NewManager()
	var (
		passed  int
		partial bool
		inputs  []string
	)
	for _, st := range r.Pipeline.Stages {
		if err := ctx.Err(); err != nil {
			code := exitcode.FromContext(err)
			log.Warn("pipeline stopped", "code", code)
			return code, m.Finish(code)
		}

		code, res := o.runStage(ctx, r, st, inputs, attempts)
		state := attempts.State(st.Name)
		required := st.IsRequired()
		entry := manifest.Entry{
			Name:     st.Name,
			Attempts: state.Attempts,
			Required: &required,
		}
		if res.Err != nil && !code.IsSuccess() {
			entry.Error = res.Err.Error()
		}
		if code.IsSuccess() {
			entry.Artifact = res.Artifact
		}
		m.Add(entry, code)
		o.bus.Publish(event.NewStageFinishedEvent(r.Pipeline.Name, st.Name, code, state.Attempts))
		o.signal(r, st.Name, code, entry, log)

		switch {
		case code.IsNonAbsorbable():
			log.Warn("stage aborted pipeline", "stage", st.Name, "code", code)
			return code, m.Finish(code)
		case code.IsSuccess():
			passed++
			partial = partial || code == exitcode.PartialSuccess
			if entry.Artifact != "" {
				inputs = append(inputs, entry.Artifact)
			}
		case required:
			log.Warn("required stage failed", "stage", st.Name, "code", code, "attempts", state.Attempts)
			return exitcode.Failure, m.Finish(exitcode.Failure)
		default:
			log.Info("optional stage failed, continuing", "stage", st.Name, "code", code)
		}
	}

	code := aggregate(passed, partial)
	log.Info("pipeline finished", "code", code, "passed", passed, "total", len(r.Pipeline.Stages))
	return code, m.Finish(code)
}

// aggregate computes the final code once every stage has run. Required
// failures never reach here, and tolerated optional failures do not count
// against the run.
func aggregate(passed int, partial bool) exitcode.Code {
	switch {
	case passed == 0:
		return exitcode.Failure
	case partial:
		return exitcode.PartialSuccess
	default:
		return exitcode.Success
	}
}

type stageResult struct {
	Artifact string
	Err      error
}

func (o *Orchestrator) runStage(ctx context.Context, r Run, st pipeline.Stage, inputs []string, attempts *retry.Manager) (exitcode.Code, stageResult) {
	log := o.logger.With("pipeline", r.Pipeline.Name, "stage", st.Name)
	artifact := filepath.Join(o.session.PhaseDir(r.RunID), util.Slug(st.Name)+".md")

	tier, err := invoke.ParseTier(firstNonEmpty(st.Tier, o.defaults.Tier))
	if err != nil {
		attempts.Begin(st.Name, 0)
		attempts.Record(st.Name, exitcode.Failure, err.Error())
		return exitcode.Failure, stageResult{Err: err}
	}

	instructions := st.Instructions
	if r.Modifier != "" {
		instructions = joinNonEmpty(instructions, r.Modifier)
	}
	text, err := prompt.Build(&prompt.Context{
		Kind:         prompt.KindStage,
		Topic:        r.Topic,
		Name:         st.Name,
		Target:       r.Target,
		Instructions: instructions,
		Inputs:       inputs,
		Notes:        r.Notes,
		ArtifactPath: artifact,
	})
	if err != nil {
		attempts.Begin(st.Name, 0)
		attempts.Record(st.Name, exitcode.Failure, err.Error())
		return exitcode.Failure, stageResult{Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(artifact), 0755); err != nil {
		log.Warn("failed to create stage directory", "error", err)
	}

	req := invoke.NewRequest(text)
	req.Tier = tier
	req.WorkDir = r.WorkDir
	req.Depth = r.Depth
	req.AgentType = firstNonEmpty(st.AgentType, Layer+"-"+st.Name)
	req.Timeout = st.Timeout
	if req.Timeout <= 0 {
		req.Timeout = o.defaults.Timeout
	}

	attempts.Begin(st.Name, st.RetryCount(o.defaults.Retries))
	for {
		res := o.invoker.Invoke(ctx, req)
		errMsg := ""
		if res.Err != nil {
			errMsg = res.Err.Error()
		}
		attempts.Record(st.Name, res.Code, errMsg)
		log.Info("stage attempt finished", "code", res.Code, "attempt", attempts.State(st.Name).Attempts)

		if res.Code.IsSuccess() {
			o.persistOutput(artifact, res, log)
			return res.Code, stageResult{Artifact: artifact}
		}
		if res.Err != nil && !errors.IsRetryable(res.Err) {
			log.Warn("stage failure is not retryable", "error", res.Err)
			return res.Code, stageResult{Err: res.Err}
		}
		if !attempts.ShouldRetry(st.Name) || ctx.Err() != nil {
			return res.Code, stageResult{Err: res.Err}
		}
		log.Info("retrying stage")
	}
}

// persistOutput keeps the worker's stdout as the artifact when the worker
// did not write the artifact itself.
func (o *Orchestrator) persistOutput(artifact string, res invoke.Result, log *logging.Logger) {
	if _, err := os.Stat(artifact); err == nil || res.Output == "" {
		return
	}
	if err := util.WriteFileAtomic(artifact, []byte(res.Output), 0644); err != nil {
		log.Warn("failed to persist stage output", "artifact", artifact, "error", err)
	}
}

func (o *Orchestrator) signal(r Run, stageName string, code exitcode.Code, e manifest.Entry, log *logging.Logger) {
	status := signal.StatusSuccess
	if !code.IsSuccess() {
		status = signal.StatusFail
	}
	errMsg := e.Error
	if status == signal.StatusFail && errMsg == "" {
		errMsg = string(code)
	}
	_, err := signal.Write(o.session.Dir, signal.Params{
		Layer:    Layer,
		Name:     r.RunID + "-" + stageName,
		Status:   status,
		Artifact: e.Artifact,
		Size:     -1,
		Error:    errMsg,
		TraceID:  o.session.TraceID,
	})
	if err != nil {
		log.Warn("failed to write stage signal", "stage", stageName, "error", err)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	return fmt.Sprintf("%s\n\n%s", a, b)
}
