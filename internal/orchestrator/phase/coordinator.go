package phase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/conductor/internal/checkpoint"
	"github.com/Iron-Ham/conductor/internal/event"
	"github.com/Iron-Ham/conductor/internal/exitcode"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/manifest"
	"github.com/Iron-Ham/conductor/internal/orchestrator/retry"
	"github.com/Iron-Ham/conductor/internal/pipeline"
	"github.com/Iron-Ham/conductor/internal/session"
	"github.com/Iron-Ham/conductor/internal/signal"
	"github.com/Iron-Ham/conductor/internal/util"
)

const (
	// Layer is the signal layer name for phase outcomes.
	Layer = "phase"

	// DefaultRetries is the number of extra attempts after a plain failure.
	DefaultRetries = 1

	// DefaultStateName labels checkpoints written outside a campaign.
	DefaultStateName = "PHASES"
)

// Run describes one pass over a phase list.
type Run struct {
	Phases []pipeline.Phase
	// Cycle distinguishes heal passes; resume only honors completion
	// signals from the same cycle.
	Cycle int
	Topic string
	// Notes are passed to every phase, e.g. the heal context.
	Notes   []string
	WorkDir string
	Depth   int
	// StateName labels checkpoints. Empty means DefaultStateName.
	StateName string
}

// Coordinator executes phase lists.
type Coordinator struct {
	runner   Runner
	session  *session.Session
	retries  int
	timeout  time.Duration
	maxDepth int
	bus      *event.Bus
	logger   *logging.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRetries overrides DefaultRetries.
func WithRetries(n int) Option { return func(c *Coordinator) { c.retries = n } }

// WithTimeout bounds each phase attempt.
func WithTimeout(d time.Duration) Option { return func(c *Coordinator) { c.timeout = d } }

// WithMaxDepth is recorded in checkpoints.
func WithMaxDepth(n int) Option { return func(c *Coordinator) { c.maxDepth = n } }

// WithBus publishes phase and checkpoint events.
func WithBus(b *event.Bus) Option { return func(c *Coordinator) { c.bus = b } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// New creates a Coordinator.
func New(runner Runner, sess *session.Session, opts ...Option) *Coordinator {
	c := &Coordinator{runner: runner, session: sess, retries: DefaultRetries}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger).WithLayer(Layer)
	return c
}

// SignalName returns the completion signal name of a phase in a cycle.
func SignalName(cycle int, phase string) string {
	return fmt.Sprintf("c%d-%s", cycle, phase)
}

// progress tracks phase names for checkpoints.
type progress struct {
	completed []string
	failed    []string
	pending   []string
}

func (p *progress) settle(name string, ok bool) {
	for i, n := range p.pending {
		if n == name {
			p.pending = append(p.pending[:i:i], p.pending[i+1:]...)
			break
		}
	}
	if ok {
		p.completed = append(p.completed, name)
	} else {
		p.failed = append(p.failed, name)
	}
}

func (p *progress) isCompleted(name string) bool {
	for _, n := range p.completed {
		if n == name {
			return true
		}
	}
	return false
}

// Run executes r.Phases in order. The manifest is always non-nil and
// finished with the returned code.
func (c *Coordinator) Run(ctx context.Context, r Run) (exitcode.Code, *manifest.Manifest) {
	m := manifest.New(manifest.KindPhases)
	m.TraceID = c.session.TraceID
	if err := pipeline.ValidatePhases(r.Phases); err != nil {
		c.logger.Error("invalid phase list", "error", err)
		return exitcode.Failure, m.Finish(exitcode.Failure)
	}
	if r.StateName == "" {
		r.StateName = DefaultStateName
	}
	log := c.logger.With("cycle", r.Cycle)
	log.Info("phases started", "phases", len(r.Phases))

	prog := &progress{}
	for _, p := range r.Phases {
		prog.pending = append(prog.pending, p.Name)
	}

	var passed, failed int
	partial := false
	for _, p := range r.Phases {
		if err := ctx.Err(); err != nil {
			code := exitcode.FromContext(err)
			log.Warn("phases stopped", "code", code)
			return code, m.Finish(code)
		}
		plog := log.WithPhase(p.Name)

		if sig := c.completedSignal(r.Cycle, p.Name); sig != nil {
			plog.Info("phase already completed, skipping")
			m.Add(manifest.Entry{Name: p.Name, Artifact: sig.Artifact}, exitcode.Success)
			prog.settle(p.Name, true)
			passed++
			continue
		}

		if missing := unmet(p.DependsOn, prog); len(missing) > 0 {
			plog.Warn("unmet dependencies, skipping phase", "missing", missing)
			m.Add(manifest.Entry{
				Name:   p.Name,
				Status: manifest.StatusSkipped,
				Error:  "unmet dependencies: " + strings.Join(missing, ", "),
			}, exitcode.Failure)
			prog.settle(p.Name, false)
			failed++
			c.bus.Publish(event.NewPhaseFinishedEvent(p.Name, exitcode.Failure, true))
			c.checkpoint(r, prog, plog)
			continue
		}

		code, entry := c.runPhase(ctx, r, p, prog, plog)
		m.Add(entry, code)
		c.bus.Publish(event.NewPhaseFinishedEvent(p.Name, code, false))

		switch {
		case code.IsNonAbsorbable():
			plog.Warn("phase aborted run", "code", code)
			return code, m.Finish(code)
		case code.IsSuccess():
			passed++
			partial = partial || code == exitcode.PartialSuccess
		default:
			failed++
		}
	}

	code := exitcode.Aggregate(passed+failed, failed)
	if code == exitcode.Success && partial {
		code = exitcode.PartialSuccess
	}
	log.Info("phases finished", "code", code, "passed", passed, "failed", failed)
	return code, m.Finish(code)
}

func (c *Coordinator) runPhase(ctx context.Context, r Run, p pipeline.Phase, prog *progress, log *logging.Logger) (exitcode.Code, manifest.Entry) {
	entry := manifest.Entry{Name: p.Name}
	ref, err := p.Ref()
	if err != nil {
		entry.Error = err.Error()
		prog.settle(p.Name, false)
		return exitcode.Failure, entry
	}

	attempts := retry.NewManager()
	attempts.Begin(p.Name, c.retries)
	for {
		runID := fmt.Sprintf("c%d-%s-%s", r.Cycle, util.Slug(p.Name), uuid.NewString()[:8])
		req := Request{
			Phase:      p,
			Ref:        ref,
			RunID:      runID,
			SessionDir: c.session.Dir,
			TraceID:    c.session.TraceID,
			Topic:      r.Topic,
			Notes:      r.Notes,
			WorkDir:    r.WorkDir,
			Depth:      r.Depth,
			Timeout:    c.timeout,
		}
		log.Info("phase attempt started", "orchestrator", ref.String(), "run_id", runID)
		code, child := c.runner.RunPhase(ctx, req)
		errMsg := childError(child)
		attempts.Record(p.Name, code, errMsg)
		state := attempts.State(p.Name)
		entry.Attempts = state.Attempts
		log.Info("phase attempt finished", "code", code, "attempt", state.Attempts)

		retrying := attempts.ShouldRetry(p.Name) && ctx.Err() == nil
		switch {
		case code.IsSuccess():
			entry.Artifact = childArtifact(child)
			entry.Error = ""
			prog.settle(p.Name, true)
			c.writeSignal(SignalName(r.Cycle, p.Name), signal.StatusSuccess, entry.Artifact, "", log)
		case code.IsNonAbsorbable():
			// Left pending so a resumed run attempts it again.
			entry.Error = failMessage(code, errMsg)
			c.writeSignal(runID, signal.StatusFail, "", entry.Error, log)
		case retrying:
			c.writeSignal(runID, signal.StatusFail, "", failMessage(code, errMsg), log)
		default:
			entry.Error = failMessage(code, errMsg)
			prog.settle(p.Name, false)
			c.writeSignal(runID, signal.StatusFail, "", entry.Error, log)
		}
		c.checkpoint(r, prog, log)

		if !retrying || code.IsSuccess() || code.IsNonAbsorbable() {
			return code, entry
		}
		log.Info("retrying phase")
	}
}

// completedSignal returns the phase's completion signal for the cycle, or
// nil when it has not completed.
func (c *Coordinator) completedSignal(cycle int, name string) *signal.Signal {
	path := filepath.Join(c.session.SignalsDir(), signal.FileName(Layer, SignalName(cycle, name), signal.StatusSuccess))
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	sig, err := signal.Read(path)
	if err != nil {
		c.logger.Warn("ignoring unreadable phase signal", "path", path, "error", err)
		return nil
	}
	return sig
}

func (c *Coordinator) writeSignal(name string, status signal.Status, artifact, errMsg string, log *logging.Logger) {
	_, err := signal.Write(c.session.Dir, signal.Params{
		Layer:    Layer,
		Name:     name,
		Status:   status,
		Artifact: artifact,
		Size:     -1,
		Error:    errMsg,
		TraceID:  c.session.TraceID,
	})
	if err != nil {
		log.Warn("failed to write phase signal", "name", name, "error", err)
	}
}

// checkpoint is best-effort; a failed write never affects the run.
func (c *Coordinator) checkpoint(r Run, prog *progress, log *logging.Logger) {
	cp := checkpoint.Checkpoint{
		StateName:       r.StateName,
		CompletedPhases: append([]string{}, prog.completed...),
		PendingPhases:   append([]string{}, prog.pending...),
		FailedPhases:    append([]string(nil), prog.failed...),
		DepthUsed:       r.Depth,
		DepthMax:        c.maxDepth,
		TraceID:         c.session.TraceID,
		HealCycle:       r.Cycle,
	}
	path, err := checkpoint.Write(c.session.CheckpointsDir(), cp)
	if err != nil {
		log.Warn("failed to write checkpoint", "error", err)
		return
	}
	c.bus.Publish(event.NewCheckpointWrittenEvent(path))
}

func unmet(deps []string, prog *progress) []string {
	var missing []string
	for _, d := range deps {
		if !prog.isCompleted(d) {
			missing = append(missing, d)
		}
	}
	return missing
}

// childArtifact picks the most useful artifact from a child manifest: the
// consolidated result of a fan-out, otherwise the last successful entry.
func childArtifact(m *manifest.Manifest) string {
	if m == nil {
		return ""
	}
	if m.Consolidation != nil && m.Consolidation.Artifact != "" {
		return m.Consolidation.Artifact
	}
	entries := m.Entries()
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Artifact != "" {
			return entries[i].Artifact
		}
	}
	return ""
}

func childError(m *manifest.Manifest) string {
	if m == nil {
		return ""
	}
	var msgs []string
	for _, e := range m.Entries() {
		if e.Error != "" {
			msgs = append(msgs, e.Name+": "+e.Error)
		}
	}
	return strings.Join(msgs, "; ")
}

func failMessage(code exitcode.Code, errMsg string) string {
	if errMsg == "" {
		return string(code)
	}
	return string(code) + ": " + errMsg
}
