package campaign

import (
	"context"
	"time"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/event"
	"github.com/Iron-Ham/conductor/internal/exitcode"
	"github.com/Iron-Ham/conductor/internal/invoke"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/manifest"
	"github.com/Iron-Ham/conductor/internal/orchestrator/fanout"
	"github.com/Iron-Ham/conductor/internal/orchestrator/phase"
	"github.com/Iron-Ham/conductor/internal/pipeline"
	"github.com/Iron-Ham/conductor/internal/session"
)

// Layer names the controller in logs and signals.
const Layer = "campaign"

// Invoker runs a single evaluation or writing worker.
type Invoker interface {
	Invoke(ctx context.Context, req invoke.Request) invoke.Result
}

// Researcher runs a research round. *fanout.Orchestrator satisfies it.
type Researcher interface {
	Run(ctx context.Context, r fanout.Run) (exitcode.Code, *manifest.Manifest)
}

// Executor runs the decomposed phases. *phase.Coordinator satisfies it.
type Executor interface {
	Run(ctx context.Context, r phase.Run) (exitcode.Code, *manifest.Manifest)
}

// Config configures one campaign.
type Config struct {
	Topic             string
	MaxResearchRounds int
	MaxHealCycles     int
	// Research is the worker set used for every research round.
	Research *pipeline.WorkerSet
	// Definitions validates the orchestrator references of decomposed
	// phases. Nil skips the check.
	Definitions  *pipeline.Definitions
	ResearchTier string
	PlanTier     string
	EvaluateTier string
	// Timeout bounds each evaluation and writing invocation.
	Timeout time.Duration
	WorkDir string
	Depth   int
	// StartState overrides the persisted state when set.
	StartState State
}

// Controller drives a campaign through its states.
type Controller struct {
	cfg        Config
	session    *session.Session
	invoker    Invoker
	researcher Researcher
	executor   Executor
	bus        *event.Bus
	logger     *logging.Logger
	now        func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithBus publishes transition events.
func WithBus(b *event.Bus) Option { return func(c *Controller) { c.bus = b } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(c *Controller) { c.logger = l } }

// WithClock replaces time.Now for state timestamps.
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// New creates a Controller.
func New(sess *session.Session, inv Invoker, researcher Researcher, executor Executor, cfg Config, opts ...Option) *Controller {
	if cfg.MaxResearchRounds <= 0 {
		cfg.MaxResearchRounds = 3
	}
	if cfg.MaxHealCycles < 0 {
		cfg.MaxHealCycles = 0
	}
	if cfg.ResearchTier == "" {
		cfg.ResearchTier = string(invoke.TierMedium)
	}
	if cfg.PlanTier == "" {
		cfg.PlanTier = string(invoke.TierHigh)
	}
	if cfg.EvaluateTier == "" {
		cfg.EvaluateTier = string(invoke.TierMedium)
	}
	c := &Controller{
		cfg:        cfg,
		session:    sess,
		invoker:    inv,
		researcher: researcher,
		executor:   executor,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger).WithLayer(Layer)
	return c
}

// ReadState returns the persisted campaign record.
func ReadState(sess *session.Session) (session.Record, error) {
	return session.ReadState(sess.CampaignStatePath())
}

// Run advances the campaign until it completes or a state returns a code
// that needs the caller: a human decision, more research, or any
// non-absorbable code from a child.
func (c *Controller) Run(ctx context.Context) exitcode.Code {
	lock, err := session.AcquireLock(c.session.Dir, Layer, c.logger)
	switch {
	case errors.Is(err, errors.ErrSessionLocked):
		c.logger.Error("session is controlled by another process", "error", err)
		return exitcode.Failure
	case err != nil:
		c.logger.Warn("failed to acquire session lock, continuing", "error", err)
	default:
		defer func() {
			if err := lock.Release(); err != nil {
				c.logger.Warn("failed to release session lock", "error", err)
			}
		}()
	}

	rec, err := ReadState(c.session)
	if err != nil {
		c.logger.Warn("unreadable campaign state, starting fresh", "error", err)
		rec = session.Record{}
	}
	state, err := c.startState(rec)
	if err != nil {
		c.logger.Error("invalid start state", "error", errors.NewCampaignError("cannot start", err))
		return exitcode.Failure
	}
	if rec[KeyStartedAt] == "" {
		rec[KeyStartedAt] = c.timestamp()
	}
	if c.cfg.Topic == "" {
		c.cfg.Topic = rec[KeyTopic]
	}
	if c.cfg.Topic == "" {
		c.logger.Error("campaign has no topic", "error",
			errors.NewCampaignError("cannot start", errors.ErrInvalidInput).WithState(string(state)))
		return exitcode.Failure
	}
	rec[KeyTopic] = c.cfg.Topic
	rec[KeyState] = string(state)
	delete(rec, KeyOutcome)
	delete(rec, KeyError)
	c.persist(rec)

	log := c.logger.WithTrace(c.session.TraceID)
	log.Info("campaign started", "state", state, "topic", c.cfg.Topic)

	for {
		if state == StateComplete {
			code := outcome(rec)
			c.finish(rec, code)
			log.Info("campaign complete", "code", code)
			return code
		}
		if err := ctx.Err(); err != nil {
			code := exitcode.FromContext(err)
			c.finish(rec, code)
			log.Warn("campaign stopped", "state", state, "code", code)
			return code
		}

		next, code := c.step(ctx, state, rec)
		if code == exitcode.Failure {
			return c.fail(rec, state, errors.NewCampaignError("state ended in failure", nil))
		}
		if code != "" {
			c.finish(rec, code)
			log.Info("campaign paused", "state", state, "code", code)
			return code
		}
		if !state.CanTransitionTo(next) {
			return c.fail(rec, state, errors.NewCampaignError("illegal transition to "+string(next), errors.ErrInvalidState))
		}

		log.Info("transition", "from", state, "to", next)
		rec[KeyState] = string(next)
		c.persist(rec)
		c.bus.Publish(event.NewCampaignTransitionEvent(string(state), string(next)))
		state = next
	}
}

func (c *Controller) startState(rec session.Record) (State, error) {
	if c.cfg.StartState != "" {
		return ParseState(string(c.cfg.StartState))
	}
	if s := rec[KeyState]; s != "" {
		return ParseState(s)
	}
	return StatePlanResearch, nil
}

func (c *Controller) step(ctx context.Context, state State, rec session.Record) (State, exitcode.Code) {
	switch state {
	case StatePlanResearch:
		return c.research(ctx, rec)
	case StatePlanRefine:
		return c.refine(rec)
	case StatePlanConsolidate:
		return c.consolidate(ctx, rec)
	case StatePlanDecompose:
		return c.decompose(ctx, rec)
	case StateCEOReview:
		return c.review(rec)
	case StateExecute:
		return c.execute(ctx, rec)
	case StateEvaluate:
		return c.evaluate(ctx, rec)
	case StateHeal:
		return c.heal(rec)
	case StateReport:
		return c.report(ctx, rec)
	}
	c.logger.Error("no handler for state", "state", state)
	return "", exitcode.Failure
}

// outcome is the final code of a completed campaign.
func outcome(rec session.Record) exitcode.Code {
	if code, err := exitcode.Parse(rec[KeyResult]); err == nil {
		return code
	}
	return exitcode.Success
}

// fail records err, placed at the campaign's state, round and cycle, and
// ends the run with failure.
func (c *Controller) fail(rec session.Record, state State, err *errors.CampaignError) exitcode.Code {
	err = err.WithState(string(state)).WithRound(rec.Int(KeyResearchRound)).WithCycle(rec.Int(KeyHealCycle))
	c.logger.Error("campaign failed", "error", err)
	rec[KeyError] = err.Error()
	c.finish(rec, exitcode.Failure)
	return exitcode.Failure
}

func (c *Controller) finish(rec session.Record, code exitcode.Code) {
	rec[KeyOutcome] = string(code)
	c.persist(rec)
}

// persist writes the state file. Failures are logged, never fatal.
func (c *Controller) persist(rec session.Record) {
	rec[KeyUpdatedAt] = c.timestamp()
	snapshot := make(session.Record, len(rec))
	for k, v := range rec {
		snapshot[k] = v
	}
	ctx := context.Background()
	_, err := session.UpdateState(ctx, c.session.CampaignStatePath(), func(stored session.Record) {
		for k := range stored {
			if _, ok := snapshot[k]; !ok {
				delete(stored, k)
			}
		}
		for k, v := range snapshot {
			stored[k] = v
		}
	}, keyOrder...)
	if err != nil {
		c.logger.Warn("failed to persist campaign state", "error", err)
	}
}

func (c *Controller) timestamp() string {
	return c.now().UTC().Format(time.RFC3339)
}
