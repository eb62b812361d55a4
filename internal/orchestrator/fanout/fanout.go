// Package fanout runs a worker set concurrently and consolidates the
// findings of the workers that succeeded.
//
// Workers run in a bounded pool and are collected as they complete. The
// run has an overall deadline separate from each worker's own timeout:
// when it expires, outstanding workers are killed and recorded as timeout
// and consolidation proceeds over whatever succeeded. Consolidation sees
// artifact paths only, never artifact contents.
package fanout

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/event"
	"github.com/Iron-Ham/conductor/internal/exitcode"
	"github.com/Iron-Ham/conductor/internal/invoke"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/manifest"
	"github.com/Iron-Ham/conductor/internal/orchestrator/prompt"
	"github.com/Iron-Ham/conductor/internal/pipeline"
	"github.com/Iron-Ham/conductor/internal/session"
	"github.com/Iron-Ham/conductor/internal/signal"
	"github.com/Iron-Ham/conductor/internal/util"
)

const (
	// Layer is the signal layer name for fan-out outcomes.
	Layer = "fanout"

	// ConsolidatedName is the base name of the merged artifact and its signal.
	ConsolidatedName = "consolidated"

	DefaultConcurrency = 4
)

// Invoker runs one worker. *invoke.Invoker satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, req invoke.Request) invoke.Result
}

// Config holds the orchestrator's limits and tiers.
type Config struct {
	Concurrency int
	// OverallTimeout bounds the whole fan-out. Zero means no limit beyond
	// the caller's context.
	OverallTimeout time.Duration
	// WorkerTimeout bounds each worker.
	WorkerTimeout     time.Duration
	WorkerTier        string
	ConsolidationTier string
}

// Run describes one execution of a worker set.
type Run struct {
	WorkerSet *pipeline.WorkerSet
	Topic     string
	// Modifier is appended to every worker's focus.
	Modifier string
	// Notes are refinement documents every worker should read.
	Notes []string
	// OutputDir receives one artifact per worker and the consolidated
	// artifact. Empty means the session's phase directory for RunID.
	OutputDir string
	// RunID keeps signals of separate runs apart. Empty means a generated id.
	RunID   string
	WorkDir string
	Depth   int
}

// Orchestrator executes fan-out runs.
type Orchestrator struct {
	invoker Invoker
	session *session.Session
	cfg     Config
	bus     *event.Bus
	logger  *logging.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBus publishes worker events.
func WithBus(b *event.Bus) Option { return func(o *Orchestrator) { o.bus = b } }

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// New creates an Orchestrator.
func New(inv Invoker, sess *session.Session, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.WorkerTier == "" {
		cfg.WorkerTier = string(invoke.TierMedium)
	}
	if cfg.ConsolidationTier == "" {
		cfg.ConsolidationTier = string(invoke.TierHigh)
	}
	o := &Orchestrator{invoker: inv, session: sess, cfg: cfg}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logging.OrNop(o.logger).WithLayer(Layer)
	return o
}

// outcome is one worker's settled result.
type outcome struct {
	index    int
	code     exitcode.Code
	artifact string
	err      error
}

// Run launches every worker of r.WorkerSet and consolidates. The manifest
// is always non-nil and finished with the returned code.
func (o *Orchestrator) Run(ctx context.Context, r Run) (exitcode.Code, *manifest.Manifest) {
	m := manifest.New(manifest.KindWorkers)
	m.TraceID = o.session.TraceID
	if err := r.WorkerSet.Validate(); err != nil {
		o.logger.Error("invalid worker set", "error", err)
		return exitcode.Failure, m.Finish(exitcode.Failure)
	}
	if r.RunID == "" {
		r.RunID = uuid.NewString()[:8]
	}
	if r.OutputDir == "" {
		r.OutputDir = o.session.PhaseDir(r.RunID)
	}
	if err := os.MkdirAll(r.OutputDir, 0755); err != nil {
		o.logger.Error("failed to create output directory", "dir", r.OutputDir, "error", err)
		return exitcode.Failure, m.Finish(exitcode.Failure)
	}
	log := o.logger.With("worker_set", r.WorkerSet.Name, "run_id", r.RunID)
	workers := r.WorkerSet.Workers
	log.Info("fan-out started", "workers", len(workers), "concurrency", o.cfg.Concurrency)

	runCtx, cancel := o.overallContext(ctx)
	defer cancel()

	results := make(chan outcome, len(workers))
	p := pool.New().WithMaxGoroutines(o.cfg.Concurrency)
	go func() {
		for i, w := range workers {
			p.Go(func() {
				results <- o.runWorker(runCtx, r, i, w)
			})
		}
		p.Wait()
		close(results)
	}()

	settled := make([]*outcome, len(workers))
	var abort exitcode.Code
collect:
	for pending := len(workers); pending > 0; {
		select {
		case res, ok := <-results:
			if !ok {
				break collect
			}
			pending--
			settled[res.index] = &res
			o.bus.Publish(event.NewWorkerFinishedEvent(workers[res.index].Domain, res.code, res.artifact))
			log.Info("worker finished", "domain", workers[res.index].Domain, "code", res.code)
			if res.code == exitcode.DepthExceeded || res.code == exitcode.Interrupted {
				abort = res.code
				break collect
			}
		case <-runCtx.Done():
			break collect
		}
	}

	// Kill whatever is still running and wait for the pool to drain so no
	// worker outlives the run. Late results are not accepted.
	cancel()
	for range results {
	}

	if ctx.Err() != nil && abort == "" {
		abort = exitcode.FromContext(ctx.Err())
	}
	lateCode := exitcode.Timeout
	if abort == exitcode.Interrupted || abort == exitcode.DepthExceeded {
		lateCode = exitcode.Interrupted
	}

	var succeeded, timedOut []string
	for i, w := range workers {
		res := settled[i]
		if res == nil {
			res = &outcome{index: i, code: lateCode, err: errors.Wrap(errors.ErrTimeout, "overall deadline reached")}
			if lateCode == exitcode.Timeout {
				log.Warn("worker outstanding at overall deadline", "domain", w.Domain)
			}
		}
		entry := manifest.Entry{Name: w.Domain, Attempts: 1}
		if res.code.IsSuccess() {
			entry.Artifact = res.artifact
			succeeded = append(succeeded, res.artifact)
		} else if res.err != nil {
			entry.Error = res.err.Error()
		}
		if res.code == exitcode.Timeout {
			timedOut = append(timedOut, w.Domain)
		}
		m.Add(entry, res.code)
		o.signal(r.RunID, w.Domain, res.code, entry.Artifact, entry.Error, log)
	}

	if abort != "" {
		log.Warn("fan-out aborted", "code", abort)
		return abort, m.Finish(abort)
	}

	if len(succeeded) == 0 {
		code := exitcode.Failure
		if len(timedOut) == len(workers) {
			code = exitcode.Timeout
		}
		log.Warn("every worker failed, skipping consolidation", "code", code)
		return code, m.Finish(code)
	}

	code := exitcode.Success
	if len(succeeded) < len(workers) {
		code = exitcode.PartialSuccess
	}

	cCode, entry := o.consolidate(ctx, r, succeeded, log)
	m.Consolidation = &entry
	switch {
	case cCode.IsNonAbsorbable():
		code = cCode
	case !cCode.IsSuccess():
		code = exitcode.PartialSuccess
	}

	log.Info("fan-out finished", "code", code, "succeeded", len(succeeded), "total", len(workers))
	return code, m.Finish(code)
}

func (o *Orchestrator) overallContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.OverallTimeout > 0 {
		return context.WithTimeout(ctx, o.cfg.OverallTimeout)
	}
	return context.WithCancel(ctx)
}

func (o *Orchestrator) runWorker(ctx context.Context, r Run, index int, w pipeline.Worker) outcome {
	out := outcome{index: index}
	if err := ctx.Err(); err != nil {
		out.code = exitcode.FromContext(err)
		out.err = err
		return out
	}

	artifact := filepath.Join(r.OutputDir, util.Slug(w.Domain)+".md")
	focus := w.Focus
	if r.Modifier != "" {
		focus = joinLines(focus, r.Modifier)
	}
	text, err := prompt.Build(&prompt.Context{
		Kind:         prompt.KindResearch,
		Topic:        r.Topic,
		Name:         w.Domain,
		Focus:        focus,
		Notes:        r.Notes,
		ArtifactPath: artifact,
	})
	if err != nil {
		out.code, out.err = exitcode.Failure, err
		return out
	}
	tier, err := invoke.ParseTier(firstNonEmpty(w.Tier, o.cfg.WorkerTier))
	if err != nil {
		out.code, out.err = exitcode.Failure, err
		return out
	}

	req := invoke.NewRequest(text)
	req.Tier = tier
	req.WorkDir = r.WorkDir
	req.Depth = r.Depth
	req.Timeout = o.cfg.WorkerTimeout
	req.AgentType = firstNonEmpty(w.AgentType, Layer+"-"+w.Domain)

	res := o.invoker.Invoke(ctx, req)
	out.code, out.err = res.Code, res.Err
	if res.Code.IsSuccess() {
		persistOutput(artifact, res.Output, o.logger)
		out.artifact = artifact
	}
	return out
}

func (o *Orchestrator) consolidate(ctx context.Context, r Run, artifacts []string, log *logging.Logger) (exitcode.Code, manifest.Entry) {
	entry := manifest.Entry{Name: ConsolidatedName, Attempts: 1}
	path := filepath.Join(r.OutputDir, ConsolidatedName+".md")

	text, err := prompt.Build(&prompt.Context{
		Kind:         prompt.KindConsolidate,
		Topic:        r.Topic,
		Inputs:       artifacts,
		Notes:        r.Notes,
		ArtifactPath: path,
	})
	code := exitcode.Failure
	if err == nil {
		req := invoke.NewRequest(text)
		req.Tier = invoke.Tier(o.cfg.ConsolidationTier)
		if r.WorkerSet.ConsolidationTier != "" {
			req.Tier = invoke.Tier(r.WorkerSet.ConsolidationTier)
		}
		req.WorkDir = r.WorkDir
		req.Depth = r.Depth
		req.Timeout = o.cfg.WorkerTimeout
		req.AgentType = Layer + "-" + ConsolidatedName

		res := o.invoker.Invoke(ctx, req)
		code, err = res.Code, res.Err
		if code.IsSuccess() {
			persistOutput(path, res.Output, log)
			entry.Artifact = path
		}
	}
	if err != nil && !code.IsSuccess() {
		entry.Error = err.Error()
	}
	entry.Status = code.String()
	entry.ExitCode = code.ExitStatus()
	log.Info("consolidation finished", "code", code, "inputs", len(artifacts))
	o.signal(r.RunID, ConsolidatedName, code, entry.Artifact, entry.Error, log)
	return code, entry
}

func (o *Orchestrator) signal(runID, name string, code exitcode.Code, artifact, errMsg string, log *logging.Logger) {
	status := signal.StatusSuccess
	if !code.IsSuccess() {
		status = signal.StatusFail
		if errMsg == "" {
			errMsg = string(code)
		}
	}
	_, err := signal.Write(o.session.Dir, signal.Params{
		Layer:    Layer,
		Name:     runID + "-" + name,
		Status:   status,
		Artifact: artifact,
		Size:     -1,
		Error:    errMsg,
		TraceID:  o.session.TraceID,
	})
	if err != nil {
		log.Warn("failed to write worker signal", "name", name, "error", err)
	}
}

// persistOutput keeps stdout as the artifact when the worker did not write
// the artifact itself.
func persistOutput(path, output string, log *logging.Logger) {
	if _, err := os.Stat(path); err == nil || output == "" {
		return
	}
	if err := util.WriteFileAtomic(path, []byte(output), 0644); err != nil {
		log.Warn("failed to persist worker output", "artifact", path, "error", err)
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

func joinLines(a, b string) string {
	if a == "" {
		return b
	}
	return a + "\n" + b
}
