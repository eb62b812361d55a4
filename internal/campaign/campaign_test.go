package campaign

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/conductor/internal/event"
	"github.com/Iron-Ham/conductor/internal/exitcode"
	"github.com/Iron-Ham/conductor/internal/invoke"
	"github.com/Iron-Ham/conductor/internal/manifest"
	"github.com/Iron-Ham/conductor/internal/orchestrator/fanout"
	"github.com/Iron-Ham/conductor/internal/orchestrator/phase"
	"github.com/Iron-Ham/conductor/internal/pipeline"
	"github.com/Iron-Ham/conductor/internal/session"
	"github.com/Iron-Ham/conductor/internal/signal"
)

func jsonResult(raw map[string]any) invoke.Result {
	return invoke.Result{Code: exitcode.Success, Structured: &invoke.Structured{Raw: raw, Status: "success"}}
}

func insufficient(gaps ...any) invoke.Result {
	return jsonResult(map[string]any{"status": "success", "sufficient": false, "gaps": gaps})
}

func verdict(v string, issues ...any) invoke.Result {
	return jsonResult(map[string]any{"status": "success", "verdict": v, "issues": issues})
}

// fakeInvoker pops queued results per agent type and falls back to a
// cooperative default.
type fakeInvoker struct {
	mu     sync.Mutex
	queue  map[string][]invoke.Result
	calls  map[string][]invoke.Request
	always map[string]invoke.Result
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		queue:  map[string][]invoke.Result{},
		calls:  map[string][]invoke.Request{},
		always: map[string]invoke.Result{},
	}
}

func (f *fakeInvoker) Invoke(_ context.Context, req invoke.Request) invoke.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.AgentType] = append(f.calls[req.AgentType], req)
	if q := f.queue[req.AgentType]; len(q) > 0 {
		f.queue[req.AgentType] = q[1:]
		return q[0]
	}
	if r, ok := f.always[req.AgentType]; ok {
		return r
	}
	switch req.AgentType {
	case "campaign-sufficiency":
		return jsonResult(map[string]any{"status": "success", "sufficient": true})
	case "campaign-decompose":
		return jsonResult(map[string]any{"status": "success", "phases": []any{
			map[string]any{"name": "build", "orchestrator": "stage:implement"},
		}})
	case "campaign-evaluate":
		return verdict("pass")
	}
	return invoke.Result{Code: exitcode.Success, Output: "# written by " + req.AgentType}
}

func (f *fakeInvoker) count(agent string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls[agent])
}

type fakeResearcher struct {
	runs []fanout.Run
	code exitcode.Code
}

func (r *fakeResearcher) Run(_ context.Context, run fanout.Run) (exitcode.Code, *manifest.Manifest) {
	r.runs = append(r.runs, run)
	m := manifest.New(manifest.KindWorkers)
	code := r.code
	if code == "" {
		code = exitcode.Success
	}
	if code.IsSuccess() {
		_ = os.MkdirAll(run.OutputDir, 0755)
		merged := filepath.Join(run.OutputDir, "consolidated.md")
		_ = os.WriteFile(merged, []byte("findings"), 0644)
		m.Add(manifest.Entry{Name: "a", Artifact: filepath.Join(run.OutputDir, "a.md")}, exitcode.Success)
		m.Consolidation = &manifest.Entry{Name: "consolidated", Artifact: merged}
	}
	return code, m.Finish(code)
}

type fakeExecutor struct {
	runs  []phase.Run
	codes []exitcode.Code
}

func (e *fakeExecutor) Run(_ context.Context, r phase.Run) (exitcode.Code, *manifest.Manifest) {
	e.runs = append(e.runs, r)
	code := exitcode.Success
	if len(e.codes) > 0 {
		code, e.codes = e.codes[0], e.codes[1:]
	}
	m := manifest.New(manifest.KindPhases)
	for _, p := range r.Phases {
		m.Add(manifest.Entry{Name: p.Name}, code)
	}
	return code, m.Finish(code)
}

type harness struct {
	sess *session.Session
	inv  *fakeInvoker
	res  *fakeResearcher
	exec *fakeExecutor
	cfg  Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	sess, err := session.Create(t.TempDir())
	require.NoError(t, err)
	return &harness{
		sess: sess,
		inv:  newFakeInvoker(),
		res:  &fakeResearcher{},
		exec: &fakeExecutor{},
		cfg: Config{
			Topic:             "add rate limiting",
			WorkDir:           "/repo",
			MaxResearchRounds: 3,
			MaxHealCycles:     2,
			Research:          &pipeline.WorkerSet{Name: "research", Workers: []pipeline.Worker{{Domain: "a"}}},
			Definitions:       pipeline.Defaults(),
		},
	}
}

func (h *harness) run(t *testing.T, opts ...Option) exitcode.Code {
	t.Helper()
	return New(h.sess, h.inv, h.res, h.exec, h.cfg, opts...).Run(context.Background())
}

func (h *harness) state(t *testing.T) session.Record {
	t.Helper()
	rec, err := ReadState(h.sess)
	require.NoError(t, err)
	return rec
}

func TestSingleRoundInsufficientNeedsRefinement(t *testing.T) {
	h := newHarness(t)
	h.cfg.MaxResearchRounds = 1
	h.inv.always["campaign-sufficiency"] = insufficient("pricing")

	code := h.run(t)

	assert.Equal(t, exitcode.NeedsRefinement, code)
	assert.Len(t, h.res.runs, 1, "exactly one research round")
	assert.Equal(t, 1, h.inv.count("campaign-sufficiency"))
	rec := h.state(t)
	assert.Equal(t, "PLAN_RESEARCH", rec[KeyState])
	assert.Equal(t, "1", rec[KeyResearchRound])
	assert.Equal(t, "needs-refinement", rec[KeyOutcome])

	// Re-running with the same limit does not start another round.
	assert.Equal(t, exitcode.NeedsRefinement, h.run(t))
	assert.Len(t, h.res.runs, 1)
}

func TestRefinementLoopFeedsGaps(t *testing.T) {
	h := newHarness(t)
	h.inv.queue["campaign-sufficiency"] = []invoke.Result{insufficient("burst handling", "per-tenant limits")}

	code := h.run(t)
	require.Equal(t, exitcode.HumanInputRequired, code)

	require.Len(t, h.res.runs, 2)
	gaps := h.sess.RefinementPath("round-1-gaps.md")
	assert.Equal(t, []string{gaps}, h.res.runs[1].Notes)
	assert.Equal(t, h.sess.ResearchRoundDir(2), h.res.runs[1].OutputDir)
	assert.Equal(t, "round-2", h.res.runs[1].RunID)

	data, err := os.ReadFile(gaps)
	require.NoError(t, err)
	assert.Contains(t, string(data), "- burst handling")
	assert.Contains(t, string(data), "- per-tenant limits")
}

func TestFullCampaignWithApproval(t *testing.T) {
	h := newHarness(t)
	bus := event.NewBus(nil)
	var transitions []string
	bus.Subscribe(event.TypeCampaignTransition, func(e event.Event) {
		transitions = append(transitions, e.(event.CampaignTransitionEvent).To)
	})

	code := h.run(t, WithBus(bus))
	require.Equal(t, exitcode.HumanInputRequired, code)
	rec := h.state(t)
	assert.Equal(t, "CEO_REVIEW", rec[KeyState])
	plan := h.sess.Path("plan-v1.md")
	assert.Equal(t, plan, rec[KeyPlan])
	assert.FileExists(t, plan)
	assert.FileExists(t, rec[KeyPhases])
	assert.Empty(t, h.exec.runs, "nothing executes before approval")

	_, err := WriteResolution(h.sess, "LGTM, ship it")
	require.NoError(t, err)

	code = h.run(t, WithBus(bus))
	assert.Equal(t, exitcode.Success, code)
	require.Len(t, h.exec.runs, 1)
	assert.Equal(t, "build", h.exec.runs[0].Phases[0].Name)
	assert.Equal(t, 0, h.exec.runs[0].Cycle)
	assert.Equal(t, "/repo", h.exec.runs[0].WorkDir, "execution runs where research did")

	rec = h.state(t)
	assert.Equal(t, "COMPLETE", rec[KeyState])
	assert.Equal(t, "success", rec[KeyOutcome])
	assert.FileExists(t, filepath.Join(h.sess.ReportsDir(), "report-c0.md"))
	assert.NoFileExists(t, ResolutionPath(h.sess), "resolution is consumed")

	assert.Equal(t, []string{
		"PLAN_CONSOLIDATE", "PLAN_DECOMPOSE", "CEO_REVIEW",
		"EXECUTE", "EVALUATE", "REPORT", "COMPLETE",
	}, transitions)

	// A completed campaign stays complete.
	assert.Equal(t, exitcode.Success, h.run(t))
	assert.Len(t, h.exec.runs, 1)
}

func TestReviewFeedbackProducesNewPlanVersion(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, exitcode.HumanInputRequired, h.run(t))

	_, err := WriteResolution(h.sess, "Please add a rollback section.")
	require.NoError(t, err)
	require.Equal(t, exitcode.HumanInputRequired, h.run(t))

	rec := h.state(t)
	assert.Equal(t, "2", rec[KeyPlanVersion])
	assert.Equal(t, h.sess.Path("plan-v2.md"), rec[KeyPlan])
	assert.Empty(t, rec[KeyFeedback], "feedback is consumed by consolidation")

	plans := h.inv.calls["campaign-plan"]
	require.Len(t, plans, 2)
	feedback := filepath.Join(h.sess.ResolutionsDir(), "ceo-review-v1.md")
	assert.Contains(t, plans[1].Prompt, feedback)
	assert.Contains(t, plans[1].Prompt, h.sess.Path("plan-v1.md"))

	chain, err := signal.Chain(rec[KeyPlanSignal])
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, 2, chain[0].Version)
	assert.Equal(t, 1, chain[1].Version)
}

func TestHealLoopExhaustedIsPartialSuccess(t *testing.T) {
	h := newHarness(t)
	h.cfg.MaxHealCycles = 1
	h.inv.always["campaign-evaluate"] = verdict("fail", "tests missing")
	_, err := WriteResolution(h.sess, "approve")
	require.NoError(t, err)

	code := h.run(t)

	assert.Equal(t, exitcode.PartialSuccess, code)
	require.Len(t, h.exec.runs, 2)
	heal := h.sess.RefinementPath("heal-1.md")
	assert.Equal(t, 1, h.exec.runs[1].Cycle)
	assert.Equal(t, []string{heal}, h.exec.runs[1].Notes)
	data, err := os.ReadFile(heal)
	require.NoError(t, err)
	assert.Contains(t, string(data), "- tests missing")

	assert.Equal(t, 1, h.inv.count("campaign-report"), "report is still produced")
	assert.Equal(t, "partial-success", h.state(t)[KeyOutcome])
}

func TestHealThenPass(t *testing.T) {
	h := newHarness(t)
	h.inv.queue["campaign-evaluate"] = []invoke.Result{verdict("fail", "x")}
	_, err := WriteResolution(h.sess, "ok")
	require.NoError(t, err)

	assert.Equal(t, exitcode.Success, h.run(t))
	assert.Len(t, h.exec.runs, 2)
}

func TestExecutionFailureStillEvaluates(t *testing.T) {
	h := newHarness(t)
	h.exec.codes = []exitcode.Code{exitcode.Failure}
	_, err := WriteResolution(h.sess, "approved")
	require.NoError(t, err)

	assert.Equal(t, exitcode.Success, h.run(t))
	assert.Equal(t, 1, h.inv.count("campaign-evaluate"))
	assert.FileExists(t, filepath.Join(h.sess.ReportsDir(), "execute-c0.json"))
}

func TestNonAbsorbableFromExecutionPropagates(t *testing.T) {
	h := newHarness(t)
	h.exec.codes = []exitcode.Code{exitcode.Timeout}
	_, err := WriteResolution(h.sess, "approve")
	require.NoError(t, err)

	assert.Equal(t, exitcode.Timeout, h.run(t))
	assert.Zero(t, h.inv.count("campaign-evaluate"))
	assert.Equal(t, "EXECUTE", h.state(t)[KeyState])
}

func TestNonAbsorbableFromResearchPropagates(t *testing.T) {
	h := newHarness(t)
	h.res.code = exitcode.DepthExceeded
	assert.Equal(t, exitcode.DepthExceeded, h.run(t))
	assert.Zero(t, h.inv.count("campaign-sufficiency"))
}

func TestUnparseableEvaluatorsProceed(t *testing.T) {
	h := newHarness(t)
	h.inv.always["campaign-sufficiency"] = invoke.Result{Code: exitcode.Success, Structured: &invoke.Structured{Raw: map[string]any{"result": "yes, probably"}}}
	h.inv.always["campaign-evaluate"] = invoke.Result{Code: exitcode.Success, Output: "looks fine"}
	_, err := WriteResolution(h.sess, "approve")
	require.NoError(t, err)

	assert.Equal(t, exitcode.Success, h.run(t))
	assert.Len(t, h.res.runs, 1)
	assert.Len(t, h.exec.runs, 1)
}

func TestUnparseableDecompositionFails(t *testing.T) {
	h := newHarness(t)
	h.inv.always["campaign-decompose"] = jsonResult(map[string]any{"status": "success", "result": "no idea"})

	assert.Equal(t, exitcode.Failure, h.run(t))
	rec := h.state(t)
	assert.Equal(t, "PLAN_DECOMPOSE", rec[KeyState])
	assert.Equal(t, "failure", rec[KeyOutcome])
	assert.Equal(t, "campaign error [state=PLAN_DECOMPOSE, round=1]: state ended in failure", rec[KeyError])

	h.inv.always["campaign-decompose"] = jsonResult(map[string]any{"status": "success", "phases": []any{
		map[string]any{"name": "x", "orchestrator": "stage:implement"},
	}})
	assert.Equal(t, exitcode.HumanInputRequired, h.run(t))
	assert.Empty(t, h.state(t)[KeyError], "a later run clears the recorded error")
}

func TestDecompositionWithUnknownPipelineFails(t *testing.T) {
	h := newHarness(t)
	h.inv.always["campaign-decompose"] = jsonResult(map[string]any{"status": "success", "phases": []any{
		map[string]any{"name": "x", "orchestrator": "stage:ghost"},
	}})
	assert.Equal(t, exitcode.Failure, h.run(t))
}

func TestStartStateOverride(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, exitcode.HumanInputRequired, h.run(t))

	h.cfg.StartState = StatePlanConsolidate
	require.Equal(t, exitcode.HumanInputRequired, h.run(t))
	assert.Equal(t, 2, h.inv.count("campaign-plan"))
	assert.Len(t, h.res.runs, 1, "research is not repeated")
}

func TestTopicIsRemembered(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, exitcode.HumanInputRequired, h.run(t))

	h.cfg.Topic = ""
	assert.Equal(t, exitcode.HumanInputRequired, h.run(t))
	assert.Equal(t, "add rate limiting", h.state(t)[KeyTopic])
}

func TestCanceledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	code := New(h.sess, h.inv, h.res, h.exec, h.cfg).Run(ctx)
	assert.Equal(t, exitcode.Interrupted, code)
	assert.Empty(t, h.res.runs)
}
