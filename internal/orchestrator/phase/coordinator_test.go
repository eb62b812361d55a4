package phase

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/conductor/internal/checkpoint"
	"github.com/Iron-Ham/conductor/internal/event"
	"github.com/Iron-Ham/conductor/internal/exitcode"
	"github.com/Iron-Ham/conductor/internal/manifest"
	"github.com/Iron-Ham/conductor/internal/pipeline"
	"github.com/Iron-Ham/conductor/internal/session"
	"github.com/Iron-Ham/conductor/internal/signal"
)

type fakeRunner struct {
	mu     sync.Mutex
	script map[string][]exitcode.Code
	calls  []Request
}

func (f *fakeRunner) RunPhase(_ context.Context, req Request) (exitcode.Code, *manifest.Manifest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	code := exitcode.Success
	if q := f.script[req.Phase.Name]; len(q) > 0 {
		code, f.script[req.Phase.Name] = q[0], q[1:]
	}
	m := manifest.New(manifest.KindStages)
	e := manifest.Entry{Name: "only"}
	if code.IsSuccess() {
		e.Artifact = "/artifacts/" + req.Phase.Name + ".md"
	} else {
		e.Error = "boom"
	}
	m.Add(e, code)
	return code, m.Finish(code)
}

func (f *fakeRunner) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Phase.Name == name {
			n++
		}
	}
	return n
}

func stagePhase(name string, deps ...string) pipeline.Phase {
	return pipeline.Phase{Name: name, Orchestrator: "stage:implement", Target: name + "/", DependsOn: deps}
}

func newTestCoordinator(t *testing.T, r Runner, opts ...Option) (*Coordinator, *session.Session) {
	t.Helper()
	sess, err := session.Create(t.TempDir())
	require.NoError(t, err)
	return New(r, sess, opts...), sess
}

func TestAllPhasesSucceed(t *testing.T) {
	fr := &fakeRunner{}
	c, sess := newTestCoordinator(t, fr, WithMaxDepth(5))

	code, m := c.Run(context.Background(), Run{Phases: []pipeline.Phase{stagePhase("a"), stagePhase("b", "a")}, Depth: 1})

	assert.Equal(t, exitcode.Success, code)
	require.Len(t, m.Phases, 2)
	assert.Equal(t, "/artifacts/b.md", m.Phases[1].Artifact)

	paths, err := checkpoint.List(sess.CheckpointsDir())
	require.NoError(t, err)
	assert.Len(t, paths, 2, "one checkpoint per attempt")

	cp, _, err := checkpoint.Latest(sess.CheckpointsDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cp.CompletedPhases)
	assert.Empty(t, cp.PendingPhases)
	assert.Equal(t, 1, cp.DepthUsed)
	assert.Equal(t, 5, cp.DepthMax)
	assert.Equal(t, sess.TraceID, cp.TraceID)
}

func TestUnmetDependencySkips(t *testing.T) {
	fr := &fakeRunner{script: map[string][]exitcode.Code{"a": {exitcode.Failure, exitcode.Failure}}}
	c, _ := newTestCoordinator(t, fr)

	code, m := c.Run(context.Background(), Run{Phases: []pipeline.Phase{
		stagePhase("a"),
		stagePhase("b", "a"),
		stagePhase("c", "ghost"),
		stagePhase("d", "e"),
		stagePhase("e"),
	}})

	assert.Equal(t, exitcode.PartialSuccess, code)
	assert.Zero(t, fr.count("b"), "dependency failed")
	assert.Zero(t, fr.count("c"), "dependency never listed")
	assert.Zero(t, fr.count("d"), "dependency listed later")
	assert.Equal(t, 1, fr.count("e"))

	require.Len(t, m.Phases, 5)
	for _, i := range []int{1, 2, 3} {
		assert.Equal(t, manifest.StatusSkipped, m.Phases[i].Status)
		assert.Equal(t, exitcode.StatusFailure, m.Phases[i].ExitCode)
	}
	assert.Equal(t, 4, m.Summary.Failed)
}

func TestFailureRetriedOnce(t *testing.T) {
	fr := &fakeRunner{script: map[string][]exitcode.Code{"a": {exitcode.Failure, exitcode.Success}}}
	c, sess := newTestCoordinator(t, fr)

	code, m := c.Run(context.Background(), Run{Phases: []pipeline.Phase{stagePhase("a")}})
	assert.Equal(t, exitcode.Success, code)
	assert.Equal(t, 2, fr.count("a"))
	assert.Equal(t, 2, m.Phases[0].Attempts)

	fr.mu.Lock()
	assert.NotEqual(t, fr.calls[0].RunID, fr.calls[1].RunID, "each attempt gets its own run id")
	fr.mu.Unlock()

	paths, err := checkpoint.List(sess.CheckpointsDir())
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}

func TestFailureExhaustsSingleRetry(t *testing.T) {
	fr := &fakeRunner{script: map[string][]exitcode.Code{"a": {exitcode.Failure, exitcode.Failure, exitcode.Success}}}
	c, sess := newTestCoordinator(t, fr)

	code, m := c.Run(context.Background(), Run{Phases: []pipeline.Phase{stagePhase("a")}})
	assert.Equal(t, exitcode.Failure, code)
	assert.Equal(t, 2, fr.count("a"))
	assert.Contains(t, m.Phases[0].Error, "boom")

	failures, err := signal.NewStore(sess.Dir, nil).ListFailures()
	require.NoError(t, err)
	assert.Len(t, failures, 2)
}

func TestNonAbsorbableAborts(t *testing.T) {
	fr := &fakeRunner{script: map[string][]exitcode.Code{"a": {exitcode.Timeout}}}
	c, sess := newTestCoordinator(t, fr)

	code, _ := c.Run(context.Background(), Run{Phases: []pipeline.Phase{stagePhase("a"), stagePhase("b")}})
	assert.Equal(t, exitcode.Timeout, code)
	assert.Equal(t, 1, fr.count("a"))
	assert.Zero(t, fr.count("b"))

	cp, _, err := checkpoint.Latest(sess.CheckpointsDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cp.PendingPhases, "an aborted attempt leaves the phase pending")
}

func TestResumeSkipsCompletedPhases(t *testing.T) {
	fr := &fakeRunner{script: map[string][]exitcode.Code{"b": {exitcode.Interrupted}}}
	c, _ := newTestCoordinator(t, fr)
	phases := []pipeline.Phase{stagePhase("a"), stagePhase("b", "a")}

	code, _ := c.Run(context.Background(), Run{Phases: phases, Cycle: 0})
	require.Equal(t, exitcode.Interrupted, code)

	code, m := c.Run(context.Background(), Run{Phases: phases, Cycle: 0})
	assert.Equal(t, exitcode.Success, code)
	assert.Equal(t, 1, fr.count("a"), "a resumed from its signal")
	assert.Equal(t, 2, fr.count("b"))
	assert.Equal(t, "/artifacts/a.md", m.Phases[0].Artifact)

	// a new cycle runs everything again
	_, _ = c.Run(context.Background(), Run{Phases: phases, Cycle: 1})
	assert.Equal(t, 2, fr.count("a"))
}

func TestPartialPhaseCounts(t *testing.T) {
	fr := &fakeRunner{script: map[string][]exitcode.Code{"a": {exitcode.PartialSuccess}}}
	c, _ := newTestCoordinator(t, fr)

	code, _ := c.Run(context.Background(), Run{Phases: []pipeline.Phase{stagePhase("a"), stagePhase("b", "a")}})
	assert.Equal(t, exitcode.PartialSuccess, code)
	assert.Equal(t, 1, fr.count("b"), "partial success satisfies dependencies")
}

func TestAllFailed(t *testing.T) {
	fr := &fakeRunner{script: map[string][]exitcode.Code{"a": {exitcode.NeedsEscalation}}}
	c, _ := newTestCoordinator(t, fr)

	code, _ := c.Run(context.Background(), Run{Phases: []pipeline.Phase{stagePhase("a")}})
	assert.Equal(t, exitcode.Failure, code)
	assert.Equal(t, 1, fr.count("a"), "only plain failures are retried")
}

func TestInvalidPhaseList(t *testing.T) {
	c, _ := newTestCoordinator(t, &fakeRunner{})
	code, _ := c.Run(context.Background(), Run{Phases: []pipeline.Phase{{Name: "a", Orchestrator: "bogus"}}})
	assert.Equal(t, exitcode.Failure, code)
}

func TestPhaseEvents(t *testing.T) {
	bus := event.NewBus(nil)
	var phases, checkpoints int
	bus.Subscribe(event.TypePhaseFinished, func(event.Event) { phases++ })
	bus.Subscribe(event.TypeCheckpointWritten, func(event.Event) { checkpoints++ })
	c, _ := newTestCoordinator(t, &fakeRunner{}, WithBus(bus))

	c.Run(context.Background(), Run{Phases: []pipeline.Phase{stagePhase("a"), stagePhase("b", "x")}})
	assert.Equal(t, 2, phases)
	assert.Equal(t, 2, checkpoints)
}

func TestRequestCarriesContext(t *testing.T) {
	fr := &fakeRunner{}
	c, sess := newTestCoordinator(t, fr)
	p := pipeline.Phase{Name: "api", Orchestrator: "fanout:research", Modifier: "focus on latency"}

	c.Run(context.Background(), Run{Phases: []pipeline.Phase{p}, Topic: "t", Notes: []string{"/heal-1.md"}, WorkDir: "/repo", Depth: 2, Cycle: 1})

	require.Len(t, fr.calls, 1)
	req := fr.calls[0]
	assert.Equal(t, pipeline.Ref{Kind: pipeline.KindFanout, Name: "research"}, req.Ref)
	assert.Equal(t, sess.Dir, req.SessionDir)
	assert.Equal(t, []string{"/heal-1.md"}, req.Notes)
	assert.Equal(t, 2, req.Depth)
	assert.Equal(t, "/repo", req.WorkDir)
	assert.Contains(t, req.RunID, "c1-api-")
}
