package circuit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/conductor/internal/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newBreaker(t *testing.T, cfg Config) (*Breaker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(t.TempDir(), cfg, WithClock(clock.Now)), clock
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.FailureThreshold)
	assert.Equal(t, 1, cfg.SuccessThreshold)
	assert.Equal(t, 60*time.Second, cfg.ResetTimeout)

	b := New(t.TempDir(), Config{})
	assert.Equal(t, cfg, b.Config())
}

func TestStateTransitions(t *testing.T) {
	ctx := context.Background()
	b, clock := newBreaker(t, DefaultConfig())
	const agent = "research"

	require.NoError(t, b.Check(ctx, agent))

	for i := 0; i < 2; i++ {
		require.NoError(t, b.RecordFailure(ctx, agent))
	}
	rec, err := b.Get(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, rec.State)
	assert.Equal(t, 2, rec.FailureCount)

	require.NoError(t, b.RecordFailure(ctx, agent))
	rec, err = b.Get(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, rec.State)

	// Open denies until the reset timeout elapses.
	err = b.Check(ctx, agent)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCircuitOpen)
	var cerr *errors.CircuitError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, agent, cerr.AgentType)

	clock.Advance(59 * time.Second)
	assert.ErrorIs(t, b.Check(ctx, agent), errors.ErrCircuitOpen)

	clock.Advance(time.Second)
	require.NoError(t, b.Check(ctx, agent))
	rec, err = b.Get(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, rec.State)

	// A half-open failure reopens immediately.
	require.NoError(t, b.RecordFailure(ctx, agent))
	rec, err = b.Get(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, rec.State)
	assert.ErrorIs(t, b.Check(ctx, agent), errors.ErrCircuitOpen)

	// Probe again; a success closes the circuit.
	clock.Advance(time.Minute)
	require.NoError(t, b.Check(ctx, agent))
	require.NoError(t, b.RecordSuccess(ctx, agent))
	rec, err = b.Get(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, rec.State)
	assert.Zero(t, rec.FailureCount)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	ctx := context.Background()
	b, _ := newBreaker(t, DefaultConfig())

	require.NoError(t, b.RecordFailure(ctx, "a"))
	require.NoError(t, b.RecordFailure(ctx, "a"))
	require.NoError(t, b.RecordSuccess(ctx, "a"))
	require.NoError(t, b.RecordFailure(ctx, "a"))

	rec, err := b.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StateClosed, rec.State)
	assert.Equal(t, 1, rec.FailureCount)
}

func TestSuccessThreshold(t *testing.T) {
	ctx := context.Background()
	cfg := Config{FailureThreshold: 1, SuccessThreshold: 2, ResetTimeout: time.Second}
	b, clock := newBreaker(t, cfg)

	require.NoError(t, b.RecordFailure(ctx, "a"))
	clock.Advance(time.Second)
	require.NoError(t, b.Check(ctx, "a"))
	require.NoError(t, b.RecordSuccess(ctx, "a"))

	rec, err := b.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, rec.State)
	assert.Equal(t, 1, rec.HalfOpenSuccesses)

	require.NoError(t, b.RecordSuccess(ctx, "a"))
	rec, err = b.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StateClosed, rec.State)
}

func TestKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	b, _ := newBreaker(t, Config{FailureThreshold: 1})

	require.NoError(t, b.RecordFailure(ctx, "planner"))
	assert.ErrorIs(t, b.Check(ctx, "planner"), errors.ErrCircuitOpen)
	assert.NoError(t, b.Check(ctx, "reviewer"))

	types, err := b.AgentTypes()
	require.NoError(t, err)
	assert.Equal(t, []string{"planner"}, types)

	require.NoError(t, b.Reset(ctx, "planner"))
	assert.NoError(t, b.Check(ctx, "planner"))
}

func TestEmptyAgentType(t *testing.T) {
	b, _ := newBreaker(t, DefaultConfig())
	assert.ErrorIs(t, b.Check(context.Background(), ""), errors.ErrInvalidInput)
}

// Separate Breaker values stand in for separate processes sharing a session.
func TestConcurrentUpdatesSerialize(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{FailureThreshold: 1000, ResetTimeout: time.Hour}

	const workers, perWorker = 8, 5
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b := New(dir, cfg)
			for i := 0; i < perWorker; i++ {
				assert.NoError(t, b.RecordFailure(ctx, "shared"))
				assert.NoError(t, b.Check(ctx, "shared"))
			}
		}()
	}
	wg.Wait()

	rec, err := New(dir, cfg).Get(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, rec.FailureCount)
	assert.Equal(t, StateClosed, rec.State)
}
