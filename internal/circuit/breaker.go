// Package circuit implements a per-agent-type circuit breaker whose state
// is persisted in the session so separate processes share it.
//
// Each (session, agent type) pair has a JSON state file under .circuits/
// guarded by its own exclusive file lock. Check, RecordSuccess and
// RecordFailure each run one locked read-modify-write, which makes them
// atomic with respect to every other caller on the same key, in this
// process or another.
package circuit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/filelock"
	"github.com/Iron-Ham/conductor/internal/logging"
	"github.com/Iron-Ham/conductor/internal/session"
	"github.com/Iron-Ham/conductor/internal/util"
)

// State is the breaker state for one key.
type State string

const (
	// StateClosed allows invocations.
	StateClosed State = "closed"
	// StateOpen denies invocations until the reset timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen allows probe invocations.
	StateHalfOpen State = "half_open"
)

// Config holds breaker thresholds.
type Config struct {
	// FailureThreshold is the number of failures in closed state that
	// opens the circuit.
	FailureThreshold int `mapstructure:"failure_threshold"`
	// SuccessThreshold is the number of half-open successes that close it.
	SuccessThreshold int `mapstructure:"success_threshold"`
	// ResetTimeout is how long an open circuit denies before probing.
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		ResetTimeout:     60 * time.Second,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	return c
}

// Record is the persisted state of one key.
type Record struct {
	State             State     `json:"state"`
	FailureCount      int       `json:"failure_count"`
	LastFailureTime   time.Time `json:"last_failure_time,omitzero"`
	HalfOpenSuccesses int       `json:"half_open_successes"`
}

// Breaker reads and mutates circuit records in one session.
type Breaker struct {
	dir    string
	cfg    Config
	now    func() time.Time
	logger *logging.Logger
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithLogger sets the logger for state transitions.
func WithLogger(l *logging.Logger) Option {
	return func(b *Breaker) { b.logger = l }
}

// New returns a Breaker storing state in the session's .circuits directory.
func New(sessionDir string, cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		dir:    filepath.Join(sessionDir, session.DirCircuits),
		cfg:    cfg.normalized(),
		now:    time.Now,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logging.OrNop(b.logger)
	return b
}

// Config returns the effective thresholds.
func (b *Breaker) Config() Config {
	return b.cfg
}

func (b *Breaker) statePath(agentType string) string {
	return filepath.Join(b.dir, util.Slug(agentType)+".json")
}

func (b *Breaker) lockPath(agentType string) string {
	return filepath.Join(b.dir, util.Slug(agentType)+".lock")
}

// Check reports whether an invocation of agentType may proceed. An open
// circuit whose reset timeout has elapsed moves to half-open and allows the
// call. A denied check returns a *errors.CircuitError.
func (b *Breaker) Check(ctx context.Context, agentType string) error {
	var denied error
	err := b.update(ctx, agentType, func(r *Record) bool {
		if r.State != StateOpen {
			return false
		}
		now := b.now()
		retryAt := r.LastFailureTime.Add(b.cfg.ResetTimeout)
		if now.Before(retryAt) {
			denied = errors.NewCircuitError(agentType, retryAt)
			return false
		}
		r.State = StateHalfOpen
		r.HalfOpenSuccesses = 0
		b.logger.Info("circuit half-open", "agent_type", agentType)
		return true
	})
	if err != nil {
		return err
	}
	return denied
}

// RecordSuccess notes a successful invocation. In half-open state enough
// successes close the circuit; in closed state the failure count resets.
func (b *Breaker) RecordSuccess(ctx context.Context, agentType string) error {
	return b.update(ctx, agentType, func(r *Record) bool {
		switch r.State {
		case StateHalfOpen:
			r.HalfOpenSuccesses++
			if r.HalfOpenSuccesses >= b.cfg.SuccessThreshold {
				r.State = StateClosed
				r.FailureCount = 0
				r.HalfOpenSuccesses = 0
				b.logger.Info("circuit closed", "agent_type", agentType)
			}
			return true
		case StateClosed:
			if r.FailureCount == 0 {
				return false
			}
			r.FailureCount = 0
			return true
		}
		return false
	})
}

// RecordFailure notes a failed invocation. A half-open failure reopens the
// circuit immediately; in closed state the circuit opens once the failure
// threshold is reached.
func (b *Breaker) RecordFailure(ctx context.Context, agentType string) error {
	return b.update(ctx, agentType, func(r *Record) bool {
		r.FailureCount++
		r.LastFailureTime = b.now()
		switch r.State {
		case StateHalfOpen:
			r.State = StateOpen
			r.HalfOpenSuccesses = 0
			b.logger.Warn("circuit reopened", "agent_type", agentType)
		case StateClosed:
			if r.FailureCount >= b.cfg.FailureThreshold {
				r.State = StateOpen
				b.logger.Warn("circuit opened",
					"agent_type", agentType,
					"failures", r.FailureCount,
				)
			}
		}
		return true
	})
}

// Get returns the current record without modifying it.
func (b *Breaker) Get(ctx context.Context, agentType string) (Record, error) {
	var out Record
	err := b.update(ctx, agentType, func(r *Record) bool {
		out = *r
		return false
	})
	return out, err
}

// Reset closes the circuit and clears its counters.
func (b *Breaker) Reset(ctx context.Context, agentType string) error {
	return b.update(ctx, agentType, func(r *Record) bool {
		*r = Record{State: StateClosed}
		return true
	})
}

// AgentTypes lists keys with persisted state.
func (b *Breaker) AgentTypes() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && filepath.Ext(name) == ".json" {
			out = append(out, name[:len(name)-len(".json")])
		}
	}
	return out, nil
}

// update runs fn on the key's record under its lock and persists the record
// when fn reports a change.
func (b *Breaker) update(ctx context.Context, agentType string, fn func(*Record) bool) error {
	if agentType == "" {
		return fmt.Errorf("%w: empty agent type", errors.ErrInvalidInput)
	}
	return filelock.With(ctx, b.lockPath(agentType), func() error {
		path := b.statePath(agentType)
		rec, err := load(path)
		if err != nil {
			return err
		}
		if !fn(&rec) {
			return nil
		}
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal circuit state: %w", err)
		}
		return util.WriteFileAtomic(path, data, 0644)
	})
}

func load(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{State: StateClosed}, nil
		}
		return Record{}, fmt.Errorf("read circuit state: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("parse circuit state %s: %w", path, err)
	}
	if rec.State == "" {
		rec.State = StateClosed
	}
	return rec, nil
}
