// Package retry tracks attempts per unit of work (a stage or a phase) and
// decides whether a unit earns another attempt.
//
// Only a plain failure is retried. Success ends the unit, other absorbable
// codes are final for the unit, and non-absorbable codes are never retried.
package retry

import (
	"sync"

	"github.com/Iron-Ham/conductor/internal/exitcode"
)

// UnitState tracks attempts for one unit.
type UnitState struct {
	Unit       string          `json:"unit"`
	Attempts   int             `json:"attempts"`
	MaxRetries int             `json:"max_retries"`
	Codes      []exitcode.Code `json:"codes,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
}

// Last returns the code of the most recent attempt, or "" before any.
func (s *UnitState) Last() exitcode.Code {
	if len(s.Codes) == 0 {
		return ""
	}
	return s.Codes[len(s.Codes)-1]
}

// Succeeded reports whether the last attempt counted as success.
func (s *UnitState) Succeeded() bool {
	return s.Last().IsSuccess()
}

// Manager manages attempt state for units. It is safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	states map[string]*UnitState
}

// NewManager creates a new retry manager.
func NewManager() *Manager {
	return &Manager{states: make(map[string]*UnitState)}
}

// Begin returns the state for unit, creating it with maxRetries (the number
// of attempts allowed after the first).
func (m *Manager) Begin(unit string, maxRetries int) *UnitState {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[unit]
	if !ok {
		if maxRetries < 0 {
			maxRetries = 0
		}
		state = &UnitState{Unit: unit, MaxRetries: maxRetries}
		m.states[unit] = state
	}
	return state
}

// Record notes one attempt's outcome.
func (m *Manager) Record(unit string, code exitcode.Code, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[unit]
	if !ok {
		return
	}
	state.Attempts++
	state.Codes = append(state.Codes, code)
	if errMsg != "" {
		state.LastError = errMsg
	}
}

// ShouldRetry reports whether unit's last attempt failed with a plain
// failure and retries remain.
func (m *Manager) ShouldRetry(unit string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[unit]
	if !ok || state.Last() != exitcode.Failure {
		return false
	}
	return state.Attempts <= state.MaxRetries
}

// State returns a copy of unit's state, or nil.
func (m *Manager) State(unit string) *UnitState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[unit]
	if !ok {
		return nil
	}
	cp := *state
	cp.Codes = append([]exitcode.Code(nil), state.Codes...)
	return &cp
}

// Failed returns units whose last attempt did not succeed, in no
// particular order.
func (m *Manager) Failed() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for unit, state := range m.states {
		if state.Attempts > 0 && !state.Succeeded() {
			out = append(out, unit)
		}
	}
	return out
}

// Reset forgets unit.
func (m *Manager) Reset(unit string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, unit)
}
