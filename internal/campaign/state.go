// Package campaign implements the top-level controller that takes a topic
// from research through planning, human review, execution and evaluation.
//
// The controller is a state machine:
//
//	PLAN_RESEARCH <-> PLAN_REFINE -> PLAN_CONSOLIDATE -> PLAN_DECOMPOSE ->
//	CEO_REVIEW -> EXECUTE -> EVALUATE <-> HEAL -> REPORT -> COMPLETE
//
// CEO_REVIEW may also loop back to PLAN_CONSOLIDATE with feedback. The
// current state and loop counters are persisted to the session's
// .campaign-state file after every transition, and a later run resumes
// from there.
package campaign

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/conductor/internal/errors"
)

// State is one controller state.
type State string

const (
	StatePlanResearch    State = "PLAN_RESEARCH"
	StatePlanRefine      State = "PLAN_REFINE"
	StatePlanConsolidate State = "PLAN_CONSOLIDATE"
	StatePlanDecompose   State = "PLAN_DECOMPOSE"
	StateCEOReview       State = "CEO_REVIEW"
	StateExecute         State = "EXECUTE"
	StateEvaluate        State = "EVALUATE"
	StateHeal            State = "HEAL"
	StateReport          State = "REPORT"
	StateComplete        State = "COMPLETE"
)

var transitions = map[State][]State{
	StatePlanResearch:    {StatePlanRefine, StatePlanConsolidate},
	StatePlanRefine:      {StatePlanResearch},
	StatePlanConsolidate: {StatePlanDecompose},
	StatePlanDecompose:   {StateCEOReview},
	StateCEOReview:       {StateExecute, StatePlanConsolidate},
	StateExecute:         {StateEvaluate},
	StateEvaluate:        {StateHeal, StateReport},
	StateHeal:            {StateExecute},
	StateReport:          {StateComplete},
}

// States returns every state in workflow order.
func States() []State {
	return []State{
		StatePlanResearch,
		StatePlanRefine,
		StatePlanConsolidate,
		StatePlanDecompose,
		StateCEOReview,
		StateExecute,
		StateEvaluate,
		StateHeal,
		StateReport,
		StateComplete,
	}
}

func (s State) String() string { return string(s) }

// IsTerminal reports whether no further transitions exist.
func (s State) IsTerminal() bool { return s == StateComplete }

// CanTransitionTo reports whether next is a legal successor of s.
func (s State) CanTransitionTo(next State) bool {
	for _, n := range transitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// ParseState accepts state names in any case, with '-' or '_'.
func ParseState(s string) (State, error) {
	norm := State(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	for _, st := range States() {
		if st == norm {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown campaign state %q", errors.ErrInvalidState, s)
}

// Keys of the .campaign-state file.
const (
	KeyState          = "state"
	KeyResearchRound  = "research_round"
	KeyHealCycle      = "heal_cycle"
	KeyStartedAt      = "started_at"
	KeyUpdatedAt      = "updated_at"
	KeyOutcome        = "outcome"
	KeyTopic          = "topic"
	KeyPlan           = "plan"
	KeyPlanVersion    = "plan_version"
	KeyPlanSignal     = "plan_signal"
	KeyPhases         = "phases"
	KeyFeedback       = "feedback"
	KeyExecuteOutcome = "execute_outcome"
	// KeyResult is the code a completed campaign reports.
	KeyResult = "result"
	// KeyError describes why the last run ended in failure.
	KeyError = "error"
)

var keyOrder = []string{
	KeyState, KeyResearchRound, KeyHealCycle, KeyStartedAt, KeyUpdatedAt, KeyOutcome,
	KeyTopic, KeyPlan, KeyPlanVersion, KeyPlanSignal, KeyPhases, KeyFeedback, KeyExecuteOutcome, KeyResult,
	KeyError,
}
