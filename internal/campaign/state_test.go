package campaign

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/conductor/internal/errors"
	"github.com/Iron-Ham/conductor/internal/exitcode"
	"github.com/Iron-Ham/conductor/internal/invoke"
)

func TestParseState(t *testing.T) {
	for _, in := range []string{"CEO_REVIEW", "ceo-review", " ceo_review "} {
		s, err := ParseState(in)
		require.NoError(t, err, in)
		assert.Equal(t, StateCEOReview, s)
	}
	_, err := ParseState("DANCING")
	assert.ErrorIs(t, err, errors.ErrInvalidState)
}

func TestTransitions(t *testing.T) {
	assert.True(t, StatePlanResearch.CanTransitionTo(StatePlanRefine))
	assert.True(t, StatePlanRefine.CanTransitionTo(StatePlanResearch))
	assert.True(t, StateCEOReview.CanTransitionTo(StatePlanConsolidate))
	assert.True(t, StateEvaluate.CanTransitionTo(StateHeal))
	assert.True(t, StateHeal.CanTransitionTo(StateExecute))
	assert.False(t, StatePlanResearch.CanTransitionTo(StateExecute))
	assert.False(t, StateComplete.CanTransitionTo(StatePlanResearch))
	assert.True(t, StateComplete.IsTerminal())
	for _, s := range States() {
		if s != StateComplete {
			assert.NotEmpty(t, transitions[s], "%s has no successor", s)
		}
	}
}

func TestIsApproval(t *testing.T) {
	tests := map[string]bool{
		"approve":                 true,
		"APPROVED.":               true,
		"LGTM, ship it":           true,
		"ok":                      true,
		"  Ok!\nminor nits later": true,
		"not approved":            false,
		"please add tests":        false,
		"":                        false,
	}
	for text, want := range tests {
		assert.Equal(t, want, IsApproval(text), "%q", text)
	}
}

func TestParseEmbeddedVerdicts(t *testing.T) {
	res := invoke.Result{Code: exitcode.Success, Structured: &invoke.Structured{
		Raw:    map[string]any{"type": "result"},
		Result: "Here you go:\n```json\n{\"verdict\": \"FAIL\", \"issues\": [\"no docs\"]}\n```",
	}}
	eval, err := parseEvaluation(res)
	require.NoError(t, err)
	assert.Equal(t, VerdictFail, eval.Verdict)
	assert.Equal(t, []string{"no docs"}, eval.Issues)

	res.Structured.Result = `{"sufficient": "maybe"}`
	_, err = parseSufficiency(res)
	assert.ErrorIs(t, err, errors.ErrMalformedOutput)

	_, err = parseSufficiency(invoke.Result{Code: exitcode.Success})
	assert.ErrorIs(t, err, errors.ErrMalformedOutput)
}

func TestParsePhasesFromResult(t *testing.T) {
	res := invoke.Result{Code: exitcode.Success, Structured: &invoke.Structured{
		Raw:    map[string]any{},
		Result: `{"phases": [{"name": "a", "orchestrator": "stage:implement", "depends_on": []}]}`,
	}}
	phases, err := parsePhases(res)
	require.NoError(t, err)
	require.Len(t, phases, 1)
	assert.Equal(t, "a", phases[0].Name)
}
