package claim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStateCopiesInputFiles(t *testing.T) {
	files := []string{"a.pdf", "b.pdf"}
	state := NewState(files)
	files[0] = "mutated.pdf"

	require.Equal(t, []string{"a.pdf", "b.pdf"}, state.InputFiles())
	got := state.InputFiles()
	got[1] = "other.pdf"
	require.Equal(t, []string{"a.pdf", "b.pdf"}, state.InputFiles())
	require.NotEmpty(t, state.RunID)
	require.Equal(t, StartStage, state.CurrentStage)
	require.Zero(t, state.Iteration)
	require.False(t, state.Terminal)
	require.Nil(t, state.Decision)
}

func TestTerminateIsMonotone(t *testing.T) {
	state := NewState(nil)

	require.True(t, state.Terminate(ReasonIterationCap))
	require.False(t, state.Terminate(ReasonExplicitFinish))
	require.True(t, state.Terminal)
	require.Equal(t, ReasonIterationCap, state.TerminationReason)
}

func TestRecordOverwritesOwnStage(t *testing.T) {
	state := NewState([]string{"a.pdf"})
	state.Record("extract", map[string]any{"attempt": 1})
	state.Record("extract", map[string]any{"attempt": 2})

	out, ok := state.Output("extract")
	require.True(t, ok)
	assert.Equal(t, 2, out["attempt"])
	assert.Len(t, state.StageOutputs, 1)
	assert.Equal(t, "extract", state.CurrentStage)
}

func TestSnapshotStatus(t *testing.T) {
	state := NewState([]string{"a.pdf"})
	state.Advance()
	state.SetDecision(Decision{Decision: DecisionApprove, Reasons: "ok"})

	res := state.Snapshot()
	assert.Equal(t, "incomplete", res.Status)
	assert.True(t, res.HasDecision())

	state.Terminate(ReasonExplicitFinish)
	res = state.Snapshot()
	assert.Equal(t, "completed", res.Status)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, ReasonExplicitFinish, res.TerminationReason)

	res.Decision.Reasons = "changed"
	assert.Equal(t, "ok", state.Decision.Reasons)
}

func TestParseDecisionValue(t *testing.T) {
	cases := map[string]DecisionValue{
		"Decision: APPROVE\nReasons: fine":  DecisionApprove,
		"Decision: reject":                  DecisionReject,
		"I cannot tell":                     DecisionQuery,
		"":                                  DecisionQuery,
		"approve or reject? approve it":     DecisionApprove,
		"Decision: query\nReasons: missing": DecisionQuery,
	}
	for text, want := range cases {
		assert.Equal(t, want, ParseDecisionValue(text), text)
	}
	assert.True(t, DecisionQuery.Valid())
	assert.False(t, DecisionValue("maybe").Valid())
}
