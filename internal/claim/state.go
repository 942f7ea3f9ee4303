// Package claim holds the record threaded through one claim processing run.
package claim

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TerminationReason explains why a run stopped.
type TerminationReason string

const (
	ReasonNone              TerminationReason = ""
	ReasonExplicitFinish    TerminationReason = "explicit-finish"
	ReasonParseFailure      TerminationReason = "parse-failure"
	ReasonIterationCap      TerminationReason = "iteration-cap"
	ReasonOracleUnavailable TerminationReason = "oracle-unavailable"
	ReasonCancelled         TerminationReason = "cancelled"
)

// DecisionValue is the adjudication outcome produced by the decide stage.
type DecisionValue string

const (
	DecisionApprove DecisionValue = "approve"
	DecisionQuery   DecisionValue = "query"
	DecisionReject  DecisionValue = "reject"
)

// Valid reports whether v is one of the three known outcomes.
func (v DecisionValue) Valid() bool {
	switch v {
	case DecisionApprove, DecisionQuery, DecisionReject:
		return true
	}
	return false
}

// Decision is the structured record written by the decide stage.
type Decision struct {
	Decision DecisionValue `json:"decision"`
	Reasons  string        `json:"reasons"`
}

// StartStage is the CurrentStage value before any stage ran.
const StartStage = "start"

// State is the mutable record for a single run. It is owned by one
// orchestration loop and never shared between runs.
type State struct {
	RunID             string
	inputFiles        []string
	StageOutputs      map[string]map[string]any
	CurrentStage      string
	LastObservation   string
	Iteration         int
	Decision          *Decision
	Terminal          bool
	TerminationReason TerminationReason
}

// NewState builds a fresh state for the given input files.
func NewState(files []string) *State {
	return &State{
		RunID:        uuid.NewString(),
		inputFiles:   append([]string(nil), files...),
		StageOutputs: make(map[string]map[string]any),
		CurrentStage: StartStage,
	}
}

// InputFiles returns a copy of the files the run was started with.
func (s *State) InputFiles() []string {
	return append([]string(nil), s.inputFiles...)
}

// Output returns the recorded output of stage, if any.
func (s *State) Output(stage string) (map[string]any, bool) {
	out, ok := s.StageOutputs[stage]
	return out, ok
}

// Record stores a stage's output, replacing any earlier output of the same stage.
func (s *State) Record(stage string, output map[string]any) {
	if output == nil {
		output = map[string]any{}
	}
	s.StageOutputs[stage] = output
	s.CurrentStage = stage
}

// SetDecision overwrites the decision record.
func (s *State) SetDecision(d Decision) {
	s.Decision = &d
}

// Advance increments the iteration counter by one.
func (s *State) Advance() {
	s.Iteration++
}

// Terminate marks the run finished. The first reason wins; later calls are
// ignored so Terminal and TerminationReason never change once set.
func (s *State) Terminate(reason TerminationReason) bool {
	if s.Terminal {
		return false
	}
	if reason == ReasonNone {
		reason = ReasonExplicitFinish
	}
	s.Terminal = true
	s.TerminationReason = reason
	return true
}

// Result is the final record returned to callers.
type Result struct {
	RunID             string                    `json:"run_id"`
	Status            string                    `json:"status"`
	Decision          *Decision                 `json:"decision"`
	TerminationReason TerminationReason         `json:"termination_reason"`
	Iterations        int                       `json:"iterations"`
	LastObservation   string                    `json:"last_observation"`
	Files             []string                  `json:"files"`
	StageOutputs      map[string]map[string]any `json:"stage_outputs,omitempty"`
}

// HasDecision distinguishes "no decision reached" from an explicit decision.
func (r Result) HasDecision() bool {
	return r.Decision != nil
}

// Snapshot converts the state into a Result.
func (s *State) Snapshot() Result {
	status := "incomplete"
	if s.Terminal {
		status = "completed"
	}
	var decision *Decision
	if s.Decision != nil {
		d := *s.Decision
		decision = &d
	}
	outputs := make(map[string]map[string]any, len(s.StageOutputs))
	for k, v := range s.StageOutputs {
		outputs[k] = v
	}
	return Result{
		RunID:             s.RunID,
		Status:            status,
		Decision:          decision,
		TerminationReason: s.TerminationReason,
		Iterations:        s.Iteration,
		LastObservation:   s.LastObservation,
		Files:             s.InputFiles(),
		StageOutputs:      outputs,
	}
}

// ParseDecisionValue maps free text to a decision value, preferring approve,
// then reject, and falling back to query.
func ParseDecisionValue(text string) DecisionValue {
	lower := strings.ToLower(strings.TrimSpace(text))
	switch {
	case strings.Contains(lower, string(DecisionApprove)):
		return DecisionApprove
	case strings.Contains(lower, string(DecisionReject)):
		return DecisionReject
	default:
		return DecisionQuery
	}
}

func (d Decision) String() string {
	return fmt.Sprintf("%s (%s)", d.Decision, d.Reasons)
}
