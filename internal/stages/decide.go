package stages

import (
	"context"
	"fmt"
	"strings"

	"claimflow/internal/claim"
	"claimflow/internal/llm"
	jsonx "claimflow/internal/shared/json"
	tokenutil "claimflow/internal/shared/token"
)

const StageDecide = "decide"

const decisionPrompt = `Based on the following claim data, decide whether to approve, query, or reject the claim.
Provide detailed reasons for your decision.

Claim Data: %s

Respond in the format:
Decision: [approve/query/reject]
Reasons: [detailed explanation]
`

// AmbiguousDecisionError is returned in strict mode when the answer names no
// decision.
type AmbiguousDecisionError struct {
	Answer string
}

func (e *AmbiguousDecisionError) Error() string {
	return fmt.Sprintf("decision answer names no outcome: %q", tokenutil.TruncateRunes(e.Answer, 80))
}

type decideStage struct {
	deps Deps
}

func (s *decideStage) Definition() Definition {
	return Definition{
		Name:        StageDecide,
		Description: "Make an approve/query/reject decision",
		Reads:       []string{"claim_json"},
		Writes:      []string{"decision", "reasons"},
	}
}

func (s *decideStage) Run(ctx context.Context, inputs Inputs, state *claim.State) (Outcome, error) {
	claimJSON, ok := inputs.Map("claim_json")
	if !ok && state != nil {
		if out, found := state.Output(StageAnalyze); found {
			claimJSON, _ = Inputs(out).Map("claim_json")
		}
	}
	if claimJSON == nil {
		claimJSON = map[string]any{}
	}

	data, err := jsonx.Marshal(claimJSON)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode claim data: %w", err)
	}

	resp, err := s.deps.Decider.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: fmt.Sprintf(decisionPrompt, data)}},
		Temperature: s.deps.Settings.DecisionTemperature,
		MaxTokens:   s.deps.Settings.DecisionMaxTokens,
		Metadata:    map[string]any{"purpose": "decision"},
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("decision model: %w", err)
	}

	decision, err := ParseDecision(resp.Content, s.deps.Settings.StrictDecision)
	if err != nil {
		return Outcome{}, err
	}
	s.deps.Logger.Info("Decision made: %s", decision.Decision)

	return Outcome{
		Observation: fmt.Sprintf("Decision: %s. Reasons: %s...", decision.Decision, firstRunes(decision.Reasons, 100)),
		Output: map[string]any{
			"decision": string(decision.Decision),
			"reasons":  decision.Reasons,
		},
		Decision: &decision,
	}, nil
}

// ParseDecision reads a decision answer. The outcome prefers approve, then
// reject, then query; reasons are the text after "Reasons:" or the whole
// answer. In strict mode an answer naming none of the outcomes is an error.
func ParseDecision(answer string, strict bool) (claim.Decision, error) {
	if strict {
		lower := strings.ToLower(answer)
		if !strings.Contains(lower, string(claim.DecisionApprove)) &&
			!strings.Contains(lower, string(claim.DecisionReject)) &&
			!strings.Contains(lower, string(claim.DecisionQuery)) {
			return claim.Decision{}, &AmbiguousDecisionError{Answer: answer}
		}
	}

	reasons := answer
	if _, after, found := strings.Cut(answer, "Reasons:"); found {
		reasons = strings.TrimSpace(after)
	}
	return claim.Decision{
		Decision: claim.ParseDecisionValue(answer),
		Reasons:  reasons,
	}, nil
}

func firstRunes(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
