package oracle

import (
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	jsonx "claimflow/internal/shared/json"
)

// FinishStage is the pseudo-stage that ends a run.
const FinishStage = "finish"

// Proposal is the oracle's choice of the next stage.
type Proposal struct {
	Thought string
	Stage   string
	Inputs  map[string]any
	// Fallback is set when the response could not be parsed and the
	// proposal was substituted with finish.
	Fallback bool
	Repaired bool
}

// FallbackProposal is returned for any unparseable response.
func FallbackProposal() Proposal {
	return Proposal{
		Thought:  "Failed to parse response, finishing.",
		Stage:    FinishStage,
		Inputs:   map[string]any{},
		Fallback: true,
	}
}

// ExtractPayload strips decorative fencing around the structured answer.
// A ```json fence wins over a bare ``` fence; without fences the outermost
// brace span is used.
func ExtractPayload(content string) string {
	content = strings.TrimSpace(content)
	if body, ok := fenced(content, "```json"); ok {
		return body
	}
	if body, ok := fenced(content, "```"); ok {
		return body
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return content
}

func fenced(content, open string) (string, bool) {
	idx := strings.Index(content, open)
	if idx < 0 {
		return "", false
	}
	rest := content[idx+len(open):]
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest), true
}

// ParseProposal decodes an oracle response. A payload that starts with "{"
// but fails to decode gets one repair attempt.
func ParseProposal(content string) (Proposal, error) {
	payload := ExtractPayload(content)
	if payload == "" {
		return Proposal{}, fmt.Errorf("empty response")
	}

	raw, err := decodeObject(payload)
	repaired := false
	if err != nil {
		if !strings.HasPrefix(payload, "{") {
			return Proposal{}, err
		}
		fixed, repairErr := jsonrepair.JSONRepair(payload)
		if repairErr != nil {
			return Proposal{}, fmt.Errorf("decode payload: %w", err)
		}
		raw, err = decodeObject(fixed)
		if err != nil {
			return Proposal{}, fmt.Errorf("decode repaired payload: %w", err)
		}
		repaired = true
	}

	action, ok := raw["action"].(string)
	action = strings.TrimSpace(action)
	if !ok || action == "" {
		return Proposal{}, fmt.Errorf("missing action")
	}

	inputs := map[string]any{}
	switch v := raw["action_input"].(type) {
	case nil:
	case map[string]any:
		inputs = v
	default:
		return Proposal{}, fmt.Errorf("action_input must be an object, got %T", v)
	}

	thought, _ := raw["thought"].(string)
	return Proposal{
		Thought:  thought,
		Stage:    action,
		Inputs:   inputs,
		Repaired: repaired,
	}, nil
}

func decodeObject(payload string) (map[string]any, error) {
	var raw map[string]any
	if err := jsonx.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("payload is not an object")
	}
	return raw, nil
}
