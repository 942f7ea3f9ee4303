package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ScriptedClient returns canned responses in order and repeats the last one
// once the script is exhausted. Errors in Errs are returned at the same index.
type ScriptedClient struct {
	Responses []string
	Errs      []error
	ModelName string

	mu       sync.Mutex
	calls    int
	requests []CompletionRequest
}

// NewScriptedClient returns a client answering with responses in order.
func NewScriptedClient(responses ...string) *ScriptedClient {
	return &ScriptedClient{Responses: responses, ModelName: "scripted"}
}

func (s *ScriptedClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.calls
	s.calls++
	s.requests = append(s.requests, req)

	if idx < len(s.Errs) && s.Errs[idx] != nil {
		return nil, s.Errs[idx]
	}
	if len(s.Responses) == 0 {
		return &CompletionResponse{StopReason: "stop"}, nil
	}
	if idx >= len(s.Responses) {
		idx = len(s.Responses) - 1
	}
	return &CompletionResponse{Content: s.Responses[idx], StopReason: "stop"}, nil
}

func (s *ScriptedClient) Model() string {
	if s.ModelName == "" {
		return "scripted"
	}
	return s.ModelName
}

// Calls returns how many completions were requested.
func (s *ScriptedClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Requests returns a copy of the received requests.
func (s *ScriptedClient) Requests() []CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CompletionRequest(nil), s.requests...)
}

var pipelineOrder = []string{"ingest", "preprocess", "extract", "analyze", "decide", "output", "finish"}

// PipelineMock is an offline provider. Asked for the next step it walks the
// canonical stage order from the "Current step:" line of the prompt; asked
// for a claim decision it answers with a query.
type PipelineMock struct {
	model string
}

// NewPipelineMock returns the offline provider.
func NewPipelineMock(model string) *PipelineMock {
	if model == "" {
		model = "mock"
	}
	return &PipelineMock{model: model}
}

func (m *PipelineMock) Model() string {
	return m.model
}

func (m *PipelineMock) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prompt := joinContents(req.Messages)

	if strings.Contains(prompt, "Claim Data:") {
		return &CompletionResponse{
			Content:    "Decision: query\nReasons: Offline provider cannot adjudicate; manual review required.",
			StopReason: "stop",
		}, nil
	}

	next := nextStage(currentStep(prompt))
	content := fmt.Sprintf("```json\n{\"thought\": \"Continue with %s.\", \"action\": %q, \"action_input\": {}}\n```", next, next)
	return &CompletionResponse{Content: content, StopReason: "stop"}, nil
}

func joinContents(messages []Message) string {
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		parts = append(parts, msg.Content)
	}
	return strings.Join(parts, "\n")
}

func currentStep(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "Current step:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

func nextStage(current string) string {
	for i, stage := range pipelineOrder {
		if stage == current && i+1 < len(pipelineOrder) {
			return pipelineOrder[i+1]
		}
	}
	if current == "finish" {
		return "finish"
	}
	return pipelineOrder[0]
}
