// Package oracle asks the decision model which stage the claim run should
// execute next. Any answer that cannot be parsed becomes a finish proposal,
// so the loop always has a valid next action.
package oracle

import (
	"context"
	"fmt"
	"time"

	"claimflow/internal/claim"
	"claimflow/internal/llm"
	"claimflow/internal/logging"
	"claimflow/internal/observability"
	tokenutil "claimflow/internal/shared/token"
)

// Recorder receives one sample per oracle call.
type Recorder interface {
	RecordOracleRequest(ctx context.Context, model string, status string, latency time.Duration, promptTokens int)
}

// Config tunes the request sent to the model.
type Config struct {
	Temperature float64
	MaxTokens   int
}

// Adapter renders the claim state into a prompt and parses the reply.
type Adapter struct {
	client   llm.Client
	config   Config
	stages   []StageInfo
	counter  tokenutil.Counter
	recorder Recorder
	tracer   *observability.TracerProvider
	logger   logging.Logger
}

// Option customises an Adapter.
type Option func(*Adapter)

// WithStages replaces the stage list shown to the model.
func WithStages(stages []StageInfo) Option {
	return func(a *Adapter) {
		if len(stages) > 0 {
			a.stages = append([]StageInfo(nil), stages...)
		}
	}
}

// WithTokenCounter sets the prompt token counter.
func WithTokenCounter(counter tokenutil.Counter) Option {
	return func(a *Adapter) {
		if counter != nil {
			a.counter = counter
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(recorder Recorder) Option {
	return func(a *Adapter) {
		a.recorder = recorder
	}
}

// WithTracer attaches a tracer.
func WithTracer(tracer *observability.TracerProvider) Option {
	return func(a *Adapter) {
		a.tracer = tracer
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(a *Adapter) {
		a.logger = logging.OrNop(logger)
	}
}

// NewAdapter builds an adapter over client.
func NewAdapter(client llm.Client, config Config, opts ...Option) *Adapter {
	a := &Adapter{
		client:  client,
		config:  config,
		stages:  DefaultStages,
		counter: tokenutil.EstimateFast,
		logger:  logging.NewComponentLogger("oracle"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Propose returns the next stage for state. Parse failures are absorbed into
// a fallback finish proposal; only a failed model call returns an error.
func (a *Adapter) Propose(ctx context.Context, state *claim.State) (Proposal, error) {
	ctx, span := a.tracer.StartSpan(ctx, observability.SpanOraclePropose,
		observability.IterationAttrs(state.Iteration)...)
	defer span.End()

	logger := logging.FromContext(ctx, a.logger)

	system := renderSystemPrompt(a.stages, state)
	user := renderUserPrompt(state)
	promptTokens := a.counter(system) + a.counter(user)

	started := time.Now()
	resp, err := a.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: a.config.Temperature,
		MaxTokens:   a.config.MaxTokens,
		Metadata:    map[string]any{"run_id": state.RunID},
	})
	latency := time.Since(started)

	if err != nil {
		a.record(ctx, "error", latency, promptTokens)
		span.SetAttributes(observability.ErrorAttrs(err)...)
		return Proposal{}, fmt.Errorf("oracle call: %w", err)
	}

	proposal, parseErr := ParseProposal(resp.Content)
	if parseErr != nil {
		a.record(ctx, "parse_failure", latency, promptTokens)
		logger.Warn("Failed to parse oracle response (%v): %q", parseErr, truncate(resp.Content, 500))
		span.SetAttributes(observability.StatusAttrs("parse_failure")...)
		return FallbackProposal(), nil
	}

	if proposal.Repaired {
		logger.Debug("Oracle response repaired before decoding")
	}
	a.record(ctx, "ok", latency, promptTokens)
	span.SetAttributes(observability.StageAttrs(proposal.Stage)...)
	logger.Info("THINK: %s -> %s", truncate(proposal.Thought, 200), proposal.Stage)
	return proposal, nil
}

func (a *Adapter) record(ctx context.Context, status string, latency time.Duration, promptTokens int) {
	if a.recorder == nil {
		return
	}
	a.recorder.RecordOracleRequest(ctx, a.client.Model(), status, latency, promptTokens)
}

func truncate(text string, limit int) string {
	return tokenutil.TruncateRunes(text, limit)
}
