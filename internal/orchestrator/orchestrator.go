// Package orchestrator drives one claim run: it asks the oracle for the next
// stage, dispatches it, records the observation and stops on finish, on the
// iteration cap, on an oracle outage or on cancellation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"claimflow/internal/async"
	"claimflow/internal/claim"
	claimerrors "claimflow/internal/errors"
	"claimflow/internal/logging"
	"claimflow/internal/observability"
	"claimflow/internal/oracle"
	"claimflow/internal/stages"
)

// DefaultMaxIterations bounds the number of dispatched stages per run.
const DefaultMaxIterations = 10

// Oracle proposes the next stage.
type Oracle interface {
	Propose(ctx context.Context, state *claim.State) (oracle.Proposal, error)
}

// Dispatcher executes a named stage.
type Dispatcher interface {
	Execute(ctx context.Context, name string, inputs stages.Inputs, state *claim.State) (stages.Outcome, error)
}

// RunRecorder tracks in-flight runs.
type RunRecorder interface {
	IncrementActiveRuns(ctx context.Context)
	DecrementActiveRuns(ctx context.Context)
}

// Config tunes the loop.
type Config struct {
	MaxIterations int `yaml:"max_iterations" mapstructure:"max_iterations"`
	// ReportParseFailure terminates fallback proposals with parse-failure
	// instead of explicit-finish.
	ReportParseFailure bool `yaml:"report_parse_failure" mapstructure:"report_parse_failure"`
}

// Dependencies wires the orchestrator.
type Dependencies struct {
	Oracle   Oracle
	Stages   Dispatcher
	Config   Config
	Metrics  *Metrics
	Runs     RunRecorder
	Tracer   *observability.TracerProvider
	Listener EventListener
	Logger   logging.Logger
	Clock    func() time.Time
}

// Orchestrator runs claims. It holds no per-run state and may be shared.
type Orchestrator struct {
	oracle   Oracle
	stages   Dispatcher
	config   Config
	metrics  *Metrics
	runs     RunRecorder
	tracer   *observability.TracerProvider
	listener EventListener
	logger   logging.Logger
	now      func() time.Time
}

// New validates deps and returns an orchestrator.
func New(deps Dependencies) (*Orchestrator, error) {
	if deps.Oracle == nil {
		return nil, errors.New("orchestrator: oracle is required")
	}
	if deps.Stages == nil {
		return nil, errors.New("orchestrator: stage dispatcher is required")
	}
	if deps.Config.MaxIterations <= 0 {
		deps.Config.MaxIterations = DefaultMaxIterations
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	logger := deps.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("orchestrator")
	}
	return &Orchestrator{
		oracle:   deps.Oracle,
		stages:   deps.Stages,
		config:   deps.Config,
		metrics:  deps.Metrics,
		runs:     deps.Runs,
		tracer:   deps.Tracer,
		listener: deps.Listener,
		logger:   logger,
		now:      deps.Clock,
	}, nil
}

// RunOption customises a single run.
type RunOption func(*runOptions)

type runOptions struct {
	listeners []EventListener
	onState   func(*claim.State)
}

// WithListener adds a listener for this run only.
func WithListener(listener EventListener) RunOption {
	return func(o *runOptions) {
		if listener != nil {
			o.listeners = append(o.listeners, listener)
		}
	}
}

// WithStateHook is called with the fresh state before the first proposal.
func WithStateHook(hook func(*claim.State)) RunOption {
	return func(o *runOptions) {
		o.onState = hook
	}
}

// Run processes files to completion. It always returns a well-formed result;
// failures surface as the termination reason and the last observation.
func (o *Orchestrator) Run(ctx context.Context, files []string, opts ...RunOption) claim.Result {
	var options runOptions
	for _, opt := range opts {
		opt(&options)
	}
	listener := multiListener(append([]EventListener{o.listener}, options.listeners...))

	state := claim.NewState(files)
	if options.onState != nil {
		options.onState(state)
	}

	ctx = observability.ContextWithRunID(ctx, state.RunID)
	ctx, span := o.tracer.StartSpan(ctx, observability.SpanClaimRun)
	defer span.End()

	logger := logging.WithRunID(o.logger, state.RunID)
	logger.Info("Starting claim run with %d files", len(files))

	if o.runs != nil {
		o.runs.IncrementActiveRuns(ctx)
		defer o.runs.DecrementActiveRuns(ctx)
	}
	o.emit(listener, Event{Type: EventRunStarted, RunID: state.RunID})

	for !state.Terminal {
		o.step(ctx, state, listener, logger)
	}

	result := state.Snapshot()
	span.SetAttributes(observability.StatusAttrs(string(result.TerminationReason))...)
	o.metrics.IncRunFinished(string(result.TerminationReason))
	logger.Info("Claim run finished after %d iterations: %s", result.Iterations, result.TerminationReason)

	o.emit(listener, Event{
		Type:        EventRunFinished,
		RunID:       state.RunID,
		Iteration:   state.Iteration,
		Observation: state.LastObservation,
		Result:      &result,
	})
	return result
}

// step runs one Proposing → Dispatching → Observing cycle.
func (o *Orchestrator) step(ctx context.Context, state *claim.State, listener EventListener, logger logging.Logger) {
	if ctx.Err() != nil {
		state.Terminate(claim.ReasonCancelled)
		return
	}

	iterCtx, span := o.tracer.StartSpan(ctx, observability.SpanLoopIteration,
		observability.IterationAttrs(state.Iteration)...)
	defer span.End()

	proposal, err := o.propose(iterCtx, state)
	if err != nil {
		span.SetAttributes(observability.ErrorAttrs(err)...)
		if ctx.Err() != nil {
			state.Terminate(claim.ReasonCancelled)
			return
		}
		logger.Error("Oracle unavailable: %v", err)
		state.LastObservation = "Oracle unavailable: " + claimerrors.FormatForObservation(err)
		state.Terminate(claim.ReasonOracleUnavailable)
		return
	}
	span.SetAttributes(observability.StageAttrs(proposal.Stage)...)
	o.emit(listener, Event{
		Type:      EventProposal,
		RunID:     state.RunID,
		Iteration: state.Iteration,
		Stage:     proposal.Stage,
		Thought:   proposal.Thought,
		Fallback:  proposal.Fallback,
	})

	if proposal.Stage == oracle.FinishStage {
		o.finish(iterCtx, state, proposal)
		return
	}

	inputs := stages.Inputs{}
	for k, v := range proposal.Inputs {
		inputs[k] = v
	}
	if !inputs.Has("files") {
		inputs["files"] = state.InputFiles()
	}
	logger.Info("ACT: %s with %d files", proposal.Stage, len(inputs.Strings("files")))

	observation, outcome, ok := o.dispatch(iterCtx, proposal.Stage, inputs, state)

	state.LastObservation = observation
	if ok {
		state.Record(proposal.Stage, outcome.Output)
		if outcome.Decision != nil {
			state.SetDecision(*outcome.Decision)
		}
	} else {
		state.CurrentStage = proposal.Stage
	}
	state.Advance()
	logger.Info("OBSERVE: %s", observation)

	o.emit(listener, Event{
		Type:        EventStageObserved,
		RunID:       state.RunID,
		Iteration:   state.Iteration,
		Stage:       proposal.Stage,
		Observation: observation,
	})

	if state.Iteration > o.config.MaxIterations {
		logger.Warn("Iteration cap %d exceeded", o.config.MaxIterations)
		state.Terminate(claim.ReasonIterationCap)
	}
}

func (o *Orchestrator) propose(ctx context.Context, state *claim.State) (oracle.Proposal, error) {
	var proposal oracle.Proposal
	err := async.Call(logging.FromContext(ctx, o.logger), "oracle", func() error {
		var proposeErr error
		proposal, proposeErr = o.oracle.Propose(ctx, state)
		return proposeErr
	})
	return proposal, err
}

// dispatch executes stage and converts failures into observations. ok is
// false when the stage produced no output to merge.
func (o *Orchestrator) dispatch(ctx context.Context, stage string, inputs stages.Inputs, state *claim.State) (string, stages.Outcome, bool) {
	ctx, span := o.tracer.StartSpan(ctx, observability.SpanStageExecute, observability.StageAttrs(stage)...)
	defer span.End()

	started := o.now()
	outcome, err := o.stages.Execute(ctx, stage, inputs, state)
	duration := o.now().Sub(started)

	switch {
	case errors.Is(err, stages.ErrUnknownStage):
		o.metrics.ObserveStageDuration(stage, "unknown", duration)
		span.SetAttributes(observability.StatusAttrs("unknown")...)
		return fmt.Sprintf("Unknown action: %s", stage), stages.Outcome{}, false
	case err != nil:
		o.metrics.ObserveStageDuration(stage, "failed", duration)
		o.metrics.IncStageFailure(stage, claimerrors.GetErrorType(err).String())
		span.SetAttributes(observability.ErrorAttrs(err)...)
		logging.FromContext(ctx, o.logger).Warn("Stage %s failed: %v", stage, err)
		return fmt.Sprintf("Stage %s failed: %s", stage, claimerrors.FormatForObservation(err)), stages.Outcome{}, false
	}

	o.metrics.ObserveStageDuration(stage, "ok", duration)
	return outcome.Observation, outcome, true
}

func (o *Orchestrator) finish(ctx context.Context, state *claim.State, proposal oracle.Proposal) {
	reason := claim.ReasonExplicitFinish
	if proposal.Fallback && o.config.ReportParseFailure {
		reason = claim.ReasonParseFailure
	}

	observation := "COMPLETE"
	if outcome, err := o.stages.Execute(ctx, oracle.FinishStage, stages.Inputs{}, state); err == nil && outcome.Observation != "" {
		observation = outcome.Observation
	}
	state.LastObservation = observation
	state.CurrentStage = oracle.FinishStage
	state.Terminate(reason)
}

func (o *Orchestrator) emit(listener EventListener, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = o.now()
	}
	listener.OnEvent(event)
}
