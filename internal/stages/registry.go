// Package stages holds the named units of claim pipeline work and the
// registry the orchestration loop dispatches through.
package stages

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"claimflow/internal/async"
	"claimflow/internal/claim"
	"claimflow/internal/logging"
	tokenutil "claimflow/internal/shared/token"
)

// MaxObservationLength bounds the observation handed back to the oracle.
const MaxObservationLength = 300

// ErrUnknownStage matches every *UnknownStageError.
var ErrUnknownStage = errors.New("unknown stage")

// UnknownStageError is returned when no stage is registered under Name.
type UnknownStageError struct {
	Name string
}

func (e *UnknownStageError) Error() string {
	return fmt.Sprintf("unknown stage: %s", e.Name)
}

func (e *UnknownStageError) Is(target error) bool {
	return target == ErrUnknownStage
}

// Inputs are the stage parameters proposed by the oracle.
type Inputs map[string]any

// Definition declares what a stage reads and writes.
type Definition struct {
	Name        string
	Description string
	// Reads lists the input keys the stage consumes.
	Reads []string
	// Writes lists the keys of the stage's output entry.
	Writes []string
}

// Outcome is what a stage hands back to the loop. Decision is only set by
// the decide stage.
type Outcome struct {
	Observation string
	Output      map[string]any
	Decision    *claim.Decision
}

// Stage is one unit of pipeline work. Run must treat state as read-only; the
// loop merges the outcome.
type Stage interface {
	Definition() Definition
	Run(ctx context.Context, inputs Inputs, state *claim.State) (Outcome, error)
}

// Registry maps stage names to stages.
type Registry struct {
	mu     sync.RWMutex
	stages map[string]Stage
	order  []string
	logger logging.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		stages: make(map[string]Stage),
		logger: logging.NewComponentLogger("stages"),
	}
}

// Register adds stage. Names must be unique.
func (r *Registry) Register(stage Stage) error {
	name := stage.Definition().Name
	if name == "" {
		return fmt.Errorf("stage name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.stages[name]; exists {
		return fmt.Errorf("stage already registered: %s", name)
	}
	r.stages[name] = stage
	r.order = append(r.order, name)
	return nil
}

// Get returns the stage registered under name.
func (r *Registry) Get(name string) (Stage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stage, ok := r.stages[name]
	if !ok {
		return nil, &UnknownStageError{Name: name}
	}
	return stage, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, err := r.Get(name)
	return err == nil
}

// Definitions returns every definition in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.stages[name].Definition())
	}
	return defs
}

// Execute runs the named stage. Panics are converted into errors and the
// observation is cut to MaxObservationLength.
func (r *Registry) Execute(ctx context.Context, name string, inputs Inputs, state *claim.State) (Outcome, error) {
	stage, err := r.Get(name)
	if err != nil {
		return Outcome{}, err
	}
	if inputs == nil {
		inputs = Inputs{}
	}

	var outcome Outcome
	err = async.Call(logging.FromContext(ctx, r.logger), "stage:"+name, func() error {
		var runErr error
		outcome, runErr = stage.Run(ctx, inputs, state)
		return runErr
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("stage %s: %w", name, err)
	}

	if outcome.Output == nil {
		outcome.Output = map[string]any{}
	}
	outcome.Observation = tokenutil.TruncateRunes(outcome.Observation, MaxObservationLength)
	return outcome, nil
}
