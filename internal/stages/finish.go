package stages

import (
	"context"

	"claimflow/internal/claim"
)

const StageFinish = "finish"

// finishStage does no work; the loop terminates before dispatching to it.
type finishStage struct{}

func (finishStage) Definition() Definition {
	return Definition{
		Name:        StageFinish,
		Description: "Complete processing and return the final result",
	}
}

func (finishStage) Run(context.Context, Inputs, *claim.State) (Outcome, error) {
	return Outcome{Observation: "COMPLETE", Output: map[string]any{}}, nil
}
