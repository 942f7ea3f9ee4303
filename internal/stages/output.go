package stages

import (
	"context"
	"fmt"
	"sort"

	"claimflow/internal/claim"
	claimerrors "claimflow/internal/errors"
	"claimflow/internal/logging"
	"claimflow/internal/sink"
)

const StageOutput = "output"

type outputStage struct {
	deps Deps
}

func (s *outputStage) Definition() Definition {
	return Definition{
		Name:        StageOutput,
		Description: "Generate reports and store to database",
		Reads:       []string{"claim_data", "decision", "reasons"},
		Writes:      []string{"claim_id", "reports", "stored_in_db"},
	}
}

func (s *outputStage) Run(ctx context.Context, inputs Inputs, state *claim.State) (Outcome, error) {
	claimData, ok := inputs.Map("claim_data")
	if !ok && state != nil {
		if out, found := state.Output(StageAnalyze); found {
			claimData, _ = Inputs(out).Map("claim_json")
		}
	}
	if claimData == nil {
		claimData = map[string]any{}
	}

	decision, _ := inputs.String("decision")
	reasons, _ := inputs.String("reasons")
	if state != nil && state.Decision != nil {
		if decision == "" {
			decision = string(state.Decision.Decision)
		}
		if reasons == "" {
			reasons = state.Decision.Reasons
		}
	}
	if decision == "" {
		decision = string(claim.DecisionQuery)
	}

	runID := ""
	if state != nil {
		runID = state.RunID
	}
	claimID, _ := claimData["claim_id"].(string)
	if claimID == "" {
		claimID = runID
	}
	details := claimData
	if nested, ok := claimData["claim_json"].(map[string]any); ok {
		details = nested
	}

	logger := logging.FromContext(ctx, s.deps.Logger)
	output := map[string]any{
		"claim_id":     claimID,
		"reports":      map[string]string{},
		"stored_in_db": false,
	}

	var reports map[string]string
	if s.deps.Reports != nil {
		paths, err := s.deps.Reports.Write(ctx, sink.Report{
			ClaimID:      claimID,
			RunID:        runID,
			Decision:     decision,
			Reasons:      reasons,
			ClaimDetails: details,
		})
		if err != nil {
			logger.Warn("Report generation failed for claim %s: %v", claimID, err)
			output["report_error"] = claimerrors.FormatForObservation(err)
		} else {
			reports = paths
			output["reports"] = paths
		}
	}

	stored := false
	if s.deps.Store != nil {
		err := s.deps.Store.Save(ctx, sink.Record{
			ClaimID:   claimID,
			RunID:     runID,
			Decision:  decision,
			Reasons:   reasons,
			ClaimData: claimData,
			Reports:   reports,
		})
		if err != nil {
			logger.Warn("Storing claim %s failed: %v", claimID, err)
			output["store_error"] = claimerrors.FormatForObservation(err)
		} else {
			stored = true
		}
	}
	output["stored_in_db"] = stored

	kinds := make([]string, 0, len(reports))
	for kind := range reports {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	return Outcome{
		Observation: fmt.Sprintf("Reports generated: %v. Stored in DB: %t", kinds, stored),
		Output:      output,
	}, nil
}
