package main

import (
	"fmt"
	"strings"

	"claimflow/internal/claim"
	"claimflow/internal/orchestrator"
	"claimflow/internal/stages"
)

// buildSummary renders a finished run as markdown.
func buildSummary(result claim.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Claim run `%s`\n\n", result.RunID)

	b.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Status | %s |\n", result.Status)
	fmt.Fprintf(&b, "| Termination | %s |\n", result.TerminationReason)
	fmt.Fprintf(&b, "| Iterations | %d |\n", result.Iterations)
	if result.HasDecision() {
		fmt.Fprintf(&b, "| Decision | **%s** |\n", result.Decision.Decision)
	} else {
		b.WriteString("| Decision | _no decision reached_ |\n")
	}

	if result.HasDecision() && strings.TrimSpace(result.Decision.Reasons) != "" {
		b.WriteString("\n## Reasons\n\n")
		b.WriteString(strings.TrimSpace(result.Decision.Reasons))
		b.WriteString("\n")
	}

	if len(result.Files) > 0 {
		b.WriteString("\n## Files\n\n")
		for _, file := range result.Files {
			fmt.Fprintf(&b, "- `%s`\n", file)
		}
	}

	if output, ok := result.StageOutputs[stages.StageOutput]; ok {
		if reports, ok := output["reports"].(map[string]string); ok && len(reports) > 0 {
			b.WriteString("\n## Reports\n\n")
			for _, kind := range sortedKeys(reports) {
				fmt.Fprintf(&b, "- %s: `%s`\n", kind, reports[kind])
			}
		}
	}

	if result.LastObservation != "" {
		fmt.Fprintf(&b, "\n## Last observation\n\n> %s\n", strings.ReplaceAll(result.LastObservation, "\n", " "))
	}
	return b.String()
}

// formatEvent renders one loop event as a single coloured line, or "" for
// events that are not shown.
func formatEvent(event orchestrator.Event) string {
	switch event.Type {
	case orchestrator.EventRunStarted:
		return blue("▶ ") + gray("run "+event.RunID)
	case orchestrator.EventProposal:
		line := fmt.Sprintf("%s %s", cyan(fmt.Sprintf("[%d]", event.Iteration)), bold(event.Stage))
		if event.Thought != "" {
			line += " " + gray(event.Thought)
		}
		if event.Fallback {
			line += " " + yellow("(unparseable oracle reply)")
		}
		return line
	case orchestrator.EventStageObserved:
		return "    " + green("✓ ") + event.Observation
	case orchestrator.EventRunFinished:
		if event.Result == nil {
			return ""
		}
		reason := string(event.Result.TerminationReason)
		if event.Result.TerminationReason == claim.ReasonExplicitFinish {
			return green("■ finished: " + reason)
		}
		return yellow("■ stopped: " + reason)
	}
	return ""
}
