package oracle

import (
	"fmt"
	"strings"

	"claimflow/internal/claim"
)

// StageInfo describes one stage the oracle may choose.
type StageInfo struct {
	Name        string
	Description string
}

// DefaultStages is the canonical pipeline, in order.
var DefaultStages = []StageInfo{
	{Name: "ingest", Description: "Ingest uploaded files into the system"},
	{Name: "preprocess", Description: "Split documents, detect stamps and signatures, describe images"},
	{Name: "extract", Description: "OCR text extraction, table extraction, translation"},
	{Name: "analyze", Description: "NER, classification, structure claim JSON, summarize"},
	{Name: "decide", Description: "Make an approve/query/reject decision"},
	{Name: "output", Description: "Generate reports and store to database"},
	{Name: "finish", Description: "Complete processing and return the final result"},
}

const noObservation = "None yet"

// renderSystemPrompt fills the instruction template with the run's state.
func renderSystemPrompt(stages []StageInfo, state *claim.State) string {
	var b strings.Builder
	b.WriteString("You are a ReAct agent processing health insurance claims.\n\n")
	b.WriteString("Available Actions:\n")
	for i, stage := range stages {
		fmt.Fprintf(&b, "%d. %s - %s\n", i+1, stage.Name, stage.Description)
	}

	names := make([]string, 0, len(stages))
	for _, stage := range stages {
		names = append(names, stage.Name)
	}

	b.WriteString("\nFor each step, respond in this exact JSON format:\n")
	b.WriteString("{\n")
	b.WriteString("    \"thought\": \"Your reasoning about what to do next\",\n")
	b.WriteString("    \"action\": \"action_name\",\n")
	b.WriteString("    \"action_input\": {\"param\": \"value\"}\n")
	b.WriteString("}\n\n")
	fmt.Fprintf(&b, "Process claims sequentially: %s\n\n", strings.Join(names, " → "))

	observation := state.LastObservation
	if observation == "" {
		observation = noObservation
	}
	fmt.Fprintf(&b, "Current files: %s\n", formatFiles(state.InputFiles()))
	fmt.Fprintf(&b, "Current step: %s\n", state.CurrentStage)
	fmt.Fprintf(&b, "Previous observation: %s\n", observation)
	return b.String()
}

func renderUserPrompt(state *claim.State) string {
	return fmt.Sprintf("Iteration %d. What is your next action?", state.Iteration)
}

func formatFiles(files []string) string {
	quoted := make([]string, len(files))
	for i, f := range files {
		quoted[i] = fmt.Sprintf("%q", f)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
