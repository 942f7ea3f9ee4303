package stages

import (
	"context"
	"fmt"
	"strings"

	"claimflow/internal/batch"
	"claimflow/internal/claim"
	"claimflow/internal/remote"
)

const StageAnalyze = "analyze"

type analyzeStage struct {
	deps Deps
}

func (s *analyzeStage) Definition() Definition {
	return Definition{
		Name:        StageAnalyze,
		Description: "NER, classification, structure claim JSON, summarize",
		Reads:       []string{"texts", "tables", "files"},
		Writes:      []string{"entities", "classifications", "summaries", "claim_json"},
	}
}

func (s *analyzeStage) Run(ctx context.Context, inputs Inputs, state *claim.State) (Outcome, error) {
	extracted := Inputs{}
	if state != nil {
		if out, ok := state.Output(StageExtract); ok {
			extracted = Inputs(out)
		}
	}

	texts := nonEmpty(inputs.Strings("texts"))
	if len(texts) == 0 {
		texts = nonEmpty(extracted.Strings("texts"))
	}
	tables := inputs.Maps("tables")
	if !inputs.Has("tables") {
		tables = extracted.Maps("tables")
	}
	if tables == nil {
		tables = []map[string]any{}
	}
	files := nonEmpty(inputs.Strings("files"))

	if len(texts) == 0 && len(files) == 0 {
		noInput := []map[string]any{{"error": "No input provided"}}
		return Outcome{
			Observation: "Analysis skipped: no texts or files provided.",
			Output: map[string]any{
				"entities":        noInput,
				"classifications": noInput,
				"summaries":       noInput,
				"claim_json":      StructureClaim(nil, tables),
			},
		}, nil
	}

	entities := s.analyzeBatch(ctx, remote.OpNER, texts, files, nil)
	classifications := s.analyzeBatch(ctx, remote.OpClassify, texts, files, nil)
	summaries := s.analyzeBatch(ctx, remote.OpSummarize, texts, files, batch.Params{
		"start_page": s.deps.Settings.SummaryStartPage,
		"end_page":   s.deps.Settings.SummaryEndPage,
	})
	claimJSON := StructureClaim(entities.Payloads(), tables)

	return Outcome{
		Observation: fmt.Sprintf("Analyzed %d items. Entities: %d/%d, Classifications: %d/%d, Summaries: %d/%d. Claim JSON structured.",
			len(entities), entities.Succeeded(), len(entities), classifications.Succeeded(), len(classifications),
			summaries.Succeeded(), len(summaries)),
		Output: map[string]any{
			"entities":        entities.Payloads(),
			"classifications": classifications.Payloads(),
			"summaries":       summaries.Payloads(),
			"claim_json":      claimJSON,
		},
	}, nil
}

// analyzeBatch prefers texts over files.
func (s *analyzeStage) analyzeBatch(ctx context.Context, operation string, texts, files []string, params batch.Params) batch.Results {
	if len(texts) > 0 {
		return s.deps.runTexts(ctx, operation, texts, params)
	}
	return s.deps.runFiles(ctx, operation, files, params)
}

// StructureClaim maps labelled entities onto the claim record. Groups
// without an "entities" list are skipped; later entities overwrite earlier
// single-valued fields.
func StructureClaim(groups []map[string]any, tables []map[string]any) map[string]any {
	patient := map[string]any{}
	provider := map[string]any{}
	policy := map[string]any{}
	amounts := map[string]any{}
	dates := map[string]any{}
	diagnosis := []string{}
	procedures := []string{}

	for _, group := range groups {
		for _, entity := range Inputs(group).Maps("entities") {
			label := strings.ToUpper(fmt.Sprint(entity["label"]))
			text, _ := entity["text"].(string)

			switch {
			case strings.Contains(label, "PATIENT"):
				patient["name"] = text
			case strings.Contains(label, "PROVIDER"), strings.Contains(label, "HOSPITAL"):
				provider["name"] = text
			case strings.Contains(label, "POLICY"):
				policy["number"] = text
			case strings.Contains(label, "DIAGNOSIS"):
				diagnosis = append(diagnosis, text)
			case strings.Contains(label, "PROCEDURE"):
				procedures = append(procedures, text)
			case strings.Contains(label, "AMOUNT"), strings.Contains(label, "COST"):
				amounts["total"] = text
			case strings.Contains(label, "DATE"):
				dates["claim_date"] = text
			}
		}
	}

	return map[string]any{
		"patient":    patient,
		"provider":   provider,
		"policy":     policy,
		"diagnosis":  diagnosis,
		"procedures": procedures,
		"amounts":    amounts,
		"dates":      dates,
		"tables":     tables,
	}
}
