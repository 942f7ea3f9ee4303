package stages

import (
	"context"
	"fmt"

	"claimflow/internal/batch"
	"claimflow/internal/claim"
	"claimflow/internal/remote"
)

const StageExtract = "extract"

type extractStage struct {
	deps Deps
}

func (s *extractStage) Definition() Definition {
	return Definition{
		Name:        StageExtract,
		Description: "OCR text extraction, table extraction, translation",
		Reads:       []string{"files", "start_page", "end_page", "target_language"},
		Writes:      []string{"extracted_text", "extracted_tables", "translated_text", "texts", "tables"},
	}
}

func (s *extractStage) Run(ctx context.Context, inputs Inputs, _ *claim.State) (Outcome, error) {
	files := nonEmpty(inputs.Strings("files"))
	start, end := pageRange(inputs, s.deps.Settings.StartPage, s.deps.Settings.EndPage)
	pages := batch.Params{"start_page": start, "end_page": end}

	text := s.deps.runFiles(ctx, remote.OpExtractText, files, pages)
	tables := s.deps.runFiles(ctx, remote.OpExtractTables, files, pages)

	texts := extractedTexts(text)
	language := s.deps.Settings.Language
	if v, ok := inputs.String("target_language"); ok && v != "" {
		language = v
	}
	translated := s.deps.runTexts(ctx, remote.OpTranslate, texts, batch.Params{"target_language": language})

	return Outcome{
		Observation: fmt.Sprintf("Extracted text from %d/%d docs, tables from %d/%d docs. Translated %d/%d texts to %s.",
			text.Succeeded(), len(files), tables.Succeeded(), len(files), translated.Succeeded(), len(texts), language),
		Output: map[string]any{
			"extracted_text":   text.Payloads(),
			"extracted_tables": tables.Payloads(),
			"translated_text":  translated.Payloads(),
			"texts":            texts,
			"tables":           succeededPayloads(tables),
		},
	}, nil
}

// extractedTexts collects the "text" field of every successful item.
func extractedTexts(results batch.Results) []string {
	texts := make([]string, 0, len(results))
	for _, r := range results {
		if !r.OK() {
			continue
		}
		if t, ok := r.Data["text"].(string); ok && t != "" {
			texts = append(texts, t)
		}
	}
	return texts
}

// succeededPayloads drops the failure markers.
func succeededPayloads(results batch.Results) []map[string]any {
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		if r.OK() {
			out = append(out, r.Payload())
		}
	}
	return out
}
