package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"claimflow/internal/claim"
)

const StageIngest = "ingest"

type ingestStage struct {
	deps Deps
}

func (s *ingestStage) Definition() Definition {
	return Definition{
		Name:        StageIngest,
		Description: "Ingest uploaded files into the system",
		Reads:       []string{"files"},
		Writes:      []string{"uploaded_files", "documents", "missing"},
	}
}

func (s *ingestStage) Run(ctx context.Context, inputs Inputs, _ *claim.State) (Outcome, error) {
	files := nonEmpty(inputs.Strings("files"))

	documents := make([]map[string]any, 0, len(files))
	missing := make([]string, 0)
	for _, path := range files {
		doc := map[string]any{
			"path":      path,
			"name":      filepath.Base(path),
			"extension": strings.ToLower(filepath.Ext(path)),
		}
		if s.deps.Settings.CheckFiles {
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				missing = append(missing, path)
				continue
			}
			doc["size_bytes"] = info.Size()
		}
		documents = append(documents, doc)
	}

	observation := fmt.Sprintf("Ingested %d files successfully.", len(documents))
	if len(missing) > 0 {
		observation += fmt.Sprintf(" Missing: %d.", len(missing))
	}
	return Outcome{
		Observation: observation,
		Output: map[string]any{
			"uploaded_files": files,
			"documents":      documents,
			"missing":        missing,
		},
	}, nil
}
