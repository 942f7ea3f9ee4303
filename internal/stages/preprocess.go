package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"claimflow/internal/batch"
	"claimflow/internal/claim"
	"claimflow/internal/remote"
)

const StagePreprocess = "preprocess"

type preprocessStage struct {
	deps Deps
}

func (s *preprocessStage) Definition() Definition {
	return Definition{
		Name:        StagePreprocess,
		Description: "Split documents, detect stamps and signatures, describe images",
		Reads:       []string{"files", "start_page", "end_page"},
		Writes:      []string{"processed_documents", "image_descriptions", "stamp_detections", "signature_verifications"},
	}
}

func (s *preprocessStage) Run(ctx context.Context, inputs Inputs, _ *claim.State) (Outcome, error) {
	files := nonEmpty(inputs.Strings("files"))
	documents := splitDocuments(files)

	// Page bounds are only forwarded when the caller asked for them.
	describeParams := batch.Params{}
	if v, ok := inputs.Int("start_page"); ok && v > 0 {
		describeParams["start_page"] = v
	}
	if v, ok := inputs.Int("end_page"); ok && v > 0 {
		describeParams["end_page"] = v
	}

	descriptions := s.deps.runFiles(ctx, remote.OpDescribeImage, files, describeParams)
	stamps := s.deps.runFiles(ctx, remote.OpStamp, files, nil)
	signatures := s.deps.runFiles(ctx, remote.OpSignature, files, nil)

	n := len(files)
	return Outcome{
		Observation: fmt.Sprintf("Preprocessed %d documents. Stamps: %d/%d, Signatures: %d/%d, Image descriptions: %d/%d",
			len(documents), stamps.Succeeded(), n, signatures.Succeeded(), n, descriptions.Succeeded(), n),
		Output: map[string]any{
			"processed_documents":     documents,
			"image_descriptions":      descriptions.Payloads(),
			"stamp_detections":        stamps.Payloads(),
			"signature_verifications": signatures.Payloads(),
		},
	}, nil
}

// splitDocuments treats every file as one document of unknown type.
func splitDocuments(files []string) []map[string]any {
	docs := make([]map[string]any, 0, len(files))
	for _, path := range files {
		doc := map[string]any{
			"type":      "unknown",
			"path":      path,
			"extension": strings.ToLower(filepath.Ext(path)),
		}
		if info, err := os.Stat(path); err == nil {
			doc["size_bytes"] = info.Size()
		}
		docs = append(docs, doc)
	}
	return docs
}
