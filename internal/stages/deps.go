package stages

import (
	"context"
	"fmt"

	"claimflow/internal/batch"
	"claimflow/internal/llm"
	"claimflow/internal/logging"
	"claimflow/internal/sink"
)

// Remote hands out batch operations for the remote analysis services.
type Remote interface {
	FileOperation(operation string) batch.Operation[string]
	TextOperation(operation string) batch.Operation[string]
}

// ReportWriter renders adjudication reports.
type ReportWriter interface {
	Write(ctx context.Context, report sink.Report) (map[string]string, error)
}

// ClaimStore persists claim records.
type ClaimStore interface {
	Save(ctx context.Context, record sink.Record) error
}

// Settings are the processing knobs shared by all stages.
type Settings struct {
	Language         string
	StartPage        int
	EndPage          int
	SummaryStartPage int
	SummaryEndPage   int
	// CheckFiles makes ingest stat every path and report missing ones.
	CheckFiles bool
	// StrictDecision turns an answer without any decision keyword into an
	// error instead of a query.
	StrictDecision      bool
	DecisionTemperature float64
	DecisionMaxTokens   int
}

// DefaultSettings mirrors the processing defaults.
func DefaultSettings() Settings {
	return Settings{
		Language:         "en",
		StartPage:        1,
		EndPage:          10,
		SummaryStartPage: 1,
		SummaryEndPage:   1,
		CheckFiles:       true,
	}
}

// Deps are the collaborators the default stages run against. Reports and
// Store are optional; without them the output stage reports false flags.
type Deps struct {
	Remote   Remote
	Batch    *batch.Executor
	Decider  llm.Client
	Reports  ReportWriter
	Store    ClaimStore
	Settings Settings
	Logger   logging.Logger
}

func (d Deps) withDefaults() Deps {
	defaults := DefaultSettings()
	if d.Settings.Language == "" {
		d.Settings.Language = defaults.Language
	}
	if d.Settings.StartPage <= 0 {
		d.Settings.StartPage = defaults.StartPage
	}
	if d.Settings.EndPage <= 0 {
		d.Settings.EndPage = defaults.EndPage
	}
	if d.Settings.SummaryStartPage <= 0 {
		d.Settings.SummaryStartPage = defaults.SummaryStartPage
	}
	if d.Settings.SummaryEndPage <= 0 {
		d.Settings.SummaryEndPage = defaults.SummaryEndPage
	}
	if d.Batch == nil {
		d.Batch = batch.NewExecutor(batch.Config{})
	}
	if logging.IsNil(d.Logger) {
		d.Logger = logging.NewComponentLogger("stages")
	}
	return d
}

func (d Deps) runFiles(ctx context.Context, operation string, files []string, params batch.Params) batch.Results {
	return batch.Run(ctx, d.Batch, operation, d.Remote.FileOperation(operation), files, params)
}

func (d Deps) runTexts(ctx context.Context, operation string, texts []string, params batch.Params) batch.Results {
	return batch.Run(ctx, d.Batch, operation, d.Remote.TextOperation(operation), texts, params)
}

// NewDefaultRegistry registers the seven pipeline stages in their canonical
// order.
func NewDefaultRegistry(deps Deps) (*Registry, error) {
	if deps.Remote == nil {
		return nil, fmt.Errorf("stages: remote client is required")
	}
	if deps.Decider == nil {
		return nil, fmt.Errorf("stages: decision client is required")
	}
	deps = deps.withDefaults()

	registry := NewRegistry()
	for _, stage := range []Stage{
		&ingestStage{deps: deps},
		&preprocessStage{deps: deps},
		&extractStage{deps: deps},
		&analyzeStage{deps: deps},
		&decideStage{deps: deps},
		&outputStage{deps: deps},
		finishStage{},
	} {
		if err := registry.Register(stage); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
