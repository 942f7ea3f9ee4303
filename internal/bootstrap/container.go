// Package bootstrap wires the claim pipeline from a loaded configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"claimflow/internal/batch"
	"claimflow/internal/config"
	"claimflow/internal/llm"
	"claimflow/internal/logging"
	"claimflow/internal/observability"
	"claimflow/internal/oracle"
	"claimflow/internal/orchestrator"
	"claimflow/internal/remote"
	tokenutil "claimflow/internal/shared/token"
	"claimflow/internal/sink"
	"claimflow/internal/stages"
)

// Container holds every long-lived component of one process.
type Container struct {
	Config       config.Config
	Telemetry    *observability.Telemetry
	Metrics      *orchestrator.Metrics
	Remote       *remote.Client
	Batch        *batch.Executor
	LLM          llm.Client
	Reports      *sink.ReportWriter
	Store        *sink.Store
	Registry     *stages.Registry
	Oracle       *oracle.Adapter
	Orchestrator *orchestrator.Orchestrator

	logger logging.Logger
}

// Options adjust container construction.
type Options struct {
	// LogOutput receives structured logs; nil selects stderr.
	LogOutput io.Writer
	// LLM replaces the client built from cfg.LLM.
	LLM llm.Client
	// Metrics replaces the process-wide stage metrics.
	Metrics *orchestrator.Metrics
}

// BuildContainer constructs the pipeline. Callers must Shutdown the
// container when done.
func BuildContainer(cfg config.Config, opts Options) (*Container, error) {
	telemetry, err := observability.Setup(cfg.Observability, opts.LogOutput)
	if err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}
	logging.SetBase(telemetry.Logger)
	logger := logging.NewComponentLogger("bootstrap")
	for _, warning := range cfg.Warnings() {
		logger.Warn("%s", warning)
	}

	c := &Container{Config: cfg, Telemetry: telemetry, logger: logger}
	if err := c.build(opts); err != nil {
		_ = c.Shutdown(context.Background())
		return nil, err
	}
	return c, nil
}

func (c *Container) build(opts Options) error {
	cfg := c.Config

	c.Metrics = opts.Metrics
	if c.Metrics == nil {
		c.Metrics = orchestrator.DefaultMetrics()
	}

	c.Remote = remote.NewClient(remote.Config{
		Endpoints:        cfg.Endpoints,
		Timeout:          cfg.Batch.CallTimeout,
		MaxResponseBytes: cfg.Batch.MaxResponseBytes,
		Breaker:          cfg.Batch.Breaker,
	}, remote.WithRecorder(c.Telemetry.Metrics))

	c.Batch = batch.NewExecutor(batch.Config{
		Concurrency: cfg.Batch.Concurrency,
		CallTimeout: cfg.Batch.CallTimeout,
	}, batch.WithObserver(c.Metrics))

	c.LLM = opts.LLM
	if c.LLM == nil {
		client, err := llm.New(cfg.LLM)
		if err != nil {
			return fmt.Errorf("llm: %w", err)
		}
		c.LLM = client
	}

	deps := stages.Deps{
		Remote:  c.Remote,
		Batch:   c.Batch,
		Decider: c.LLM,
		Settings: stages.Settings{
			Language:            cfg.Processing.Language,
			StartPage:           cfg.Processing.StartPage,
			EndPage:             cfg.Processing.EndPage,
			SummaryStartPage:    cfg.Processing.SummaryStartPage,
			SummaryEndPage:      cfg.Processing.SummaryEndPage,
			CheckFiles:          cfg.Processing.CheckFiles,
			StrictDecision:      cfg.Loop.StrictDecision,
			DecisionTemperature: cfg.LLM.Temperature,
			DecisionMaxTokens:   cfg.LLM.MaxTokens,
		},
	}

	if dir := strings.TrimSpace(cfg.Sink.ReportsDir); dir != "" {
		c.Reports = sink.NewReportWriter(dir)
		deps.Reports = c.Reports
	}
	if path := strings.TrimSpace(cfg.Sink.StorePath); path != "" {
		store, err := sink.OpenStore(path)
		if err != nil {
			return fmt.Errorf("claim store: %w", err)
		}
		c.Store = store
		deps.Store = store
	}

	registry, err := stages.NewDefaultRegistry(deps)
	if err != nil {
		return err
	}
	c.Registry = registry

	c.Oracle = oracle.NewAdapter(c.LLM, oracle.Config{
		Temperature: cfg.Loop.OracleTemperature,
		MaxTokens:   cfg.Loop.OracleMaxTokens,
	},
		oracle.WithStages(StageInfos(registry)),
		oracle.WithTokenCounter(tokenutil.CountTokens),
		oracle.WithRecorder(c.Telemetry.Metrics),
		oracle.WithTracer(c.Telemetry.Tracer),
	)

	orch, err := orchestrator.New(orchestrator.Dependencies{
		Oracle: c.Oracle,
		Stages: registry,
		Config: orchestrator.Config{
			MaxIterations:      cfg.Loop.MaxIterations,
			ReportParseFailure: cfg.Loop.ReportParseFailure,
		},
		Metrics: c.Metrics,
		Runs:    c.Telemetry.Metrics,
		Tracer:  c.Telemetry.Tracer,
	})
	if err != nil {
		return err
	}
	c.Orchestrator = orch

	c.logger.Info("Pipeline ready: model=%s stages=%d store=%t", c.LLM.Model(), len(registry.Definitions()), c.Store != nil)
	return nil
}

// StageInfos lists the registered stages for the oracle prompt.
func StageInfos(registry *stages.Registry) []oracle.StageInfo {
	defs := registry.Definitions()
	infos := make([]oracle.StageInfo, 0, len(defs))
	for _, def := range defs {
		infos = append(infos, oracle.StageInfo{Name: def.Name, Description: def.Description})
	}
	return infos
}

// StageNames lists the registered stage names in order.
func (c *Container) StageNames() []string {
	defs := c.Registry.Definitions()
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.Name)
	}
	return names
}

// Shutdown closes the claim store and flushes telemetry.
func (c *Container) Shutdown(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if err := c.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("claim store: %w", err))
	}
	if err := c.Telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	return errors.Join(errs...)
}
