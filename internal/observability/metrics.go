package observability

import (
	"context"
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector records oracle, remote call and run metrics through the
// OpenTelemetry SDK and exposes them to Prometheus.
type MetricsCollector struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider

	// Oracle metrics
	oracleRequests     metric.Int64Counter
	oracleLatency      metric.Float64Histogram
	oraclePromptTokens metric.Int64Counter

	// Remote operation metrics
	remoteCalls    metric.Int64Counter
	remoteDuration metric.Float64Histogram

	// Run metrics
	runsActive metric.Int64UpDownCounter
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Registerer receives the Prometheus collector. Nil means the default registry.
	Registerer promclient.Registerer `yaml:"-" mapstructure:"-"`
}

// NewMetricsCollector creates a new metrics collector. A disabled config
// yields a collector whose record methods are no-ops.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	var opts []prometheus.Option
	if config.Registerer != nil {
		opts = append(opts, prometheus.WithRegisterer(config.Registerer))
	}
	exporter, err := prometheus.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter("claimflow")

	oracleRequests, err := meter.Int64Counter(
		"claimflow.oracle.requests.total",
		metric.WithDescription("Total number of decision oracle requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle_requests counter: %w", err)
	}

	oracleLatency, err := meter.Float64Histogram(
		"claimflow.oracle.latency",
		metric.WithDescription("Decision oracle latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle_latency histogram: %w", err)
	}

	oraclePromptTokens, err := meter.Int64Counter(
		"claimflow.oracle.prompt_tokens",
		metric.WithDescription("Prompt tokens sent to the decision oracle"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle_prompt_tokens counter: %w", err)
	}

	remoteCalls, err := meter.Int64Counter(
		"claimflow.remote.calls.total",
		metric.WithDescription("Total number of remote operation calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote_calls counter: %w", err)
	}

	remoteDuration, err := meter.Float64Histogram(
		"claimflow.remote.duration",
		metric.WithDescription("Remote operation call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote_duration histogram: %w", err)
	}

	runsActive, err := meter.Int64UpDownCounter(
		"claimflow.runs.active",
		metric.WithDescription("Number of claim runs in progress"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create runs_active gauge: %w", err)
	}

	return &MetricsCollector{
		meter:              meter,
		provider:           provider,
		oracleRequests:     oracleRequests,
		oracleLatency:      oracleLatency,
		oraclePromptTokens: oraclePromptTokens,
		remoteCalls:        remoteCalls,
		remoteDuration:     remoteDuration,
		runsActive:         runsActive,
	}, nil
}

// Shutdown flushes and stops the meter provider.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordOracleRequest records one oracle round trip.
func (m *MetricsCollector) RecordOracleRequest(ctx context.Context, model string, status string, latency time.Duration, promptTokens int) {
	if m == nil || m.oracleRequests == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("model", model),
		attribute.String("status", status),
	}
	m.oracleRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.oracleLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(attrs...))
	m.oraclePromptTokens.Add(ctx, int64(promptTokens), metric.WithAttributes(attribute.String("model", model)))
}

// RecordRemoteCall records one remote operation call.
func (m *MetricsCollector) RecordRemoteCall(ctx context.Context, operation string, status string, duration time.Duration) {
	if m == nil || m.remoteCalls == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("status", status),
	}
	m.remoteCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.remoteDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("operation", operation)))
}

// IncrementActiveRuns marks a run as started.
func (m *MetricsCollector) IncrementActiveRuns(ctx context.Context) {
	if m == nil || m.runsActive == nil {
		return
	}
	m.runsActive.Add(ctx, 1)
}

// DecrementActiveRuns marks a run as finished.
func (m *MetricsCollector) DecrementActiveRuns(ctx context.Context) {
	if m == nil || m.runsActive == nil {
		return
	}
	m.runsActive.Add(ctx, -1)
}
