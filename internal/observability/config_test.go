package observability

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "text", config.Logging.Format)
	assert.True(t, config.Metrics.Enabled)
	assert.False(t, config.Tracing.Enabled)
	assert.Equal(t, "otlp", config.Tracing.Exporter)
	assert.Equal(t, 1.0, config.Tracing.SampleRate)
}

func TestSetupWithDedicatedRegistry(t *testing.T) {
	config := DefaultConfig()
	reg := prometheus.NewRegistry()
	config.Metrics.Registerer = reg
	buf := &bytes.Buffer{}

	telemetry, err := Setup(config, buf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = telemetry.Shutdown(context.Background()) })

	ctx := ContextWithRunID(context.Background(), "run-1")
	telemetry.Metrics.RecordOracleRequest(ctx, "gpt-4", "ok", 20*time.Millisecond, 120)
	telemetry.Metrics.RecordRemoteCall(ctx, "extract_text", "error", time.Second)
	telemetry.Metrics.IncrementActiveRuns(ctx)
	telemetry.Metrics.DecrementActiveRuns(ctx)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	telemetry.Logger.WithContext(ctx).Info("started")
	assert.Contains(t, buf.String(), "run_id=run-1")

	_, span := telemetry.Tracer.StartSpan(ctx, SpanClaimRun)
	span.End()
}

func TestDisabledCollectorIsNoop(t *testing.T) {
	collector, err := NewMetricsCollector(MetricsConfig{Enabled: false})
	require.NoError(t, err)

	collector.RecordOracleRequest(context.Background(), "m", "ok", time.Second, 1)
	collector.RecordRemoteCall(context.Background(), "op", "ok", time.Second)
	require.NoError(t, collector.Shutdown(context.Background()))

	var nilCollector *MetricsCollector
	nilCollector.IncrementActiveRuns(context.Background())
}

func TestUnsupportedExporter(t *testing.T) {
	_, err := NewTracerProvider(TracingConfig{Enabled: true, Exporter: "carrier-pigeon"})
	require.Error(t, err)
}

func TestSanitizeAPIKey(t *testing.T) {
	assert.Equal(t, "***", SanitizeAPIKey("short"))
	assert.Equal(t, "sk-abcde...wxyz", SanitizeAPIKey("sk-abcdefghijklmnopwxyz"))
}
