package bootstrap

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claimflow/internal/claim"
	"claimflow/internal/config"
	"claimflow/internal/orchestrator"
	"claimflow/internal/remote"
	"claimflow/internal/stages"
)

func fakeRemoteService(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch strings.TrimPrefix(r.URL.Path, "/") {
		case remote.OpExtractText:
			_, _ = io.WriteString(w, `{"text":"Patient Jane Doe, policy P-1"}`)
		case remote.OpNER:
			_, _ = io.WriteString(w, `{"entities":[{"label":"PATIENT","text":"Jane Doe"},{"label":"POLICY","text":"P-1"}]}`)
		case remote.OpTranslate:
			_, _ = io.WriteString(w, `{"translated_text":"Patient Jane Doe, policy P-1"}`)
		default:
			_, _ = io.WriteString(w, `{"ok":true}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, remoteURL string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.LLM.Provider = "mock"
	cfg.Endpoints = remote.Endpoints{
		NER:           remoteURL + "/ner",
		Classify:      remoteURL + "/classify",
		Summarize:     remoteURL + "/summarize",
		DescribeImage: remoteURL + "/describe_image",
		Signature:     remoteURL + "/signature",
		Stamp:         remoteURL + "/stamp",
		ExtractText:   remoteURL + "/extract_text",
		ExtractTables: remoteURL + "/extract_tables",
		Translate:     remoteURL + "/translate",
	}
	cfg.Sink.ReportsDir = filepath.Join(t.TempDir(), "reports")
	cfg.Sink.StorePath = ":memory:"
	cfg.Observability.Metrics.Registerer = prometheus.NewRegistry()
	return cfg
}

func buildTestContainer(t *testing.T, cfg config.Config) *Container {
	t.Helper()
	c, err := BuildContainer(cfg, Options{
		LogOutput: io.Discard,
		Metrics:   orchestrator.MustNewMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })
	return c
}

func writeClaimFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claim_form.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 claim"), 0o644))
	return path
}

func TestBuildContainerRunsClaimEndToEnd(t *testing.T) {
	remoteSrv := fakeRemoteService(t)
	c := buildTestContainer(t, testConfig(t, remoteSrv.URL))

	assert.Equal(t, []string{
		stages.StageIngest, stages.StagePreprocess, stages.StageExtract, stages.StageAnalyze,
		stages.StageDecide, stages.StageOutput, stages.StageFinish,
	}, c.StageNames())

	result := c.Orchestrator.Run(context.Background(), []string{writeClaimFile(t)})

	assert.Equal(t, claim.ReasonExplicitFinish, result.TerminationReason)
	assert.Equal(t, 6, result.Iterations)
	require.True(t, result.HasDecision())
	assert.True(t, result.Decision.Decision.Valid())

	output := result.StageOutputs[stages.StageOutput]
	require.NotNil(t, output)
	assert.Equal(t, true, output["stored_in_db"])

	record, err := c.Store.Get(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, string(result.Decision.Decision), record.Decision)

	entries, err := os.ReadDir(c.Reports.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestBuildContainerWithoutSinks(t *testing.T) {
	cfg := testConfig(t, fakeRemoteService(t).URL)
	cfg.Sink = config.SinkConfig{}
	c := buildTestContainer(t, cfg)

	assert.Nil(t, c.Store)
	assert.Nil(t, c.Reports)

	result := c.Orchestrator.Run(context.Background(), []string{writeClaimFile(t)})
	assert.Equal(t, claim.ReasonExplicitFinish, result.TerminationReason)
	assert.Equal(t, false, result.StageOutputs[stages.StageOutput]["stored_in_db"])
}

func TestBuildContainerRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.LLM.Provider = "carrier-pigeon"
	_, err := BuildContainer(cfg, Options{
		LogOutput: io.Discard,
		Metrics:   orchestrator.MustNewMetrics(prometheus.NewRegistry()),
	})
	require.Error(t, err)
}

func TestNewServerExposesPipeline(t *testing.T) {
	c := buildTestContainer(t, testConfig(t, fakeRemoteService(t).URL))
	srv, err := NewServer(c)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), stages.StageDecide)
}
