package server

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claimflow/internal/claim"
	"claimflow/internal/config"
	"claimflow/internal/logging"
	"claimflow/internal/oracle"
	"claimflow/internal/orchestrator"
	jsonx "claimflow/internal/shared/json"
	"claimflow/internal/stages"
)

type stubRunner struct {
	mu    sync.Mutex
	calls [][]string
	onRun func(files []string)
}

func (r *stubRunner) Run(ctx context.Context, files []string, _ ...orchestrator.RunOption) claim.Result {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string(nil), files...))
	r.mu.Unlock()
	if r.onRun != nil {
		r.onRun(files)
	}
	return claim.Result{
		RunID:             "run-1",
		Status:            "completed",
		TerminationReason: claim.ReasonExplicitFinish,
		Iterations:        6,
		Files:             files,
		Decision:          &claim.Decision{Decision: claim.DecisionQuery, Reasons: "needs review"},
	}
}

type finishOracle struct{}

func (finishOracle) Propose(ctx context.Context, state *claim.State) (oracle.Proposal, error) {
	return oracle.Proposal{Thought: "nothing to do", Stage: oracle.FinishStage}, nil
}

type resultEnvelope struct {
	Success bool         `json:"success"`
	Error   string       `json:"error"`
	Data    claim.Result `json:"data"`
}

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(t *testing.T) config.ServerConfig {
	t.Helper()
	cfg := config.Default().Server
	cfg.UploadDir = t.TempDir()
	cfg.PathRoot = t.TempDir()
	return cfg
}

func newTestServer(t *testing.T, runner Runner, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Nop())}, opts...)
	srv, err := New(testConfig(t), runner, opts...)
	require.NoError(t, err)
	return srv
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewRequiresRunner(t *testing.T) {
	_, err := New(config.Default().Server, nil)
	require.Error(t, err)
}

func TestHealthReportsBreakers(t *testing.T) {
	srv := newTestServer(t, &stubRunner{},
		WithVersion("1.2.3"),
		WithStageNames([]string{"ingest", "finish"}),
		WithBreakerStates(func() map[string]string { return map[string]string{"ner": "open"} }),
	)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool           `json:"success"`
		Data    HealthResponse `json:"data"`
	}
	require.NoError(t, jsonx.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "degraded", body.Data.Status)
	assert.Equal(t, "1.2.3", body.Data.Version)
	assert.Equal(t, []string{"ingest", "finish"}, body.Data.Stages)
	assert.Equal(t, "open", body.Data.Breakers["ner"])
}

func TestPathsRunsAndCachesResult(t *testing.T) {
	runner := &stubRunner{}
	srv := newTestServer(t, runner)

	req := httptest.NewRequest(http.MethodPost, "/api/claims/paths", strings.NewReader(`{"files":["a.pdf","b.png"]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(srv, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body resultEnvelope
	require.NoError(t, jsonx.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "completed", body.Data.Status)
	require.NotNil(t, body.Data.Decision)
	assert.Equal(t, claim.DecisionQuery, body.Data.Decision.Decision)
	root := srv.config.PathRoot
	assert.Equal(t, [][]string{{filepath.Join(root, "a.pdf"), filepath.Join(root, "b.png")}}, runner.calls)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/claims/run-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, jsonx.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.Data.RunID)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/claims/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPathsRejectsEmptyFileList(t *testing.T) {
	runner := &stubRunner{}
	srv := newTestServer(t, runner)

	req := httptest.NewRequest(http.MethodPost, "/api/claims/paths", strings.NewReader(`{"files":[]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(srv, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, runner.calls)
}

func TestPathsStayInsideRoot(t *testing.T) {
	runner := &stubRunner{}
	srv := newTestServer(t, runner)
	root := srv.config.PathRoot

	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.pdf")
	require.NoError(t, os.WriteFile(secret, []byte("secret"), 0o600))
	require.NoError(t, os.Symlink(secret, filepath.Join(root, "link.pdf")))

	for _, file := range []string{"../secret.pdf", secret, "link.pdf", "docs/../../secret.pdf"} {
		body, err := jsonx.Marshal(ClaimPathsRequest{Files: []string{file}})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/api/claims/paths", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := serve(srv, req)
		assert.Equal(t, http.StatusForbidden, rec.Code, "path %s", file)
	}
	assert.Empty(t, runner.calls)

	inside := filepath.Join(root, "claim.pdf")
	body, err := jsonx.Marshal(ClaimPathsRequest{Files: []string{inside}})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/claims/paths", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(srv, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, [][]string{{inside}}, runner.calls)
}

func TestPathsDisabledWithoutRoot(t *testing.T) {
	runner := &stubRunner{}
	cfg := testConfig(t)
	cfg.PathRoot = ""
	srv, err := New(cfg, runner, WithLogger(logging.Nop()))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/claims/paths", strings.NewReader(`{"files":["a.pdf"]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(srv, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "server.path_root")
	assert.Empty(t, runner.calls)
}

func TestUploadStoresFilesForTheRunAndRemovesThem(t *testing.T) {
	var seen []string
	runner := &stubRunner{onRun: func(files []string) {
		for _, file := range files {
			data, err := os.ReadFile(file)
			if assert.NoError(t, err) {
				seen = append(seen, string(data))
			}
		}
	}}
	srv := newTestServer(t, runner)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, content := range map[string]string{"invoice.pdf": "invoice", "form.png": "form"} {
		part, err := writer.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/claims", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := serve(srv, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.ElementsMatch(t, []string{"invoice", "form"}, seen)
	require.Len(t, runner.calls, 1)
	for _, file := range runner.calls[0] {
		_, err := os.Stat(file)
		assert.True(t, os.IsNotExist(err), "upload %s should be removed", file)
	}
}

func TestUploadRequiresFiles(t *testing.T) {
	runner := &stubRunner{}
	srv := newTestServer(t, runner)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("note", "no files here"))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/claims", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := serve(srv, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, runner.calls)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubRunner{})
	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func dialStream(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/claims/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestStreamEmitsLoopEvents(t *testing.T) {
	orch, err := orchestrator.New(orchestrator.Dependencies{
		Oracle: finishOracle{},
		Stages: stages.NewRegistry(),
		Logger: logging.Nop(),
	})
	require.NoError(t, err)
	srv := newTestServer(t, orch)

	conn := dialStream(t, srv)
	require.NoError(t, conn.WriteJSON(ClaimPathsRequest{Files: []string{"claim.pdf"}}))

	var types []orchestrator.EventType
	var last orchestrator.Event
	for {
		var event orchestrator.Event
		err := conn.ReadJSON(&event)
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error %v", err)
			break
		}
		types = append(types, event.Type)
		last = event
	}

	assert.Equal(t, []orchestrator.EventType{
		orchestrator.EventRunStarted,
		orchestrator.EventProposal,
		orchestrator.EventRunFinished,
	}, types)
	require.NotNil(t, last.Result)
	assert.Equal(t, claim.ReasonExplicitFinish, last.Result.TerminationReason)

	_, ok := srv.results.Get(last.RunID)
	assert.True(t, ok)
}

func TestStreamRejectsEmptyRequest(t *testing.T) {
	runner := &stubRunner{}
	srv := newTestServer(t, runner)

	conn := dialStream(t, srv)
	require.NoError(t, conn.WriteJSON(ClaimPathsRequest{}))

	var msg StreamError
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	assert.NotEmpty(t, msg.Error)
	assert.Empty(t, runner.calls)
}

func TestStreamRejectsPathsOutsideRoot(t *testing.T) {
	runner := &stubRunner{}
	srv := newTestServer(t, runner)

	conn := dialStream(t, srv)
	require.NoError(t, conn.WriteJSON(ClaimPathsRequest{Files: []string{"/etc/passwd"}}))

	var msg StreamError
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Error, "outside the allowed root")
	assert.Empty(t, runner.calls)
}

func TestOriginAllowed(t *testing.T) {
	assert.True(t, originAllowed([]string{"*"}, "https://evil.example"))
	assert.True(t, originAllowed([]string{"https://app.example"}, "https://app.example"))
	assert.False(t, originAllowed([]string{"https://app.example"}, "https://evil.example"))
	assert.True(t, originAllowed(nil, ""))

	_, ok := buildCORS(nil)
	assert.False(t, ok)
	corsConfig, ok := buildCORS([]string{"https://app.example"})
	require.True(t, ok)
	assert.False(t, corsConfig.AllowAllOrigins)
	assert.True(t, corsConfig.AllowWebSockets)
}
