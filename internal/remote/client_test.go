package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claimflow/internal/batch"
	claimerrors "claimflow/internal/errors"
)

type recorder struct {
	mu       sync.Mutex
	statuses []string
}

func (r *recorder) RecordRemoteCall(ctx context.Context, operation, status string, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, operation+":"+status)
}

func TestCallFileSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)

		assert.Equal(t, "claim.pdf", header.Filename)
		assert.Equal(t, "claim.pdf", r.FormValue("filename"))
		assert.Equal(t, "1", r.FormValue("start_page"))
		assert.Equal(t, "10", r.FormValue("end_page"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"` + string(body) + `"}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "claim.pdf")
	require.NoError(t, os.WriteFile(path, []byte("invoice 42"), 0o600))

	rec := &recorder{}
	client := NewClient(Config{Endpoints: Endpoints{ExtractText: srv.URL}}, WithRecorder(rec))
	out, err := client.CallFile(context.Background(), OpExtractText, path, batch.Params{"start_page": 1, "end_page": 10})

	require.NoError(t, err)
	assert.Equal(t, "invoice 42", out["text"])
	assert.Equal(t, []string{"extract_text:ok"}, rec.statuses)
}

func TestCallTextSendsForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "bonjour", r.PostForm.Get("text"))
		assert.Equal(t, "en", r.PostForm.Get("target_language"))
		_, _ = w.Write([]byte(`{"translated_text":"hello"}`))
	}))
	defer srv.Close()

	client := NewClient(Config{Endpoints: Endpoints{Translate: srv.URL}})
	out, err := client.CallText(context.Background(), OpTranslate, "bonjour", batch.Params{"target_language": "en"})

	require.NoError(t, err)
	assert.Equal(t, "hello", out["translated_text"])
}

func TestFailuresBecomeCallErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/malformed":
			_, _ = w.Write([]byte(`not json`))
		case "/array":
			_, _ = w.Write([]byte(`[1,2]`))
		case "/error":
			_, _ = w.Write([]byte(`{"error":"model overloaded"}`))
		}
	}))
	defer srv.Close()

	cases := map[string]string{
		OpNER:       srv.URL + "/status",
		OpClassify:  srv.URL + "/malformed",
		OpSummarize: srv.URL + "/array",
		OpTranslate: srv.URL + "/error",
	}
	client := NewClient(Config{Endpoints: Endpoints{
		NER:       cases[OpNER],
		Classify:  cases[OpClassify],
		Summarize: cases[OpSummarize],
		Translate: cases[OpTranslate],
	}})

	for op := range cases {
		t.Run(op, func(t *testing.T) {
			_, err := client.CallText(context.Background(), op, "x", nil)
			var callErr *CallError
			require.True(t, errors.As(err, &callErr), "expected CallError, got %v", err)
			assert.Equal(t, op, callErr.Operation)
		})
	}

	_, err := client.CallText(context.Background(), OpNER, "x", nil)
	assert.Equal(t, http.StatusServiceUnavailable, claimerrors.StatusCode(err))
	assert.True(t, claimerrors.IsTransient(err))
}

func TestMissingFileAndEndpoint(t *testing.T) {
	client := NewClient(Config{Endpoints: Endpoints{Stamp: "http://127.0.0.1:1"}})

	_, err := client.CallFile(context.Background(), OpStamp, filepath.Join(t.TempDir(), "nope.pdf"), nil)
	require.Error(t, err)
	assert.True(t, claimerrors.IsPermanent(err))

	_, err = client.CallText(context.Background(), OpNER, "x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no endpoint configured")
}

func TestFileOperationInBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"stamps":1}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	good := filepath.Join(dir, "a.pdf")
	require.NoError(t, os.WriteFile(good, []byte("a"), 0o600))

	client := NewClient(Config{Endpoints: Endpoints{Stamp: srv.URL}})
	results := batch.Run(context.Background(), nil, OpStamp, client.FileOperation(OpStamp),
		[]string{good, filepath.Join(dir, "missing.pdf"), good}, nil)

	require.Len(t, results, 3)
	assert.True(t, results[0].OK())
	assert.False(t, results[1].OK())
	assert.True(t, results[2].OK())
}

func TestFailingEndpointNeverShortCircuitsItems(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if strings.HasPrefix(r.FormValue("filename"), "bad") {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"stamps":1}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	var files []string
	for _, name := range []string{"bad1.pdf", "bad2.pdf", "bad3.pdf", "bad4.pdf", "bad5.pdf", "good1.pdf", "good2.pdf"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(name), 0o600))
		files = append(files, path)
	}

	client := NewClient(Config{Endpoints: Endpoints{Stamp: srv.URL}})
	executor := batch.NewExecutor(batch.Config{Concurrency: 1})

	results := batch.Run(context.Background(), executor, OpStamp, client.FileOperation(OpStamp), files, nil)
	require.Len(t, results, 7)
	assert.Equal(t, int32(7), hits.Load(), "every item must reach the service")
	for i := 0; i < 5; i++ {
		assert.False(t, results[i].OK(), "item %d", i)
	}
	assert.True(t, results[5].OK(), results[5].Err)
	assert.True(t, results[6].OK(), results[6].Err)

	failing := files[:5]
	results = batch.Run(context.Background(), executor, OpStamp, client.FileOperation(OpStamp), failing, nil)
	assert.Equal(t, 5, results.Failed())
	assert.Equal(t, "open", client.BreakerStates()[OpStamp])

	_, err := client.CallFile(context.Background(), OpStamp, files[0], nil)
	assert.True(t, claimerrors.IsDegraded(err), "failure while open should be degraded, got %v", err)

	results = batch.Run(context.Background(), executor, OpStamp, client.FileOperation(OpStamp), files[5:6], nil)
	require.Len(t, results, 1)
	assert.True(t, results[0].OK(), "a later run must not inherit the open breaker: %s", results[0].Err)
	assert.Equal(t, int32(14), hits.Load())
}

func TestOversizedResponseIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"summary":"` + strings.Repeat("x", 64) + `"}`))
	}))
	defer srv.Close()

	client := NewClient(Config{Endpoints: Endpoints{Summarize: srv.URL}, MaxResponseBytes: 16})
	_, err := client.CallText(context.Background(), OpSummarize, "x", nil)
	require.Error(t, err)
	assert.True(t, claimerrors.IsPermanent(err))
	assert.Contains(t, claimerrors.FormatForObservation(err), "exceeds 16 bytes")
}

func TestEndpointsMissing(t *testing.T) {
	e := Endpoints{NER: "http://ner"}
	missing := e.Missing()
	assert.Len(t, missing, 8)
	assert.NotContains(t, missing, OpNER)
}
