package sink

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jsonx "claimflow/internal/shared/json"
)

func TestReportWriterWritesJSONAndText(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	w := NewReportWriter(dir)

	paths, err := w.Write(context.Background(), Report{
		ClaimID:      "CLM/42",
		RunID:        "run-1",
		Decision:     "approve",
		Reasons:      "policy active",
		ClaimDetails: map[string]any{"patient": map[string]any{"name": "Jane"}},
		Timestamp:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "report_CLM_42.json"), paths[JSONReport])
	assert.Equal(t, filepath.Join(dir, "report_CLM_42.txt"), paths[TextReport])

	data, err := os.ReadFile(paths[JSONReport])
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, jsonx.Unmarshal(data, &decoded))
	assert.Equal(t, "CLM/42", decoded["claim_id"])
	assert.Equal(t, "approve", decoded["decision"])

	text, err := os.ReadFile(paths[TextReport])
	require.NoError(t, err)
	lines := strings.Split(string(text), "\n")
	assert.Equal(t, "ADJUDICATION REPORT", lines[0])
	assert.Equal(t, strings.Repeat("=", 40), lines[1])
	assert.Contains(t, string(text), "Decision: approve")
	assert.Contains(t, string(text), "Jane")
}

func TestReportWriterDefaultsClaimID(t *testing.T) {
	w := NewReportWriter(t.TempDir())
	paths, err := w.Write(context.Background(), Report{Decision: "query"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(paths[JSONReport], "report_unknown.json"))
}

func TestReportWriterHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewReportWriter(t.TempDir()).Write(ctx, Report{ClaimID: "x"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestStoreUpsertAndGet(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "db", "claims.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, Record{
		ClaimID:   "c1",
		RunID:     "r1",
		Decision:  "query",
		ClaimData: map[string]any{"policy": map[string]any{"number": "P-1"}},
	}))
	require.NoError(t, store.Save(ctx, Record{
		ClaimID:  "c1",
		RunID:    "r2",
		Decision: "approve",
		Reports:  map[string]string{JSONReport: "reports/report_c1.json"},
	}))

	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "r2", got.RunID)
	assert.Equal(t, "approve", got.Decision)
	assert.Equal(t, "reports/report_c1.json", got.Reports[JSONReport])

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestStoreListNewestFirst(t *testing.T) {
	store, err := OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Save(ctx, Record{
			ClaimID:  id,
			RunID:    "run-" + id,
			StoredAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	records, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].ClaimID)
	assert.Equal(t, "b", records[1].ClaimID)
}

func TestStoreRejectsEmptyClaimID(t *testing.T) {
	store, err := OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.Error(t, store.Save(context.Background(), Record{}))
}

func TestNilStoreClose(t *testing.T) {
	var store *Store
	require.NoError(t, store.Close())
}
