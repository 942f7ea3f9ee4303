package batch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunEmptyInputMakesNoCalls(t *testing.T) {
	var calls int32
	op := func(ctx context.Context, item string, params Params) (map[string]any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}

	results := Run(context.Background(), NewExecutor(Config{}), "ner", op, nil, nil)

	assert.Empty(t, results)
	assert.Equal(t, int32(0), calls)
}

func TestRunPreservesOrderUnderConcurrency(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}
	op := func(ctx context.Context, item int, params Params) (map[string]any, error) {
		time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
		return map[string]any{"item": item, "lang": params["language"]}, nil
	}

	exec := NewExecutor(Config{Concurrency: 6})
	results := Run(context.Background(), exec, "translate", op, items, Params{"language": "en"})

	require.Len(t, results, len(items))
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, i, r.Index)
		assert.Equal(t, i, r.Data["item"])
		assert.Equal(t, "en", r.Data["lang"])
	}
	assert.Equal(t, len(items), results.Succeeded())
}

func TestRunIsolatesMissingFile(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.pdf")
	c := filepath.Join(dir, "c.pdf")
	require.NoError(t, os.WriteFile(a, []byte("a"), 0o600))
	require.NoError(t, os.WriteFile(c, []byte("c"), 0o600))
	files := []string{a, filepath.Join(dir, "missing.pdf"), c}

	op := func(ctx context.Context, path string, params Params) (map[string]any, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return map[string]any{"text": string(data)}, nil
	}

	results := Run(context.Background(), nil, "extract_text", op, files, nil)

	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].Data["text"])
	assert.Error(t, results[1].Err)
	assert.Contains(t, results[1].Payload(), "error")
	assert.Equal(t, "c", results[2].Data["text"])
	assert.Equal(t, 2, results.Succeeded())
	assert.Equal(t, 1, results.Failed())
}

func TestRunCapturesPanicsAndTimeouts(t *testing.T) {
	op := func(ctx context.Context, item string, params Params) (map[string]any, error) {
		switch item {
		case "panic":
			panic("remote client bug")
		case "slow":
			<-ctx.Done()
			return nil, ctx.Err()
		case "stuck":
			time.Sleep(500 * time.Millisecond)
			return map[string]any{}, nil
		}
		return map[string]any{"ok": true}, nil
	}

	exec := NewExecutor(Config{CallTimeout: 50 * time.Millisecond})
	results := Run(context.Background(), exec, "stamp", op, []string{"panic", "slow", "fine", "stuck"}, nil)

	require.Len(t, results, 4)
	assert.Error(t, results[0].Err)
	assert.True(t, errors.Is(results[1].Err, context.DeadlineExceeded))
	assert.NoError(t, results[2].Err)
	assert.True(t, errors.Is(results[3].Err, context.DeadlineExceeded))
}

func TestRunCancelledContextFailsEveryItem(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	op := func(ctx context.Context, item int, params Params) (map[string]any, error) {
		return map[string]any{}, nil
	}

	results := Run(ctx, nil, "ner", op, []int{1, 2}, nil)

	assert.Equal(t, 2, results.Failed())
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	failures int
	total    int
}

func (o *recordingObserver) ObserveItem(operation string, duration time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.total++
	if err != nil {
		o.failures++
	}
}

func TestObserverSeesEveryItem(t *testing.T) {
	observer := &recordingObserver{}
	op := func(ctx context.Context, item int, params Params) (map[string]any, error) {
		if item%2 == 0 {
			return nil, fmt.Errorf("item %d failed", item)
		}
		return map[string]any{}, nil
	}

	Run(context.Background(), NewExecutor(Config{}, WithObserver(observer)), "classify", op, []int{0, 1, 2, 3}, nil)

	assert.Equal(t, 4, observer.total)
	assert.Equal(t, 2, observer.failures)
}

func TestParamsClone(t *testing.T) {
	base := Params{"language": "en"}
	clone := base.Clone(Params{"start_page": 1})

	assert.Equal(t, Params{"language": "en", "start_page": 1}, clone)
	assert.NotContains(t, base, "start_page")
}
