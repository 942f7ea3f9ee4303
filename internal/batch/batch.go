// Package batch applies one remote operation to many documents or texts with
// bounded concurrency. Every item is attempted exactly once and its outcome is
// recorded at the item's own index, so a failing item never affects the rest.
package batch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"claimflow/internal/async"
	claimerrors "claimflow/internal/errors"
	"claimflow/internal/logging"
)

const (
	DefaultConcurrency = 8
	DefaultCallTimeout = 60 * time.Second
)

// Params are forwarded unchanged to every call of a batch.
type Params map[string]any

// Clone returns a shallow copy of p with overrides applied.
func (p Params) Clone(overrides Params) Params {
	out := make(Params, len(p)+len(overrides))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Operation performs one remote call for one item.
type Operation[T any] func(ctx context.Context, item T, params Params) (map[string]any, error)

// ItemResult is the outcome of one item: Data on success, Err on failure.
type ItemResult struct {
	Index int
	Data  map[string]any
	Err   error
}

// OK reports whether the item succeeded.
func (r ItemResult) OK() bool {
	return r.Err == nil
}

// Payload returns Data on success and an {"error": message} marker otherwise.
func (r ItemResult) Payload() map[string]any {
	if r.Err != nil {
		return map[string]any{"error": claimerrors.FormatForObservation(r.Err)}
	}
	if r.Data == nil {
		return map[string]any{}
	}
	return r.Data
}

// Results holds one ItemResult per input, in input order.
type Results []ItemResult

// Succeeded counts successful items.
func (rs Results) Succeeded() int {
	n := 0
	for _, r := range rs {
		if r.OK() {
			n++
		}
	}
	return n
}

// Failed counts failed items.
func (rs Results) Failed() int {
	return len(rs) - rs.Succeeded()
}

// Payloads returns the per-item payloads, failure markers included.
func (rs Results) Payloads() []map[string]any {
	out := make([]map[string]any, len(rs))
	for i, r := range rs {
		out[i] = r.Payload()
	}
	return out
}

// Observer is notified after each item completes.
type Observer interface {
	ObserveItem(operation string, duration time.Duration, err error)
}

// Config bounds a batch.
type Config struct {
	Concurrency int           `yaml:"concurrency" mapstructure:"concurrency"`
	CallTimeout time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
}

// Executor runs batches under a shared Config.
type Executor struct {
	config   Config
	observer Observer
	logger   logging.Logger
}

// Option customises an Executor.
type Option func(*Executor)

// WithObserver registers a per-item observer.
func WithObserver(observer Observer) Option {
	return func(e *Executor) {
		e.observer = observer
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(e *Executor) {
		e.logger = logging.OrNop(logger)
	}
}

// NewExecutor returns an Executor; zero config values select the defaults.
func NewExecutor(config Config, opts ...Option) *Executor {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultCallTimeout
	}
	e := &Executor{
		config: config,
		logger: logging.NewComponentLogger("batch"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.config
}

// Run applies op to every item and returns results ordered index-for-index
// with items. An empty input yields an empty result without any calls. A
// nil executor runs with the defaults.
func Run[T any](ctx context.Context, e *Executor, name string, op Operation[T], items []T, params Params) Results {
	results := make(Results, len(items))
	if len(items) == 0 {
		return results
	}
	if e == nil {
		e = NewExecutor(Config{})
	}
	if params == nil {
		params = Params{}
	}

	var g errgroup.Group
	g.SetLimit(e.config.Concurrency)

	for i := range items {
		idx := i
		g.Go(func() error {
			results[idx] = runItem(ctx, e, name, op, idx, items[idx], params)
			return nil
		})
	}
	_ = g.Wait()

	if failed := results.Failed(); failed > 0 {
		logging.FromContext(ctx, e.logger).Debug("%s: %d/%d items failed", name, failed, len(items))
	}
	return results
}

func runItem[T any](ctx context.Context, e *Executor, name string, op Operation[T], idx int, item T, params Params) ItemResult {
	result := ItemResult{Index: idx}
	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	callCtx, cancel := context.WithTimeout(ctx, e.config.CallTimeout)
	defer cancel()

	type outcome struct {
		data map[string]any
		err  error
	}
	done := make(chan outcome, 1)

	started := time.Now()
	go func() {
		var data map[string]any
		err := async.Call(e.logger, fmt.Sprintf("%s[%d]", name, idx), func() error {
			var opErr error
			data, opErr = op(callCtx, item, params)
			return opErr
		})
		done <- outcome{data: data, err: err}
	}()

	var err error
	select {
	case out := <-done:
		result.Data, err = out.data, out.err
	case <-callCtx.Done():
		err = fmt.Errorf("%s: %w", name, callCtx.Err())
	}
	if err != nil {
		result.Data = nil
		result.Err = err
	}

	if e.observer != nil {
		e.observer.ObserveItem(name, time.Since(started), err)
	}
	return result
}
