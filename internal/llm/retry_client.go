package llm

import (
	"context"
	"time"

	claimerrors "claimflow/internal/errors"
	"claimflow/internal/logging"
)

// retryClient wraps a client with retry logic and a circuit breaker
type retryClient struct {
	underlying     Client
	retryConfig    claimerrors.RetryConfig
	circuitBreaker *claimerrors.CircuitBreaker
	logger         logging.Logger
}

// NewRetryClient wraps client so transient failures are retried with backoff
// while the breaker stays closed.
func NewRetryClient(client Client, retryConfig claimerrors.RetryConfig, circuitBreaker *claimerrors.CircuitBreaker) Client {
	if circuitBreaker == nil {
		circuitBreaker = claimerrors.NewCircuitBreaker("llm:"+client.Model(), claimerrors.DefaultCircuitBreakerConfig())
	}
	return &retryClient{
		underlying:     client,
		retryConfig:    retryConfig,
		circuitBreaker: circuitBreaker,
		logger:         logging.NewComponentLogger("llm-retry"),
	}
}

func (c *retryClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	startTime := time.Now()

	resp, err := claimerrors.RetryWithResult(ctx, c.retryConfig, func(ctx context.Context) (*CompletionResponse, error) {
		if err := c.circuitBreaker.Allow(); err != nil {
			return nil, err
		}
		response, err := c.underlying.Complete(ctx, req)
		c.circuitBreaker.Mark(err)
		return response, err
	}, c.logger)

	if err != nil {
		c.logger.Warn("Completion failed after %v: %v", time.Since(startTime), err)
		return nil, err
	}
	return resp, nil
}

func (c *retryClient) Model() string {
	return c.underlying.Model()
}
