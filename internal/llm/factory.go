package llm

import (
	"fmt"
	"strings"

	claimerrors "claimflow/internal/errors"
)

// New builds the client for config.Provider. Remote providers are wrapped with
// retry and circuit breaker protection.
func New(config Config) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(config.Provider)) {
	case "", "openai":
		client, err := NewOpenAIClient(config)
		if err != nil {
			return nil, err
		}
		retry := claimerrors.DefaultRetryConfig()
		if config.MaxRetries >= 0 {
			retry.MaxAttempts = config.MaxRetries
		}
		breaker := claimerrors.NewCircuitBreaker("llm:"+config.Model, claimerrors.DefaultCircuitBreakerConfig())
		return NewRetryClient(client, retry, breaker), nil
	case "mock":
		return NewPipelineMock(config.Model), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", config.Provider)
	}
}
