package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	claimerrors "claimflow/internal/errors"
	"claimflow/internal/logging"
)

type breakerTrackingRoundTripper struct {
	base    http.RoundTripper
	breaker *claimerrors.CircuitBreaker
}

// NewWithBreakerTracking builds an HTTP client that reports every outcome to
// breaker but always sends the request. The breaker state describes endpoint
// health without short-circuiting callers.
func NewWithBreakerTracking(timeout time.Duration, logger logging.Logger, breaker *claimerrors.CircuitBreaker) *http.Client {
	client := New(timeout, logger)
	client.Transport = WrapTransportWithBreakerTracking(client.Transport, breaker)
	return client
}

// WrapTransportWithBreakerTracking wraps a transport so that breaker observes
// each response without gating it.
func WrapTransportWithBreakerTracking(base http.RoundTripper, breaker *claimerrors.CircuitBreaker) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if breaker == nil {
		breaker = claimerrors.NewCircuitBreaker("http-client", claimerrors.DefaultCircuitBreakerConfig())
	}
	return &breakerTrackingRoundTripper{base: base, breaker: breaker}
}

func (t *breakerTrackingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		t.breaker.Observe(err)
		return nil, err
	}
	if isBreakerFailureStatus(resp.StatusCode) {
		t.breaker.Observe(fmt.Errorf("http status %d", resp.StatusCode))
	} else {
		t.breaker.Observe(nil)
	}
	return resp, nil
}

func isBreakerFailureStatus(status int) bool {
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
}
