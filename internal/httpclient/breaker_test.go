package httpclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	claimerrors "claimflow/internal/errors"
	"claimflow/internal/logging"
)

func TestBreakerTrackingOpensWithoutRejecting(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	breaker := claimerrors.NewCircuitBreaker("stamp", claimerrors.CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Hour})
	client := NewWithBreakerTracking(time.Second, logging.Nop(), breaker)

	for i := 0; i < 2; i++ {
		resp, err := client.Get(srv.URL)
		if err != nil {
			t.Fatalf("request %d: unexpected error %v", i, err)
		}
		resp.Body.Close()
	}
	if breaker.State() != claimerrors.StateOpen {
		t.Fatalf("expected open breaker, got %s", breaker.State())
	}

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("open breaker must not reject tracked requests: %v", err)
	}
	resp.Body.Close()
	if hits != 3 {
		t.Fatalf("expected 3 hits on server, got %d", hits)
	}
	if breaker.State() != claimerrors.StateClosed {
		t.Fatalf("expected closed breaker after recovery, got %s", breaker.State())
	}
}

func TestBreakerTrackingPassesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	breaker := claimerrors.NewCircuitBreaker("classify", claimerrors.DefaultCircuitBreakerConfig())
	client := NewWithBreakerTracking(time.Second, nil, breaker)
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if breaker.State() != claimerrors.StateClosed {
		t.Fatalf("expected closed breaker, got %s", breaker.State())
	}
}
