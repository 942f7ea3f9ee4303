package httpclient

import (
	"net/http"
	"time"

	"claimflow/internal/logging"
)

// New builds an HTTP client with the given timeout. Requests are logged at
// debug level through logger.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 16
	return &http.Client{
		Timeout: timeout,
		Transport: &loggingRoundTripper{
			base:   transport,
			logger: logging.OrNop(logger),
		},
	}
}

type loggingRoundTripper struct {
	base   http.RoundTripper
	logger logging.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	started := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.logger.Debug("%s %s failed after %v: %v", req.Method, req.URL.Redacted(), time.Since(started), err)
		return nil, err
	}
	t.logger.Debug("%s %s -> %d in %v", req.Method, req.URL.Redacted(), resp.StatusCode, time.Since(started))
	return resp, nil
}
