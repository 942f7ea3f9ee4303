// Package remote calls the document analysis services: OCR, NER,
// classification, stamp and signature detection, translation, summarisation
// and image description. Each service is an opaque HTTP endpoint that takes
// either a file (multipart) or a text (form) and answers with a JSON object.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"claimflow/internal/batch"
	claimerrors "claimflow/internal/errors"
	"claimflow/internal/httpclient"
	"claimflow/internal/logging"
	jsonx "claimflow/internal/shared/json"
)

// Operation names, also used as metric labels and breaker names.
const (
	OpNER           = "ner"
	OpClassify      = "classify"
	OpSummarize     = "summarize"
	OpDescribeImage = "describe_image"
	OpSignature     = "signature"
	OpStamp         = "stamp"
	OpExtractText   = "extract_text"
	OpExtractTables = "extract_tables"
	OpTranslate     = "translate"
)

const defaultMaxResponseBytes = 16 << 20

// Endpoints maps each remote operation to its URL.
type Endpoints struct {
	NER           string `yaml:"ner" mapstructure:"ner"`
	Classify      string `yaml:"classify" mapstructure:"classify"`
	Summarize     string `yaml:"summarize" mapstructure:"summarize"`
	DescribeImage string `yaml:"describe_image" mapstructure:"describe_image"`
	Signature     string `yaml:"signature" mapstructure:"signature"`
	Stamp         string `yaml:"stamp" mapstructure:"stamp"`
	ExtractText   string `yaml:"extract_text" mapstructure:"extract_text"`
	ExtractTables string `yaml:"extract_tables" mapstructure:"extract_tables"`
	Translate     string `yaml:"translate" mapstructure:"translate"`
}

// URL returns the endpoint configured for operation.
func (e Endpoints) URL(operation string) string {
	switch operation {
	case OpNER:
		return e.NER
	case OpClassify:
		return e.Classify
	case OpSummarize:
		return e.Summarize
	case OpDescribeImage:
		return e.DescribeImage
	case OpSignature:
		return e.Signature
	case OpStamp:
		return e.Stamp
	case OpExtractText:
		return e.ExtractText
	case OpExtractTables:
		return e.ExtractTables
	case OpTranslate:
		return e.Translate
	}
	return ""
}

// Missing lists the operations without a configured URL.
func (e Endpoints) Missing() []string {
	var missing []string
	for _, op := range []string{OpNER, OpClassify, OpSummarize, OpDescribeImage, OpSignature, OpStamp, OpExtractText, OpExtractTables, OpTranslate} {
		if strings.TrimSpace(e.URL(op)) == "" {
			missing = append(missing, op)
		}
	}
	return missing
}

// Config configures the client.
type Config struct {
	Endpoints        Endpoints
	Timeout          time.Duration
	MaxResponseBytes int64
	Breaker          claimerrors.CircuitBreakerConfig
}

// Recorder receives one sample per call.
type Recorder interface {
	RecordRemoteCall(ctx context.Context, operation string, status string, duration time.Duration)
}

// CallError describes a failed remote call.
type CallError struct {
	Operation  string
	URL        string
	StatusCode int
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s call to %s failed with status %d: %v", e.Operation, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s call to %s failed: %v", e.Operation, e.URL, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Client performs remote operation calls.
type Client struct {
	config   Config
	breakers *claimerrors.CircuitBreakerManager
	clients  map[string]*http.Client
	recorder Recorder
	logger   logging.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithRecorder attaches a metrics recorder.
func WithRecorder(recorder Recorder) Option {
	return func(c *Client) {
		c.recorder = recorder
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		c.logger = logging.OrNop(logger)
	}
}

// NewClient builds one HTTP client per operation. Each client reports to the
// operation's breaker, but requests are always sent: a batch attempts every
// item and one run's outage never rejects another run's calls.
func NewClient(config Config, opts ...Option) *Client {
	if config.Timeout <= 0 {
		config.Timeout = batch.DefaultCallTimeout
	}
	if config.MaxResponseBytes <= 0 {
		config.MaxResponseBytes = defaultMaxResponseBytes
	}
	c := &Client{
		config:   config,
		breakers: claimerrors.NewCircuitBreakerManager(config.Breaker),
		clients:  make(map[string]*http.Client),
		logger:   logging.NewComponentLogger("remote"),
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, op := range []string{OpNER, OpClassify, OpSummarize, OpDescribeImage, OpSignature, OpStamp, OpExtractText, OpExtractTables, OpTranslate} {
		c.clients[op] = httpclient.NewWithBreakerTracking(config.Timeout, c.logger, c.breakers.Get(op))
	}
	return c
}

// BreakerStates reports the circuit state per operation.
func (c *Client) BreakerStates() map[string]string {
	return c.breakers.States()
}

// FileOperation adapts CallFile for batch.Run.
func (c *Client) FileOperation(operation string) batch.Operation[string] {
	return func(ctx context.Context, path string, params batch.Params) (map[string]any, error) {
		return c.CallFile(ctx, operation, path, params)
	}
}

// TextOperation adapts CallText for batch.Run.
func (c *Client) TextOperation(operation string) batch.Operation[string] {
	return func(ctx context.Context, text string, params batch.Params) (map[string]any, error) {
		return c.CallText(ctx, operation, text, params)
	}
}

// CallFile uploads the file at path as multipart field "file", together with
// its base name as "filename" and every parameter as a form field.
func (c *Client) CallFile(ctx context.Context, operation, path string, params batch.Params) (map[string]any, error) {
	endpoint, err := c.endpoint(operation)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &CallError{Operation: operation, URL: endpoint, Err: claimerrors.NewPermanentError(err, fmt.Sprintf("File not found: %s", filepath.Base(path)))}
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, &CallError{Operation: operation, URL: endpoint, Err: err}
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, &CallError{Operation: operation, URL: endpoint, Err: fmt.Errorf("read %s: %w", path, err)}
	}
	fields := formValues(params)
	fields.Set("filename", filepath.Base(path))
	for _, key := range sortedKeys(fields) {
		if err := writer.WriteField(key, fields.Get(key)); err != nil {
			return nil, &CallError{Operation: operation, URL: endpoint, Err: err}
		}
	}
	if err := writer.Close(); err != nil {
		return nil, &CallError{Operation: operation, URL: endpoint, Err: err}
	}

	return c.post(ctx, operation, endpoint, writer.FormDataContentType(), &body)
}

// CallText posts text as form field "text" together with every parameter.
func (c *Client) CallText(ctx context.Context, operation, text string, params batch.Params) (map[string]any, error) {
	endpoint, err := c.endpoint(operation)
	if err != nil {
		return nil, err
	}
	fields := formValues(params)
	fields.Set("text", text)
	return c.post(ctx, operation, endpoint, "application/x-www-form-urlencoded", strings.NewReader(fields.Encode()))
}

func (c *Client) endpoint(operation string) (string, error) {
	endpoint := strings.TrimSpace(c.config.Endpoints.URL(operation))
	if endpoint == "" {
		return "", &CallError{Operation: operation, Err: claimerrors.NewPermanentError(
			fmt.Errorf("no endpoint configured for %s", operation),
			fmt.Sprintf("Endpoint for %s is not configured.", operation),
		)}
	}
	return endpoint, nil
}

func (c *Client) post(ctx context.Context, operation, endpoint, contentType string, body io.Reader) (map[string]any, error) {
	started := time.Now()
	data, err := c.do(ctx, operation, endpoint, contentType, body)
	status := "ok"
	if err != nil {
		status = "error"
		var callErr *CallError
		if errors.As(err, &callErr) && c.breakers.Get(operation).State() != claimerrors.StateClosed {
			status = "degraded"
			callErr.Err = claimerrors.NewDegradedError(callErr.Err,
				fmt.Sprintf("%s keeps failing: %s", operation, claimerrors.FormatForObservation(callErr.Err)))
		}
		logging.FromContext(ctx, c.logger).Warn("%s call failed: %v", operation, err)
	}
	if c.recorder != nil {
		c.recorder.RecordRemoteCall(ctx, operation, status, time.Since(started))
	}
	return data, err
}

func (c *Client) do(ctx context.Context, operation, endpoint, contentType string, body io.Reader) (map[string]any, error) {
	client := c.clients[operation]
	if client == nil {
		client = httpclient.New(c.config.Timeout, c.logger)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, &CallError{Operation: operation, URL: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &CallError{Operation: operation, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	raw, err := httpclient.ReadAllWithLimit(resp.Body, c.config.MaxResponseBytes)
	if err != nil {
		if httpclient.IsResponseTooLarge(err) {
			err = claimerrors.NewPermanentError(err, fmt.Sprintf("%s response exceeds %d bytes.", operation, c.config.MaxResponseBytes))
		}
		return nil, &CallError{Operation: operation, URL: endpoint, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &CallError{
			Operation:  operation,
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Err:        &claimerrors.StatusError{StatusCode: resp.StatusCode, Body: snippet(raw)},
		}
	}

	var payload map[string]any
	if err := jsonx.Unmarshal(raw, &payload); err != nil || payload == nil {
		if err == nil {
			err = fmt.Errorf("response is not a JSON object")
		}
		return nil, &CallError{Operation: operation, URL: endpoint, StatusCode: resp.StatusCode,
			Err: claimerrors.NewPermanentError(err, fmt.Sprintf("Malformed %s response.", operation))}
	}
	if remoteErr, ok := payload["error"]; ok && remoteErr != nil {
		return nil, &CallError{Operation: operation, URL: endpoint, StatusCode: resp.StatusCode,
			Err: claimerrors.NewPermanentError(fmt.Errorf("%v", remoteErr), fmt.Sprintf("%s reported: %v", operation, remoteErr))}
	}
	return payload, nil
}

func formValues(params batch.Params) url.Values {
	values := url.Values{}
	for key, value := range params {
		if value == nil {
			continue
		}
		values.Set(key, fmt.Sprint(value))
	}
	return values
}

func sortedKeys(values url.Values) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func snippet(raw []byte) string {
	const limit = 200
	text := strings.TrimSpace(string(raw))
	if len(text) > limit {
		return text[:limit]
	}
	return text
}
