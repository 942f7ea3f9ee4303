package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	claimerrors "claimflow/internal/errors"
	"claimflow/internal/httpclient"
	"claimflow/internal/logging"
	jsonx "claimflow/internal/shared/json"
)

const (
	defaultBaseURL         = "https://api.openai.com/v1"
	defaultTimeout         = 120 * time.Second
	maxCompletionBodyBytes = 8 << 20
)

// OpenAI API compatible client
type openaiClient struct {
	model      string
	apiKey     string
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	logger     logging.Logger
}

// NewOpenAIClient constructs a client that speaks the OpenAI-compatible chat
// completions API.
func NewOpenAIClient(config Config) (Client, error) {
	if strings.TrimSpace(config.Model) == "" {
		return nil, fmt.Errorf("openai client: model is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	timeout := defaultTimeout
	if config.Timeout > 0 {
		timeout = config.Timeout
	}

	logger := logging.NewComponentLogger("llm-openai")
	return &openaiClient{
		model:      config.Model,
		apiKey:     config.APIKey,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		headers:    config.Headers,
		httpClient: httpclient.New(timeout, logger),
		logger:     logger,
	}, nil
}

func (c *openaiClient) Model() string {
	return c.model
}

func (c *openaiClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	logger := logging.FromContext(ctx, c.logger)

	oaiReq := map[string]any{
		"model":       c.model,
		"messages":    req.Messages,
		"temperature": req.Temperature,
		"stream":      false,
	}
	if req.MaxTokens > 0 {
		oaiReq["max_tokens"] = req.MaxTokens
	}

	body, err := jsonx.Marshal(oaiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	logger.Debug("POST %s model=%s messages=%d", endpoint, c.model, len(req.Messages))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, wrapRequestError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := httpclient.ReadAllWithLimit(resp.Body, maxCompletionBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Debug("Error response body: %s", string(respBody))
		return nil, mapHTTPError(resp.StatusCode, respBody, resp.Header)
	}

	var oaiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := jsonx.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if oaiResp.Error != nil && oaiResp.Error.Message != "" {
		errMsg := oaiResp.Error.Message
		if oaiResp.Error.Type != "" {
			errMsg = fmt.Sprintf("%s: %s", oaiResp.Error.Type, oaiResp.Error.Message)
		}
		return nil, mapHTTPError(resp.StatusCode, []byte(errMsg), resp.Header)
	}
	if len(oaiResp.Choices) == 0 {
		return nil, claimerrors.NewTransientError(errors.New("no choices in response"), "Model returned an empty response.")
	}

	result := &CompletionResponse{
		Content:    oaiResp.Choices[0].Message.Content,
		StopReason: oaiResp.Choices[0].FinishReason,
		Usage: TokenUsage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
		},
	}
	logger.Debug("Completion: stop=%s chars=%d tokens=%d+%d", result.StopReason, len(result.Content),
		result.Usage.PromptTokens, result.Usage.CompletionTokens)
	return result, nil
}

func wrapRequestError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if claimerrors.IsDegraded(err) {
		return err
	}
	return claimerrors.NewTransientError(err, "Model service is unreachable.")
}

func mapHTTPError(status int, body []byte, header http.Header) error {
	statusErr := &claimerrors.StatusError{StatusCode: status, Body: strings.TrimSpace(string(body))}
	switch {
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		retryAfter, _ := strconv.Atoi(header.Get("Retry-After"))
		return &claimerrors.TransientError{
			Err:        statusErr,
			StatusCode: status,
			RetryAfter: retryAfter,
			Message:    fmt.Sprintf("Model service returned status %d.", status),
		}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &claimerrors.PermanentError{Err: statusErr, StatusCode: status, Message: "Model service rejected the API key."}
	default:
		return &claimerrors.PermanentError{Err: statusErr, StatusCode: status, Message: fmt.Sprintf("Model service returned status %d.", status)}
	}
}
