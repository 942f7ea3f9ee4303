// Package llm talks to OpenAI-compatible chat completion services. The
// decision oracle and the decide stage both go through the Client interface.
package llm

import (
	"context"
	"time"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a provider-neutral chat request.
type CompletionRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Metadata    map[string]any
}

// TokenUsage reports token accounting returned by the provider.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the first choice of a chat completion.
type CompletionResponse struct {
	Content    string
	StopReason string
	Usage      TokenUsage
}

// Client completes chat requests.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Model() string
}

// Config selects and configures a provider.
type Config struct {
	Provider    string            `yaml:"provider" mapstructure:"provider"` // openai, mock
	Model       string            `yaml:"model" mapstructure:"model"`
	BaseURL     string            `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string            `yaml:"api_key" mapstructure:"api_key"`
	Temperature float64           `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int               `yaml:"max_tokens" mapstructure:"max_tokens"`
	Timeout     time.Duration     `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries  int               `yaml:"max_retries" mapstructure:"max_retries"`
	Headers     map[string]string `yaml:"headers,omitempty" mapstructure:"headers"`
}
