// Package config loads the read-only runtime configuration from an optional
// file, CLAIMFLOW_* environment variables and the legacy variable names.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"claimflow/internal/batch"
	claimerrors "claimflow/internal/errors"
	"claimflow/internal/llm"
	"claimflow/internal/observability"
	"claimflow/internal/remote"
)

const (
	DefaultLLMProvider = "openai"
	DefaultLLMModel    = "gpt-4"
	DefaultLLMBaseURL  = "https://api.openai.com/v1"
	DefaultLanguage    = "en"
	DefaultPort        = 8080
)

// Config is the complete runtime configuration. It is never mutated after
// Load returns.
type Config struct {
	Endpoints     remote.Endpoints     `yaml:"endpoints" mapstructure:"endpoints"`
	LLM           llm.Config           `yaml:"llm" mapstructure:"llm"`
	Processing    ProcessingConfig     `yaml:"processing" mapstructure:"processing"`
	Loop          LoopConfig           `yaml:"loop" mapstructure:"loop"`
	Batch         BatchConfig          `yaml:"batch" mapstructure:"batch"`
	Server        ServerConfig         `yaml:"server" mapstructure:"server"`
	Sink          SinkConfig           `yaml:"sink" mapstructure:"sink"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
}

// ProcessingConfig holds document processing defaults.
type ProcessingConfig struct {
	Language         string `yaml:"language" mapstructure:"language"`
	StartPage        int    `yaml:"start_page" mapstructure:"start_page"`
	EndPage          int    `yaml:"end_page" mapstructure:"end_page"`
	SummaryStartPage int    `yaml:"summary_start_page" mapstructure:"summary_start_page"`
	SummaryEndPage   int    `yaml:"summary_end_page" mapstructure:"summary_end_page"`
	CheckFiles       bool   `yaml:"check_files" mapstructure:"check_files"`
}

// LoopConfig tunes the orchestration loop.
type LoopConfig struct {
	MaxIterations      int     `yaml:"max_iterations" mapstructure:"max_iterations"`
	ReportParseFailure bool    `yaml:"report_parse_failure" mapstructure:"report_parse_failure"`
	StrictDecision     bool    `yaml:"strict_decision" mapstructure:"strict_decision"`
	OracleMaxTokens    int     `yaml:"oracle_max_tokens" mapstructure:"oracle_max_tokens"`
	OracleTemperature  float64 `yaml:"oracle_temperature" mapstructure:"oracle_temperature"`
}

// BatchConfig bounds remote fan-out.
type BatchConfig struct {
	Concurrency      int                              `yaml:"concurrency" mapstructure:"concurrency"`
	CallTimeout      time.Duration                    `yaml:"call_timeout" mapstructure:"call_timeout"`
	MaxResponseBytes int64                            `yaml:"max_response_bytes" mapstructure:"max_response_bytes"`
	Breaker          claimerrors.CircuitBreakerConfig `yaml:"breaker" mapstructure:"breaker"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host               string   `yaml:"host" mapstructure:"host"`
	Port               int      `yaml:"port" mapstructure:"port"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" mapstructure:"cors_allowed_origins"`
	UploadDir          string   `yaml:"upload_dir" mapstructure:"upload_dir"`
	// PathRoot bounds the files that path requests may name. Empty disables
	// path requests.
	PathRoot        string        `yaml:"path_root" mapstructure:"path_root"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	ResultCacheSize int           `yaml:"result_cache_size" mapstructure:"result_cache_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SinkConfig locates reports and the claim store. An empty StorePath
// disables persistence.
type SinkConfig struct {
	ReportsDir string `yaml:"reports_dir" mapstructure:"reports_dir"`
	StorePath  string `yaml:"store_path" mapstructure:"store_path"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LLM: llm.Config{
			Provider:    DefaultLLMProvider,
			Model:       DefaultLLMModel,
			BaseURL:     DefaultLLMBaseURL,
			Temperature: 0,
			Timeout:     60 * time.Second,
			MaxRetries:  3,
		},
		Processing: ProcessingConfig{
			Language:         DefaultLanguage,
			StartPage:        1,
			EndPage:          10,
			SummaryStartPage: 1,
			SummaryEndPage:   1,
			CheckFiles:       true,
		},
		Loop: LoopConfig{
			MaxIterations: 10,
		},
		Batch: BatchConfig{
			Concurrency:      batch.DefaultConcurrency,
			CallTimeout:      batch.DefaultCallTimeout,
			MaxResponseBytes: 16 << 20,
			Breaker:          claimerrors.DefaultCircuitBreakerConfig(),
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               DefaultPort,
			CORSAllowedOrigins: []string{"*"},
			MaxUploadBytes:     64 << 20,
			ResultCacheSize:    256,
			ShutdownTimeout:    10 * time.Second,
		},
		Sink: SinkConfig{
			ReportsDir: "reports",
			StorePath:  "data/claims.db",
		},
		Observability: observability.DefaultConfig(),
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "mock":
	default:
		errs = append(errs, fmt.Errorf("llm.provider: unsupported provider %q", c.LLM.Provider))
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		errs = append(errs, errors.New("llm.model: required"))
	}
	if c.Loop.MaxIterations <= 0 {
		errs = append(errs, errors.New("loop.max_iterations: must be positive"))
	}
	if c.Batch.Concurrency <= 0 {
		errs = append(errs, errors.New("batch.concurrency: must be positive"))
	}
	if c.Batch.CallTimeout <= 0 {
		errs = append(errs, errors.New("batch.call_timeout: must be positive"))
	}
	if c.Processing.StartPage <= 0 || c.Processing.EndPage < c.Processing.StartPage {
		errs = append(errs, fmt.Errorf("processing: invalid page range %d..%d", c.Processing.StartPage, c.Processing.EndPage))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", c.Server.Port))
	}
	return errors.Join(errs...)
}

// Warnings lists settings that are valid but will degrade a run.
func (c Config) Warnings() []string {
	var warnings []string
	if strings.EqualFold(c.LLM.Provider, "openai") && c.LLM.APIKey == "" {
		warnings = append(warnings, "llm.api_key is empty; oracle calls will be rejected")
	}
	for _, op := range c.Endpoints.Missing() {
		warnings = append(warnings, fmt.Sprintf("endpoint for %s is not configured", op))
	}
	return warnings
}
