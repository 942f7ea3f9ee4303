package config

import (
	"gopkg.in/yaml.v3"

	"claimflow/internal/observability"
)

// Dump renders cfg as YAML with the API key masked.
func Dump(cfg Config) ([]byte, error) {
	if cfg.LLM.APIKey != "" {
		cfg.LLM.APIKey = observability.SanitizeAPIKey(cfg.LLM.APIKey)
	}
	return yaml.Marshal(cfg)
}
