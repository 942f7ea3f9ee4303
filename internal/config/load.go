package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CLAIMFLOW"

// ValueSource records where a setting came from.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "env"
	SourceOverride ValueSource = "override"
)

// Metadata describes how a Config was assembled.
type Metadata struct {
	ConfigFile string
	sources    map[string]ValueSource
}

// Source returns the provenance of key, e.g. "llm.model".
func (m Metadata) Source(key string) ValueSource {
	if source, ok := m.sources[key]; ok {
		return source
	}
	return SourceDefault
}

// Keys returns every known key in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m.sources))
	for key := range m.sources {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Option customises the loader behaviour.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup  EnvLookup
	aliases    map[string][]string
	configPath string
	overrides  map[string]any
}

// WithEnv supplies a custom environment lookup implementation.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		o.envLookup = lookup
	}
}

// WithConfigFile loads path instead of searching for claimflow.{yaml,json}.
// A missing explicit file is an error.
func WithConfigFile(path string) Option {
	return func(o *loadOptions) {
		o.configPath = path
	}
}

// WithOverride sets key with the highest precedence.
func WithOverride(key string, value any) Option {
	return func(o *loadOptions) {
		if o.overrides == nil {
			o.overrides = map[string]any{}
		}
		o.overrides[strings.ToLower(key)] = value
	}
}

// Load assembles the configuration: defaults, then the config file, then
// environment variables, then overrides. The result is validated.
func Load(opts ...Option) (Config, Metadata, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		aliases:   DefaultEnvAliases(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	defaults, err := flattenConfig(Default())
	if err != nil {
		return Config{}, Metadata{}, err
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path := options.configPath; path == "" {
		if envPath, ok := options.envLookup(EnvPrefix + "_CONFIG"); ok && envPath != "" {
			options.configPath = envPath
		}
	}
	if options.configPath != "" {
		v.SetConfigFile(options.configPath)
	} else {
		v.SetConfigName("claimflow")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.claimflow")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if options.configPath != "" || !errors.As(err, &notFound) {
			return Config{}, Metadata{}, fmt.Errorf("read config: %w", err)
		}
	}

	meta := Metadata{ConfigFile: v.ConfigFileUsed(), sources: make(map[string]ValueSource, len(defaults))}
	for key := range defaults {
		switch {
		case options.overrides[key] != nil:
			v.Set(key, options.overrides[key])
			meta.sources[key] = SourceOverride
		case lookupEnv(options, key) != "":
			v.Set(key, lookupEnv(options, key))
			meta.sources[key] = SourceEnv
		case v.InConfig(key):
			meta.sources[key] = SourceFile
		default:
			meta.sources[key] = SourceDefault
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, Metadata{}, fmt.Errorf("decode config: %w", err)
	}
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, Metadata{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, meta, nil
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func lookupEnv(options loadOptions, key string) string {
	if value, ok := options.envLookup(EnvName(key)); ok && value != "" {
		return value
	}
	for _, alias := range options.aliases[key] {
		if value, ok := options.envLookup(alias); ok && value != "" {
			return value
		}
	}
	return ""
}

func normalize(cfg *Config) {
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	cfg.Endpoints.NER = strings.TrimSpace(cfg.Endpoints.NER)
	cfg.Endpoints.Classify = strings.TrimSpace(cfg.Endpoints.Classify)
	cfg.Endpoints.Summarize = strings.TrimSpace(cfg.Endpoints.Summarize)
	cfg.Endpoints.DescribeImage = strings.TrimSpace(cfg.Endpoints.DescribeImage)
	cfg.Endpoints.Signature = strings.TrimSpace(cfg.Endpoints.Signature)
	cfg.Endpoints.Stamp = strings.TrimSpace(cfg.Endpoints.Stamp)
	cfg.Endpoints.ExtractText = strings.TrimSpace(cfg.Endpoints.ExtractText)
	cfg.Endpoints.ExtractTables = strings.TrimSpace(cfg.Endpoints.ExtractTables)
	cfg.Endpoints.Translate = strings.TrimSpace(cfg.Endpoints.Translate)
	origins := cfg.Server.CORSAllowedOrigins[:0]
	for _, origin := range cfg.Server.CORSAllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	cfg.Server.CORSAllowedOrigins = origins
}

// flattenConfig renders cfg into dotted keys, the shape viper expects for
// defaults.
func flattenConfig(cfg Config) (map[string]any, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("decode defaults: %w", err)
	}
	out := make(map[string]any)
	flatten("", tree, out)
	return out, nil
}

func flatten(prefix string, in map[string]any, out map[string]any) {
	for key, value := range in {
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok && len(nested) > 0 {
			flatten(key, nested, out)
			continue
		}
		out[key] = value
	}
}
