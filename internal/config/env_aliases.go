package config

import "os"

// EnvLookup resolves the value for an environment variable.
type EnvLookup func(string) (string, bool)

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// DefaultEnvAliases maps configuration keys to the legacy variable names
// that still populate them when the CLAIMFLOW_ variable is unset.
func DefaultEnvAliases() map[string][]string {
	aliases := map[string][]string{
		"endpoints.ner":               {"HF_NER_URL"},
		"endpoints.classify":          {"HF_CLASSIFY_URL"},
		"endpoints.summarize":         {"HF_SUMMARIZE_URL"},
		"endpoints.describe_image":    {"HF_DESCRIBE_URL"},
		"endpoints.signature":         {"HF_SIGNATURE_URL"},
		"endpoints.stamp":             {"HF_STAMP_URL"},
		"endpoints.extract_text":      {"HF_TEXT_URL"},
		"endpoints.extract_tables":    {"HF_TABLES_URL"},
		"endpoints.translate":         {"HF_TRANSLATE_URL"},
		"llm.model":                   {"LLM_MODEL"},
		"llm.temperature":             {"LLM_TEMPERATURE"},
		"llm.api_key":                 {"OPENAI_API_KEY"},
		"llm.base_url":                {"LLM_BASE_URL"},
		"processing.language":         {"PROCESSING_LANGUAGE"},
		"server.port":                 {"PORT"},
		"server.cors_allowed_origins": {"CORS_ALLOWED_ORIGINS"},
	}

	copy := make(map[string][]string, len(aliases))
	for key, list := range aliases {
		copy[key] = append([]string(nil), list...)
	}
	return copy
}
