package stages

import (
	"fmt"
	"strconv"
	"strings"
)

// Strings reads a list of strings. A single string is treated as a one
// element list; non-string elements are skipped.
func (in Inputs) Strings(key string) []string {
	switch v := in[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

// Has reports whether key is present.
func (in Inputs) Has(key string) bool {
	_, ok := in[key]
	return ok
}

// String reads a string value.
func (in Inputs) String(key string) (string, bool) {
	switch v := in[key].(type) {
	case string:
		return v, true
	case fmt.Stringer:
		return v.String(), true
	}
	return "", false
}

// Int reads an integer that may arrive as a JSON number or a string.
func (in Inputs) Int(key string) (int, bool) {
	switch v := in[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil {
			return n, true
		}
	}
	return 0, false
}

// Map reads an object value.
func (in Inputs) Map(key string) (map[string]any, bool) {
	v, ok := in[key].(map[string]any)
	return v, ok
}

// Maps reads a list of objects.
func (in Inputs) Maps(key string) []map[string]any {
	switch v := in[key].(type) {
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// pageRange resolves start/end page inputs against defaults. Non-positive
// values fall back to the defaults.
func pageRange(in Inputs, defaultStart, defaultEnd int) (int, int) {
	start, end := defaultStart, defaultEnd
	if v, ok := in.Int("start_page"); ok && v > 0 {
		start = v
	}
	if v, ok := in.Int("end_page"); ok && v > 0 {
		end = v
	}
	return start, end
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
