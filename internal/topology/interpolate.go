package topology

import (
	"os"
	"strings"
)

// Interpolate expands ${VAR}, ${VAR:-default} and $VAR references in a raw
// topology document. "$$" escapes a literal dollar sign. Unset variables
// without a default expand to the empty string, matching what the external
// engines do with the same syntax.
func Interpolate(data []byte, lookup func(string) (string, bool)) []byte {
	expanded := os.Expand(string(data), func(ref string) string {
		if ref == "$" {
			return "$"
		}

		name := ref
		def := ""
		hasDefault := false
		if i := strings.Index(ref, ":-"); i >= 0 {
			name = ref[:i]
			def = ref[i+2:]
			hasDefault = true
		}

		if val, ok := lookup(name); ok && val != "" {
			return val
		}
		if hasDefault {
			return def
		}
		return ""
	})
	return []byte(expanded)
}

// EnvLookup builds a lookup for Interpolate from the process environment,
// with entries from dotenv (a parsed .env file) taking lower precedence.
func EnvLookup(dotenv map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		if val, ok := os.LookupEnv(name); ok {
			return val, true
		}
		if val, ok := dotenv[name]; ok {
			return val, true
		}
		return "", false
	}
}
