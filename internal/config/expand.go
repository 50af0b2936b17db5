package config

import (
	"regexp"
	"strings"
)

// envPattern matches both ${VAR} and ${VAR:-default} forms.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandValue recursively applies expandString to every string found in
// v's nested maps and slices, preserving everything else unchanged.
func expandValue(v any, getenv func(string) (string, bool)) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = expandValue(val, getenv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = expandValue(val, getenv)
		}
		return out
	case string:
		return expandString(t, getenv)
	default:
		return v
	}
}

// expandString substitutes ${VAR} and ${VAR:-default} references in s. If
// the fully-expanded result is entirely a base-10 integer, it is returned
// as an int so that numeric consumers (notably the bus port) see the
// correct type instead of a numeric string (spec §4.5).
func expandString(s string, getenv func(string) (string, bool)) any {
	if !strings.Contains(s, "${") {
		return s
	}

	expanded := envPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		name, hasDefault, def := groups[1], groups[2] != "", groups[3]
		if val, ok := getenv(name); ok {
			return val
		}
		if hasDefault {
			return def
		}
		return ""
	})

	if n, ok := coercedInt(expanded); ok {
		return n
	}
	return expanded
}
