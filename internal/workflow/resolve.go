package workflow

import "strings"

// ResolveParams substitutes context references in a step's parameters. A
// string value consisting entirely of "$name" is replaced with the raw value
// stored under name in the run state; anything else passes through untouched,
// including references to keys no earlier step produced. Nested maps and
// slices are resolved recursively. The input map is never mutated.
func ResolveParams(params map[string]interface{}, state map[string]interface{}) map[string]interface{} {
	if params == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = resolveValue(v, state)
	}
	return out
}

func resolveValue(v interface{}, state map[string]interface{}) interface{} {
	switch val := v.(type) {
	case string:
		name, ok := refName(val)
		if !ok {
			return val
		}
		if resolved, found := state[name]; found {
			return resolved
		}
		// Unresolved references pass through literally.
		return val
	case map[string]interface{}:
		return ResolveParams(val, state)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = resolveValue(item, state)
		}
		return out
	default:
		return v
	}
}

// refName extracts the key from a "$name" reference. Only whole-value
// references count; "$" alone and embedded dollars are literals.
func refName(s string) (string, bool) {
	if len(s) < 2 || !strings.HasPrefix(s, "$") {
		return "", false
	}
	name := s[1:]
	for _, r := range name {
		if !isRefRune(r) {
			return "", false
		}
	}
	return name, true
}

func isRefRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		return true
	}
	return false
}
