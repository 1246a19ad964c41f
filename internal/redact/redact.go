// Package redact scrubs sensitive fields from payloads before they are
// cached or persisted. Redaction is applied recursively: nested objects and
// array elements are walked, string values become the marker and numeric
// values become zero.
package redact

// Marker replaces redacted string values.
const Marker = "[REDACTED]"

// DefaultKeys is the sensitive-key set. Values under these keys are never
// stored in clear.
var DefaultKeys = []string{"password", "token", "apiKey", "secret", "authorization"}

// Map redacts a decoded JSON object using the default key set.
func Map(input map[string]any) map[string]any {
	return MapKeys(input, DefaultKeys)
}

// MapKeys redacts a decoded JSON object using a caller-supplied key set.
// The input is not mutated; a redacted copy is returned.
func MapKeys(input map[string]any, keys []string) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for k, v := range input {
		if containsKey(keys, k) {
			out[k] = redactValue(v)
		} else {
			out[k] = Value(v, keys)
		}
	}
	return out
}

// Value redacts an arbitrary decoded JSON value: maps and slices are walked
// recursively, everything else passes through unchanged.
func Value(input any, keys []string) any {
	switch v := input.(type) {
	case map[string]any:
		return MapKeys(v, keys)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Value(item, keys)
		}
		return out
	default:
		return input
	}
}

// redactValue replaces a sensitive value with the marker, or zero for
// numbers. Nil stays nil so absent fields stay absent.
func redactValue(v any) any {
	switch v.(type) {
	case string:
		return Marker
	case float64, int, int64:
		return 0
	case nil:
		return nil
	default:
		return Marker
	}
}

func containsKey(keys []string, k string) bool {
	for _, key := range keys {
		if key == k {
			return true
		}
	}
	return false
}
