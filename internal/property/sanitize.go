// Package property implements sanitization and merging of event property
// maps. Only JSON-representable values survive sanitization; everything
// else is silently dropped.
package property

import (
	"encoding/json"
	"reflect"
)

// Sanitize returns a copy of props containing only JSON-safe values:
// strings, booleans, nil, numbers, arrays and nested string-keyed maps of
// the same. Unsupported values are dropped, never reported. The result
// only holds canonical types (string, bool, float64-compatible numerics,
// []any, map[string]any), so sanitizing twice yields the same map.
func Sanitize(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}

	out := make(map[string]any, len(props))
	for key, value := range props {
		clean, ok := sanitizeValue(value)
		if !ok {
			continue
		}
		out[key] = clean
	}
	return out
}

func sanitizeValue(value any) (any, bool) {
	switch v := value.(type) {
	case nil:
		return nil, true
	case string:
		return v, true
	case bool:
		return v, true
	case json.Number:
		return v, true
	case float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return v, true
	case []any:
		return sanitizeSlice(v), true
	case map[string]any:
		return Sanitize(v), true
	}

	// Typed slices ([]string, []int, ...) and string-keyed maps show up
	// from Go callers even though decoded JSON never produces them.
	// Convert them to the canonical forms instead of dropping them.
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		generic := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			generic = append(generic, rv.Index(i).Interface())
		}
		return sanitizeSlice(generic), true
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		generic := make(map[string]any, rv.Len())
		for _, mk := range rv.MapKeys() {
			generic[mk.String()] = rv.MapIndex(mk).Interface()
		}
		return Sanitize(generic), true
	}

	return nil, false
}

func sanitizeSlice(values []any) []any {
	out := make([]any, 0, len(values))
	for _, value := range values {
		clean, ok := sanitizeValue(value)
		if !ok {
			continue
		}
		out = append(out, clean)
	}
	return out
}

// Merge copies the overlay maps into a fresh map in order; later overlays
// win on key conflict. Nil overlays are skipped.
func Merge(overlays ...map[string]any) map[string]any {
	out := make(map[string]any)
	for _, overlay := range overlays {
		for key, value := range overlay {
			out[key] = value
		}
	}
	return out
}
