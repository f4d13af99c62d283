package normalizer

import (
	"encoding/json"
	"fmt"
)

// fieldSpec is an ordered list of places to look for one logical field.
// Upstream dialects disagree on naming (camelCase vs snake_case, name vs
// filename) and nesting; modeling resolution as explicit candidate lists
// keeps the order auditable and lets a new dialect add a candidate without
// disturbing existing precedence.
type fieldSpec struct {
	// keys are tried first, in order, against the top level of the raw event.
	keys []string
	// paths are tried next, in order; each path walks nested objects.
	paths [][]string
}

func (f fieldSpec) lookup(raw map[string]any) (any, bool) {
	for _, k := range f.keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	for _, p := range f.paths {
		if v, ok := walk(raw, p); ok {
			return v, true
		}
	}
	return nil, false
}

func (f fieldSpec) str(raw map[string]any) string {
	v, ok := f.lookup(raw)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (f fieldSpec) int64(raw map[string]any) int64 {
	v, ok := f.lookup(raw)
	if !ok {
		return 0
	}
	return asInt64(v)
}

func walk(raw map[string]any, path []string) (any, bool) {
	var cur any = raw
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// strField returns the first non-empty string among the given top-level keys.
func strField(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// listField returns the first list value among the given top-level keys.
func listField(raw map[string]any, keys ...string) ([]any, bool) {
	for _, k := range keys {
		if l, ok := raw[k].([]any); ok {
			return l, true
		}
	}
	return nil, false
}

// intPtrField returns the first numeric value among the given keys, or nil.
func intPtrField(raw map[string]any, keys ...string) *int {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			n := int(asInt64(v))
			return &n
		}
	}
	return nil
}

func mapField(raw map[string]any, key string) (map[string]any, bool) {
	m, ok := raw[key].(map[string]any)
	return m, ok
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}

// stringify renders a structured value as text: strings pass through,
// everything else is JSON-encoded.
func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// rest copies raw minus the consumed keys, for passthrough of whatever a
// dialect carried beyond the modeled payload.
func rest(raw map[string]any, consumed ...string) map[string]any {
	skip := make(map[string]struct{}, len(consumed))
	for _, k := range consumed {
		skip[k] = struct{}{}
	}
	out := make(map[string]any)
	for k, v := range raw {
		if _, ok := skip[k]; ok {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
