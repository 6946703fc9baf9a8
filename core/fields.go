package core

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Field path helpers built on gjson/sjson. Context fields are held as native
// maps; path operations round-trip through a JSON document so nested paths
// ("profile.settings.theme") resolve uniformly everywhere field paths appear
// (updates, filters, allow/deny lists, access conditions).

// LookupField resolves a gjson path against a field map. The boolean reports
// whether the path resolved to a value.
func LookupField(fields map[string]any, path string) (any, bool) {
	if len(fields) == 0 || path == "" {
		return nil, false
	}
	doc, err := json.Marshal(fields)
	if err != nil {
		return nil, false
	}
	res := gjson.GetBytes(doc, path)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// SetField writes value at the given sjson path returning a new field map.
// The input map is not mutated.
func SetField(fields map[string]any, path string, value any) (map[string]any, error) {
	if path == "" {
		return nil, fmt.Errorf("field path must not be empty")
	}
	doc, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}
	updated, err := sjson.SetBytes(doc, path, value)
	if err != nil {
		return nil, fmt.Errorf("set field %q: %w", path, err)
	}
	var out map[string]any
	if err := json.Unmarshal(updated, &out); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return out, nil
}

// DeleteField removes the value at the given path returning a new field map.
func DeleteField(fields map[string]any, path string) (map[string]any, error) {
	if path == "" {
		return nil, fmt.Errorf("field path must not be empty")
	}
	doc, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}
	updated, err := sjson.DeleteBytes(doc, path)
	if err != nil {
		return nil, fmt.Errorf("delete field %q: %w", path, err)
	}
	var out map[string]any
	if err := json.Unmarshal(updated, &out); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// CanonicalValue returns a canonical JSON serialization of v used for
// value-level equality checks (conflict detection, consensus counting).
// json.Marshal sorts map keys so structurally equal values serialize
// identically.
func CanonicalValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
