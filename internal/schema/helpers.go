package schema

import (
	"slices"
	"strings"

	"github.com/roach88/docstore/internal/document"
)

// FinalFields returns the top-level fields declared final, plus the primary
// key field. The result is sorted.
func FinalFields(s *Schema) []string {
	var out []string
	for name, prop := range s.Properties {
		m, ok := prop.(map[string]any)
		if !ok {
			continue
		}
		if final, _ := m["final"].(bool); final {
			out = append(out, name)
		}
	}
	out = append(out, s.PrimaryPath())
	slices.Sort(out)
	return slices.Compact(out)
}

// ByObjectPath returns the schema fragment declared for a dotted field path.
func ByObjectPath(s *Schema, path string) (map[string]any, bool) {
	props := s.Properties
	var current map[string]any
	for _, part := range strings.Split(path, ".") {
		if props == nil {
			return nil, false
		}
		next, ok := props[part].(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
		props, _ = current["properties"].(map[string]any)
	}
	return current, current != nil
}

// PrimaryKeyMaxLength returns the declared maxLength of the primary key
// field, or 0 when none is declared.
func PrimaryKeyMaxLength(s *Schema) int {
	prop, ok := ByObjectPath(s, s.PrimaryPath())
	if !ok {
		return 0
	}
	n, ok := document.ToFloat(prop["maxLength"])
	if !ok {
		return 0
	}
	return int(n)
}

// DefaultValues returns the declared default of every top-level property
// that has one.
func DefaultValues(s *Schema) map[string]any {
	out := map[string]any{}
	for name, prop := range s.Properties {
		m, ok := prop.(map[string]any)
		if !ok {
			continue
		}
		if v, ok := m["default"]; ok {
			out[name] = v
		}
	}
	return out
}

// FillObjectWithDefaults sets every missing top-level field of d that has a
// declared default. d is modified in place and returned.
func FillObjectWithDefaults(s *Schema, d document.Data) document.Data {
	for name, v := range DefaultValues(s) {
		if _, ok := d[name]; !ok {
			d[name] = document.CloneValue(v)
		}
	}
	return d
}

// DefaultCheckpointSchema is the JSON schema of a replication checkpoint.
func DefaultCheckpointSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{
				"type": "string",
			},
			"lwt": map[string]any{
				"type":       "number",
				"minimum":    float64(0),
				"maximum":    float64(LWTMaximum),
				"multipleOf": 0.01,
			},
		},
		"required":             []any{"id", "lwt"},
		"additionalProperties": false,
	}
}
