package schema

import (
	"slices"
	"strings"

	"github.com/roach88/docstore/internal/document"
)

// Reserved field names, in the order they are appended to required.
var metaFields = []string{
	document.FieldDeleted,
	document.FieldRev,
	document.FieldMeta,
	document.FieldAttachments,
}

// LWTMaximum bounds _meta.lwt in the injected meta schema.
const LWTMaximum = 1e15

// MetaSchema returns the schema fragment injected for _meta.
func MetaSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			document.MetaLWT: map[string]any{
				"type":       "number",
				"minimum":    float64(document.LWTMinimum),
				"maximum":    float64(LWTMaximum),
				"multipleOf": 0.01,
			},
		},
		"additionalProperties": true,
		"required":             []any{document.MetaLWT},
	}
}

func reservedProperties() map[string]any {
	return map[string]any{
		document.FieldRev: map[string]any{
			"type":      "string",
			"minLength": float64(1),
		},
		document.FieldAttachments: map[string]any{
			"type": "object",
		},
		document.FieldDeleted: map[string]any{
			"type": "boolean",
		},
		document.FieldMeta: MetaSchema(),
	}
}

// Normalize returns the canonical form of s. The input is not modified and
// Normalize(Normalize(s)) equals Normalize(s).
func Normalize(s *Schema) *Schema {
	out := s.Clone()
	primary := out.PrimaryPath()

	closed := false
	out.AdditionalProperties = &closed

	if out.Properties == nil {
		out.Properties = map[string]any{}
	}
	for name, prop := range reservedProperties() {
		out.Properties[name] = prop
	}

	required := append([]string(nil), out.Required...)
	required = append(required, metaFields...)
	required = append(required, FinalFields(out)...)
	required = append(required, primary)
	if out.PrimaryKey.IsComposite() {
		required = append(required, out.PrimaryKey.Fields...)
	}
	required = slices.DeleteFunc(required, func(f string) bool {
		return strings.Contains(f, ".")
	})
	out.Required = uniqueStrings(required)

	if out.Encrypted == nil {
		out.Encrypted = []string{}
	}

	out.Indexes = normalizeIndexes(out.Indexes, primary)
	return out
}

func normalizeIndexes(indexes []Index, primary string) []Index {
	lwtIndex := Index{document.PathLWT, primary}

	if len(indexes) == 0 {
		indexes = []Index{{primary}}
	}
	out := make([]Index, 0, len(indexes)+1)
	for _, idx := range indexes {
		if slices.Equal(idx, lwtIndex) {
			out = append(out, slices.Clone(idx))
			continue
		}
		withKeys := slices.Clone(idx)
		if !slices.Contains(withKeys, primary) {
			withKeys = append(withKeys, primary)
		}
		if withKeys[0] != document.FieldDeleted {
			withKeys = slices.Insert(withKeys, 0, document.FieldDeleted)
		}
		out = append(out, withKeys)
	}
	out = append(out, lwtIndex)
	return uniqueIndexes(out)
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func uniqueIndexes(in []Index) []Index {
	seen := make(map[string]struct{}, len(in))
	out := make([]Index, 0, len(in))
	for _, idx := range in {
		key := strings.Join(idx, "\x00")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, idx)
	}
	return out
}
