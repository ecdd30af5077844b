package schema

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/roach88/docstore/internal/canonical"
	"github.com/roach88/docstore/internal/document"
)

// PrimaryKey is either a single field name or a composite declaration.
// In JSON/YAML it is a string or {"key", "fields", "separator"}.
type PrimaryKey struct {
	Key       string
	Fields    []string
	Separator string
}

// SingleKey returns a primary key on one field.
func SingleKey(field string) PrimaryKey {
	return PrimaryKey{Key: field}
}

// CompositeKey returns a primary key stored in key and composed from fields.
func CompositeKey(key string, separator string, fields ...string) PrimaryKey {
	return PrimaryKey{Key: key, Fields: fields, Separator: separator}
}

// IsComposite reports whether the key is assembled from several fields.
func (pk PrimaryKey) IsComposite() bool {
	return len(pk.Fields) > 0
}

func (pk PrimaryKey) toValue() any {
	if !pk.IsComposite() {
		return pk.Key
	}
	fields := make([]any, len(pk.Fields))
	for i, f := range pk.Fields {
		fields[i] = f
	}
	return map[string]any{
		"key":       pk.Key,
		"fields":    fields,
		"separator": pk.Separator,
	}
}

// MarshalJSON implements json.Marshaler.
func (pk PrimaryKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(pk.toValue())
}

// UnmarshalJSON implements json.Unmarshaler.
func (pk *PrimaryKey) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := parsePrimaryKey(raw)
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// Index is an ordered list of field paths.
type Index []string

// Schema is a document schema declaration.
//
// Properties holds the JSON-schema fragment of every top-level field as
// decoded from JSON/YAML/CUE. Extra keeps any other top-level keyword
// (title, description, ...) so it survives normalization and hashing.
type Schema struct {
	Version              int
	Type                 string
	PrimaryKey           PrimaryKey
	Properties           map[string]any
	Required             []string
	Indexes              []Index
	Encrypted            []string
	KeyCompression       bool
	AdditionalProperties *bool
	Extra                map[string]any
}

// PrimaryPath returns the field the primary key value is stored under.
func (s *Schema) PrimaryPath() string {
	return PrimaryFieldName(s.PrimaryKey)
}

// ToMap returns the schema as a JSON-compatible map.
func (s *Schema) ToMap() map[string]any {
	m := make(map[string]any, len(s.Extra)+10)
	for k, v := range s.Extra {
		m[k] = v
	}
	m["version"] = s.Version
	m["primaryKey"] = s.PrimaryKey.toValue()
	if s.Type != "" {
		m["type"] = s.Type
	}
	props := s.Properties
	if props == nil {
		props = map[string]any{}
	}
	m["properties"] = props
	m["required"] = stringsToAny(s.Required)
	m["encrypted"] = stringsToAny(s.Encrypted)
	indexes := make([]any, len(s.Indexes))
	for i, idx := range s.Indexes {
		indexes[i] = stringsToAny(idx)
	}
	m["indexes"] = indexes
	m["keyCompression"] = s.KeyCompression
	if s.AdditionalProperties != nil {
		m["additionalProperties"] = *s.AdditionalProperties
	}
	return m
}

// Canonical returns the RFC 8785 canonical JSON of the schema.
func (s *Schema) Canonical() ([]byte, error) {
	return canonical.Marshal(s.ToMap())
}

// MarshalJSON implements json.Marshaler using the canonical form.
func (s *Schema) MarshalJSON() ([]byte, error) {
	return s.Canonical()
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	parsed, err := FromMap(m)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

// Clone returns a deep copy of s.
func (s *Schema) Clone() *Schema {
	out := *s
	out.PrimaryKey.Fields = append([]string(nil), s.PrimaryKey.Fields...)
	out.Properties = document.Data(s.Properties).Clone()
	out.Required = append([]string(nil), s.Required...)
	out.Encrypted = append([]string(nil), s.Encrypted...)
	out.Indexes = make([]Index, len(s.Indexes))
	for i, idx := range s.Indexes {
		out.Indexes[i] = append(Index(nil), idx...)
	}
	if s.AdditionalProperties != nil {
		v := *s.AdditionalProperties
		out.AdditionalProperties = &v
	}
	out.Extra = document.Data(s.Extra).Clone()
	return &out
}

// FromMap parses a decoded schema document.
func FromMap(m map[string]any) (*Schema, error) {
	s := &Schema{Extra: map[string]any{}}
	for k, v := range m {
		var err error
		switch k {
		case "version":
			s.Version, err = parseVersion(v)
		case "type":
			s.Type, _ = v.(string)
		case "primaryKey":
			s.PrimaryKey, err = parsePrimaryKey(v)
		case "properties":
			props, ok := v.(map[string]any)
			if !ok {
				err = fmt.Errorf("properties must be an object")
			}
			s.Properties = document.Data(props).Clone()
		case "required":
			s.Required, err = parseStringList(k, v)
		case "encrypted":
			s.Encrypted, err = parseStringList(k, v)
		case "indexes":
			s.Indexes, err = parseIndexes(v)
		case "keyCompression":
			b, ok := v.(bool)
			if !ok {
				err = fmt.Errorf("keyCompression must be a boolean")
			}
			s.KeyCompression = b
		case "additionalProperties":
			b, ok := v.(bool)
			if !ok {
				err = fmt.Errorf("additionalProperties must be a boolean")
			}
			s.AdditionalProperties = &b
		default:
			s.Extra[k] = document.CloneValue(v)
		}
		if err != nil {
			return nil, &InvalidSchemaError{Field: k, Message: err.Error()}
		}
	}
	if s.PrimaryKey.Key == "" {
		return nil, &InvalidSchemaError{Field: "primaryKey", Message: "primary key is required"}
	}
	return s, nil
}

func parseVersion(v any) (int, error) {
	f, ok := document.ToFloat(v)
	if !ok || f < 0 || f != math.Trunc(f) {
		return 0, fmt.Errorf("version must be a non-negative integer")
	}
	return int(f), nil
}

func parsePrimaryKey(v any) (PrimaryKey, error) {
	switch val := v.(type) {
	case string:
		if val == "" {
			return PrimaryKey{}, fmt.Errorf("primary key must not be empty")
		}
		return SingleKey(val), nil
	case map[string]any:
		key, _ := val["key"].(string)
		sep, _ := val["separator"].(string)
		fields, err := parseStringList("fields", val["fields"])
		if err != nil {
			return PrimaryKey{}, err
		}
		if key == "" || len(fields) == 0 {
			return PrimaryKey{}, fmt.Errorf("composite primary key needs key and fields")
		}
		return CompositeKey(key, sep, fields...), nil
	default:
		return PrimaryKey{}, fmt.Errorf("primary key must be a string or an object")
	}
}

func parseStringList(name string, v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return append([]string(nil), val...), nil
	case []any:
		out := make([]string, len(val))
		for i, e := range val {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d] must be a string", name, i)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be a list of strings", name)
	}
}

// parseIndexes accepts a list whose entries are a field path or a list of
// field paths.
func parseIndexes(v any) ([]Index, error) {
	list, ok := v.([]any)
	if !ok {
		if v == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("indexes must be a list")
	}
	out := make([]Index, 0, len(list))
	for i, e := range list {
		if s, ok := e.(string); ok {
			out = append(out, Index{s})
			continue
		}
		fields, err := parseStringList(fmt.Sprintf("indexes[%d]", i), e)
		if err != nil {
			return nil, err
		}
		out = append(out, Index(fields))
	}
	return out, nil
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
