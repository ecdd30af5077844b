package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/docstore/internal/document"
)

// PrimaryFieldName returns the document field that stores the primary key.
func PrimaryFieldName(pk PrimaryKey) string {
	return pk.Key
}

// ComposePrimaryKey returns the primary key value of d.
//
// For a single-field key the stored value is returned as is. Composite keys
// join their fields, in declared order, with the separator.
func ComposePrimaryKey(s *Schema, d document.Data) (string, error) {
	pk := s.PrimaryKey
	if !pk.IsComposite() {
		v, ok := d[pk.Key]
		if !ok || v == nil {
			return "", &MissingFieldError{Field: pk.Key, PrimaryKey: pk.Key}
		}
		return keyPart(v), nil
	}

	parts := make([]string, len(pk.Fields))
	for i, field := range pk.Fields {
		v, ok := d.Get(field)
		if !ok || v == nil {
			return "", &MissingFieldError{Field: field, PrimaryKey: pk.Key}
		}
		parts[i] = keyPart(v)
	}
	return strings.Join(parts, pk.Separator), nil
}

// FillPrimaryKey sets the composed primary key on d and returns it. d is
// modified in place. Single-field keys leave d untouched.
func FillPrimaryKey(s *Schema, d document.Data) (document.Data, error) {
	if !s.PrimaryKey.IsComposite() {
		return d, nil
	}
	composed, err := ComposePrimaryKey(s, d)
	if err != nil {
		return nil, err
	}
	field := s.PrimaryPath()
	if existing, ok := d[field]; ok && existing != nil && existing != "" {
		if existingKey := keyPart(existing); existingKey != composed {
			return nil, &PrimaryKeyMismatchError{Field: field, Existing: existingKey, Composed: composed}
		}
	}
	d[field] = composed
	return d, nil
}

func keyPart(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
