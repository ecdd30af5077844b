// Package document defines the document value stored by every backend and
// the reserved fields all documents carry.
package document

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Reserved field names present on every stored document.
const (
	FieldRev         = "_rev"
	FieldDeleted     = "_deleted"
	FieldMeta        = "_meta"
	FieldAttachments = "_attachments"

	// MetaLWT is the last-write-time key inside _meta.
	MetaLWT = "lwt"

	// PathLWT is the dotted path of the last-write-time.
	PathLWT = FieldMeta + "." + MetaLWT
)

// LWTMinimum is the smallest valid last-write-time. It is positive so a
// stored lwt always compares greater than the zero checkpoint.
const LWTMinimum = 1

// Data is one document: field name to JSON-compatible value.
//
// Values are the types produced by encoding/json (map[string]any, []any,
// string, float64, bool, nil); integer Go types are accepted on input.
// Data is passed between layers by value: use Clone before mutating a
// document you did not create.
type Data map[string]any

// Rev returns the revision token, or "" if unset.
func (d Data) Rev() string {
	s, _ := d[FieldRev].(string)
	return s
}

// Deleted reports whether the document is a tombstone.
func (d Data) Deleted() bool {
	b, _ := d[FieldDeleted].(bool)
	return b
}

// Meta returns the _meta object, or nil if absent.
func (d Data) Meta() map[string]any {
	m, _ := d[FieldMeta].(map[string]any)
	return m
}

// LWT returns _meta.lwt and whether it holds a finite number.
func (d Data) LWT() (float64, bool) {
	meta := d.Meta()
	if meta == nil {
		return 0, false
	}
	return ToFloat(meta[MetaLWT])
}

// ID returns the string value stored under primaryPath.
func (d Data) ID(primaryPath string) string {
	v, _ := d.Get(primaryPath)
	s, _ := v.(string)
	return s
}

// Get returns the value at a dotted path such as "address.city".
func (d Data) Get(path string) (any, bool) {
	return GetPath(map[string]any(d), path)
}

// Set stores value at a dotted path, creating intermediate objects.
func (d Data) Set(path string, value any) {
	parts := strings.Split(path, ".")
	cur := map[string]any(d)
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// Clone returns a deep copy of d.
func (d Data) Clone() Data {
	if d == nil {
		return nil
	}
	return Data(cloneMap(d))
}

// WithLWT returns a clone of d whose _meta.lwt is lwt.
func (d Data) WithLWT(lwt float64) Data {
	out := d.Clone()
	if out == nil {
		out = Data{}
	}
	out.Set(PathLWT, lwt)
	return out
}

// GetPath resolves a dotted path inside nested objects.
func GetPath(obj map[string]any, path string) (any, bool) {
	var cur any = obj
	for _, p := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// ToFloat converts any numeric JSON value to float64.
func ToFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Marshal encodes d as JSON for persistence.
func Marshal(d Data) ([]byte, error) {
	data, err := json.Marshal(map[string]any(d))
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a persisted document.
func Unmarshal(data []byte) (Data, error) {
	var d Data
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return d, nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// CloneValue deep-copies a JSON-compatible value.
func CloneValue(v any) any {
	return cloneValue(v)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case Data:
		return Data(cloneMap(val))
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return v
	}
}
