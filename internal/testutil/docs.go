package testutil

import "github.com/roach88/docstore/internal/document"

// Doc builds a live document keyed by "id". fields are added as is and may
// override the defaults.
func Doc(id, rev string, fields map[string]any) document.Data {
	d := document.Data{
		"id":       id,
		"_rev":     rev,
		"_deleted": false,
		"_meta":    map[string]any{"lwt": 1.0},
	}
	for k, v := range fields {
		d[k] = v
	}
	return d
}

// Tombstone builds a deleted document keyed by "id".
func Tombstone(id, rev string) document.Data {
	d := Doc(id, rev, nil)
	d["_deleted"] = true
	return d
}

// IDs returns the "id" field of every document.
func IDs(docs []document.Data) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID("id")
	}
	return out
}
