package memory

import (
	"slices"
	"strings"

	"github.com/google/btree"

	"github.com/roach88/docstore/internal/document"
	"github.com/roach88/docstore/internal/query"
)

// index is a secondary index over the fields of one normalized schema
// index. Entries are ordered by the field values, then by id.
type index struct {
	fields []string
	tree   *btree.BTreeG[indexEntry]
}

type indexEntry struct {
	key []any
	id  string
	// fields holds the indexed fields of the document, so selectors over
	// them are evaluated without reading the document.
	fields document.Data
}

func lessIndexEntry(a, b indexEntry) bool {
	for i := 0; i < len(a.key) && i < len(b.key); i++ {
		if c := query.CompareValues(a.key[i], b.key[i]); c != 0 {
			return c < 0
		}
	}
	if len(a.key) != len(b.key) {
		return len(a.key) < len(b.key)
	}
	return a.id < b.id
}

func newIndex(fields []string) *index {
	return &index{fields: slices.Clone(fields), tree: btree.NewG(degree, lessIndexEntry)}
}

func indexName(fields []string) string {
	return strings.Join(fields, "\x00")
}

// entry projects doc onto the index fields. Missing fields sort as null.
func (x *index) entry(id string, doc document.Data) indexEntry {
	e := indexEntry{key: make([]any, len(x.fields)), id: id, fields: document.Data{}}
	for i, f := range x.fields {
		if v, ok := doc.Get(f); ok {
			e.key[i] = v
			e.fields.Set(f, v)
		}
	}
	return e
}

func (x *index) put(id string, old, doc document.Data) {
	if old != nil {
		x.tree.Delete(x.entry(id, old))
	}
	x.tree.ReplaceOrInsert(x.entry(id, doc))
}

func (x *index) delete(id string, doc document.Data) {
	x.tree.Delete(x.entry(id, doc))
}

// count counts the live documents matching selector by walking the range
// of the index that the selector's equality conditions pin down. Only the
// indexed fields are read. The index must lead with _deleted.
func (x *index) count(selector query.Predicate) int {
	prefix := x.equalityPrefix(selector)
	n := 0
	x.tree.AscendGreaterOrEqual(indexEntry{key: prefix}, func(e indexEntry) bool {
		for i, v := range prefix {
			if query.CompareValues(e.key[i], v) != 0 {
				return false
			}
		}
		if query.Match(selector, e.fields) {
			n++
		}
		return true
	})
	return n
}

// equalityPrefix returns false for _deleted followed by the values of the
// leading index fields the selector compares for equality.
func (x *index) equalityPrefix(selector query.Predicate) []any {
	equals := map[string]any{}
	var collect func(p query.Predicate)
	collect = func(p query.Predicate) {
		switch p := p.(type) {
		case query.Equals:
			equals[p.Field] = p.Value
		case *query.Equals:
			equals[p.Field] = p.Value
		case query.And:
			for _, c := range p.Predicates {
				collect(c)
			}
		case *query.And:
			for _, c := range p.Predicates {
				collect(c)
			}
		}
	}
	collect(selector)

	prefix := []any{false}
	for _, f := range x.fields[1:] {
		v, ok := equals[f]
		if !ok {
			break
		}
		prefix = append(prefix, v)
	}
	return prefix
}
