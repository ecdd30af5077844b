package query

import (
	"reflect"
	"slices"
	"strings"

	"github.com/roach88/docstore/internal/document"
)

// Match reports whether d satisfies p. A nil predicate matches everything.
func Match(p Predicate, d document.Data) bool {
	switch pred := p.(type) {
	case nil:
		return true
	case Equals:
		return matchEquals(pred, d)
	case *Equals:
		return matchEquals(*pred, d)
	case Compare:
		return matchCompare(pred, d)
	case *Compare:
		return matchCompare(*pred, d)
	case In:
		return matchIn(pred, d)
	case *In:
		return matchIn(*pred, d)
	case And:
		return matchAnd(pred, d)
	case *And:
		return matchAnd(*pred, d)
	default:
		return false
	}
}

func matchEquals(eq Equals, d document.Data) bool {
	v, ok := d.Get(eq.Field)
	if eq.Value == nil {
		return !ok || v == nil
	}
	return ok && ValuesEqual(v, eq.Value)
}

func matchCompare(c Compare, d document.Data) bool {
	v, ok := d.Get(c.Field)
	if !ok || v == nil {
		return false
	}
	if c.Op == OpNe {
		return !ValuesEqual(v, c.Value)
	}
	cmp := CompareValues(v, c.Value)
	switch c.Op {
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	default:
		return false
	}
}

func matchIn(in In, d document.Data) bool {
	v, ok := d.Get(in.Field)
	if !ok {
		return false
	}
	for _, candidate := range in.Values {
		if ValuesEqual(v, candidate) {
			return true
		}
	}
	return false
}

func matchAnd(a And, d document.Data) bool {
	for _, p := range a.Predicates {
		if !Match(p, d) {
			return false
		}
	}
	return true
}

// Value kinds in ascending sort order.
const (
	rankNull = iota
	rankBool
	rankNumber
	rankString
	rankArray
	rankObject
)

func rank(v any) int {
	switch v.(type) {
	case nil:
		return rankNull
	case bool:
		return rankBool
	case string:
		return rankString
	case []any:
		return rankArray
	case map[string]any, document.Data:
		return rankObject
	}
	if _, ok := document.ToFloat(v); ok {
		return rankNumber
	}
	return rankObject
}

// CompareValues orders two JSON values: null < false < true < numbers <
// strings < arrays < objects. Strings compare bytewise; arrays compare
// element by element. Objects of equal rank compare equal.
func CompareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case rankBool:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case rankNumber:
		af, _ := document.ToFloat(a)
		bf, _ := document.ToFloat(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankArray:
		aa, ba := a.([]any), b.([]any)
		for i := 0; i < len(aa) && i < len(ba); i++ {
			if c := CompareValues(aa[i], ba[i]); c != 0 {
				return c
			}
		}
		switch {
		case len(aa) < len(ba):
			return -1
		case len(aa) > len(ba):
			return 1
		}
	}
	return 0
}

// ValuesEqual reports whether two JSON values are equal. Numbers of any Go
// numeric type compare by value.
func ValuesEqual(a, b any) bool {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return false
	}
	if ra == rankObject {
		return reflect.DeepEqual(a, b)
	}
	if ra == rankArray {
		aa, ba := a.([]any), b.([]any)
		if len(aa) != len(ba) {
			return false
		}
		for i := range aa {
			if !ValuesEqual(aa[i], ba[i]) {
				return false
			}
		}
		return true
	}
	return CompareValues(a, b) == 0
}

// SortDocuments sorts docs in place by sort, then by primary key.
func SortDocuments(docs []document.Data, sort []SortField, primaryPath string) {
	slices.SortStableFunc(docs, func(a, b document.Data) int {
		for _, s := range sort {
			av, _ := a.Get(s.Field)
			bv, _ := b.Get(s.Field)
			c := CompareValues(av, bv)
			if s.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return strings.Compare(a.ID(primaryPath), b.ID(primaryPath))
	})
}

// Execute evaluates q over docs: drops tombstones and non-matching
// documents, sorts, then applies skip and limit. docs is not modified.
func Execute(docs []document.Data, q Prepared, primaryPath string) []document.Data {
	out := Filter(docs, q.Selector)
	SortDocuments(out, q.Sort, primaryPath)
	return Window(out, q.Skip, q.Limit)
}

// Filter returns the live documents of docs matching selector.
func Filter(docs []document.Data, selector Predicate) []document.Data {
	out := make([]document.Data, 0, len(docs))
	for _, d := range docs {
		if d.Deleted() || !Match(selector, d) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Window applies skip and limit. A limit of 0 means no limit.
func Window(docs []document.Data, skip, limit int) []document.Data {
	if skip >= len(docs) {
		return []document.Data{}
	}
	docs = docs[skip:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}
