package query

import (
	"slices"

	"github.com/roach88/docstore/internal/document"
	"github.com/roach88/docstore/internal/schema"
)

// Prepare validates q and plans it against a normalized schema.
//
// The first index that contains every selector field is chosen and marks
// the selector as satisfied by the index. Without such an index the plan
// falls back to an index led by the first sort field, or to the first
// declared index.
func Prepare(s *schema.Schema, q Query) (Prepared, error) {
	if err := Validate(q); err != nil {
		return Prepared{}, err
	}
	return Prepared{Query: q, Plan: plan(s, q)}, nil
}

func plan(s *schema.Schema, q Query) Plan {
	fields := slices.DeleteFunc(Fields(q.Selector), func(f string) bool {
		return f == document.FieldDeleted
	})

	var fallback []string
	for _, idx := range s.Indexes {
		if len(idx) == 0 || idx[0] != document.FieldDeleted {
			continue
		}
		if fallback == nil {
			fallback = idx
		}
		if covers(idx, fields) {
			return Plan{Index: slices.Clone(idx), SelectorSatisfiedByIndex: true}
		}
	}

	if len(q.Sort) > 0 {
		for _, idx := range s.Indexes {
			if len(idx) > 1 && idx[0] == document.FieldDeleted && idx[1] == q.Sort[0].Field {
				return Plan{Index: slices.Clone(idx)}
			}
		}
	}
	if fallback == nil {
		fallback = []string{document.FieldDeleted, s.PrimaryPath()}
	}
	return Plan{Index: slices.Clone(fallback)}
}

func covers(index []string, fields []string) bool {
	for _, f := range fields {
		if !slices.Contains(index, f) {
			return false
		}
	}
	return true
}
