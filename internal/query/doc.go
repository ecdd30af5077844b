// Package query defines the prepared query handed to a storage instance and
// the reference in-memory evaluator backends share.
//
// A Query is a selector, a sort order and a skip/limit window. Prepare
// validates it against a normalized schema and attaches a Plan: the index the
// backend should walk and whether that index alone answers the selector.
// Count uses the latter to choose between the fast path (index-only) and the
// slow path (materialize then count).
//
// Selector predicates form a sealed set:
//
//	Equals   field = value
//	Compare  field <op> value   (op: $gt $gte $lt $lte $ne)
//	In       field IN (values)
//	And      all of the nested predicates
//
// Tombstones never match a query: every backend adds "_deleted = false"
// implicitly. Results are always ordered by the requested sort fields with
// the primary key as the final ascending tie-break.
//
// Example:
//
//	q := query.Query{
//	    Selector: query.And{Predicates: []query.Predicate{
//	        query.Equals{Field: "team", Value: "red"},
//	        query.Compare{Field: "age", Op: query.OpGte, Value: 18.0},
//	    }},
//	    Sort:  []query.SortField{{Field: "age", Desc: true}},
//	    Limit: 10,
//	}
//	prepared, err := query.Prepare(normalized, q)
package query
