package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// ParseSelector converts a Mango-style selector into a predicate:
//
//	{"name": "alice", "age": {"$gte": 30, "$lt": 40}, "tag": {"$in": ["a", "b"]}}
//
// Plain values mean equality. "$and" takes a list of selectors. Fields are
// combined with And in sorted order, so equal selectors parse equally.
func ParseSelector(selector map[string]any) (Predicate, error) {
	fields := make([]string, 0, len(selector))
	for f := range selector {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var preds []Predicate
	for _, field := range fields {
		value := selector[field]
		if field == "$and" {
			list, ok := value.([]any)
			if !ok {
				return nil, fmt.Errorf("$and: expected a list, got %T", value)
			}
			for i, item := range list {
				sub, ok := item.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("$and[%d]: expected an object, got %T", i, item)
				}
				p, err := ParseSelector(sub)
				if err != nil {
					return nil, fmt.Errorf("$and[%d]: %w", i, err)
				}
				preds = append(preds, p)
			}
			continue
		}
		ops, ok := value.(map[string]any)
		if !ok {
			preds = append(preds, Equals{Field: field, Value: value})
			continue
		}
		parsed, err := parseOperators(field, ops)
		if err != nil {
			return nil, err
		}
		preds = append(preds, parsed...)
	}

	if len(preds) == 1 {
		return preds[0], nil
	}
	return And{Predicates: preds}, nil
}

func parseOperators(field string, ops map[string]any) ([]Predicate, error) {
	names := make([]string, 0, len(ops))
	for op := range ops {
		names = append(names, op)
	}
	sort.Strings(names)

	preds := make([]Predicate, 0, len(names))
	for _, op := range names {
		value := ops[op]
		switch Op(op) {
		case OpGt, OpGte, OpLt, OpLte, OpNe:
			preds = append(preds, Compare{Field: field, Op: Op(op), Value: value})
			continue
		}
		switch op {
		case "$eq":
			preds = append(preds, Equals{Field: field, Value: value})
		case "$in":
			list, ok := value.([]any)
			if !ok {
				return nil, fmt.Errorf("field %q: $in expects a list, got %T", field, value)
			}
			preds = append(preds, In{Field: field, Values: list})
		default:
			return nil, fmt.Errorf("field %q: unsupported operator %q", field, op)
		}
	}
	return preds, nil
}

type rawQuery struct {
	Selector map[string]any `json:"selector"`
	Sort     []any          `json:"sort"`
	Skip     int            `json:"skip"`
	Limit    int            `json:"limit"`
}

// ParseQuery decodes a JSON query:
//
//	{"selector": {...}, "sort": ["name", {"age": "desc"}], "skip": 0, "limit": 10}
//
// The result is validated.
func ParseQuery(data []byte) (Query, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var raw rawQuery
	if err := dec.Decode(&raw); err != nil {
		return Query{}, fmt.Errorf("decode query: %w", err)
	}

	q := Query{Skip: raw.Skip, Limit: raw.Limit}
	if len(raw.Selector) > 0 {
		p, err := ParseSelector(raw.Selector)
		if err != nil {
			return Query{}, err
		}
		q.Selector = p
	}
	for i, s := range raw.Sort {
		sf, err := parseSort(s)
		if err != nil {
			return Query{}, fmt.Errorf("sort[%d]: %w", i, err)
		}
		q.Sort = append(q.Sort, sf)
	}
	if err := Validate(q); err != nil {
		return Query{}, err
	}
	return q, nil
}

func parseSort(s any) (SortField, error) {
	switch v := s.(type) {
	case string:
		return SortField{Field: v}, nil
	case map[string]any:
		if len(v) != 1 {
			return SortField{}, fmt.Errorf("expected one field, got %d", len(v))
		}
		for field, dir := range v {
			switch dir {
			case "asc":
				return SortField{Field: field}, nil
			case "desc":
				return SortField{Field: field, Desc: true}, nil
			default:
				return SortField{}, fmt.Errorf("field %q: direction must be asc or desc", field)
			}
		}
	}
	return SortField{}, fmt.Errorf("expected a field name or {field: direction}, got %T", s)
}
