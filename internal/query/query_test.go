package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docstore/internal/document"
	"github.com/roach88/docstore/internal/schema"
)

func testSchema() *schema.Schema {
	return schema.Normalize(&schema.Schema{
		PrimaryKey: schema.SingleKey("id"),
		Properties: map[string]any{
			"id":   map[string]any{"type": "string"},
			"team": map[string]any{"type": "string"},
			"age":  map[string]any{"type": "integer"},
		},
		Indexes: []schema.Index{{"team"}, {"age"}},
	})
}

func people() []document.Data {
	return []document.Data{
		{"id": "d", "team": "blue", "age": float64(40), "_deleted": false},
		{"id": "a", "team": "red", "age": float64(30), "_deleted": false},
		{"id": "c", "team": "red", "age": float64(20), "_deleted": false},
		{"id": "b", "team": "red", "age": float64(30), "_deleted": false},
		{"id": "e", "team": "red", "age": float64(50), "_deleted": true},
	}
}

func ids(docs []document.Data) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID("id")
	}
	return out
}

func TestMatch(t *testing.T) {
	doc := document.Data{"id": "a", "team": "red", "age": float64(30), "address": map[string]any{"city": "Oslo"}}

	tests := []struct {
		name string
		pred Predicate
		want bool
	}{
		{"nil matches", nil, true},
		{"equals", Equals{Field: "team", Value: "red"}, true},
		{"equals pointer", &Equals{Field: "team", Value: "blue"}, false},
		{"equals int against float", Equals{Field: "age", Value: 30}, true},
		{"equals nested path", Equals{Field: "address.city", Value: "Oslo"}, true},
		{"equals nil on missing", Equals{Field: "nickname", Value: nil}, true},
		{"gt", Compare{Field: "age", Op: OpGt, Value: 29.0}, true},
		{"gte", Compare{Field: "age", Op: OpGte, Value: 30.0}, true},
		{"lt", Compare{Field: "age", Op: OpLt, Value: 30.0}, false},
		{"lte", Compare{Field: "age", Op: OpLte, Value: 30.0}, true},
		{"ne", Compare{Field: "team", Op: OpNe, Value: "blue"}, true},
		{"ne on missing field", Compare{Field: "nickname", Op: OpNe, Value: "x"}, false},
		{"in", In{Field: "team", Values: []any{"blue", "red"}}, true},
		{"in empty", In{Field: "team"}, false},
		{"and", And{Predicates: []Predicate{
			Equals{Field: "team", Value: "red"},
			Compare{Field: "age", Op: OpLt, Value: 18.0},
		}}, false},
		{"empty and", And{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pred, doc))
		})
	}
}

func TestCompareValues(t *testing.T) {
	assert.Equal(t, -1, CompareValues(nil, false))
	assert.Equal(t, -1, CompareValues(false, true))
	assert.Equal(t, -1, CompareValues(true, 0.0))
	assert.Equal(t, -1, CompareValues(1.5, "a"))
	assert.Equal(t, 0, CompareValues(2, 2.0))
	assert.Equal(t, 1, CompareValues("b", "a"))
	assert.Equal(t, -1, CompareValues([]any{1.0}, []any{1.0, 2.0}))
	assert.Equal(t, 1, CompareValues(map[string]any{}, []any{}))
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, ValuesEqual(int64(3), 3.0))
	assert.True(t, ValuesEqual([]any{"a", 1}, []any{"a", 1.0}))
	assert.True(t, ValuesEqual(map[string]any{"a": "b"}, map[string]any{"a": "b"}))
	assert.False(t, ValuesEqual("1", 1.0))
	assert.False(t, ValuesEqual(nil, false))
}

func TestExecute(t *testing.T) {
	s := testSchema()

	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{
			name: "all live documents by primary key",
			q:    Query{},
			want: []string{"a", "b", "c", "d"},
		},
		{
			name: "selector",
			q:    Query{Selector: Equals{Field: "team", Value: "red"}},
			want: []string{"a", "b", "c"},
		},
		{
			name: "sort with primary key tie-break",
			q:    Query{Sort: []SortField{{Field: "age"}}},
			want: []string{"c", "a", "b", "d"},
		},
		{
			name: "descending sort keeps ascending tie-break",
			q:    Query{Sort: []SortField{{Field: "age", Desc: true}}},
			want: []string{"d", "a", "b", "c"},
		},
		{
			name: "skip and limit",
			q:    Query{Sort: []SortField{{Field: "age"}}, Skip: 1, Limit: 2},
			want: []string{"a", "b"},
		},
		{
			name: "skip past end",
			q:    Query{Skip: 10},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := people()
			p, err := Prepare(s, tt.q)
			require.NoError(t, err)

			got := Execute(docs, p, "id")
			assert.Equal(t, tt.want, ids(got))
			assert.Equal(t, "d", docs[0].ID("id"), "input order is untouched")
		})
	}
}

func TestPrepare(t *testing.T) {
	s := testSchema()

	t.Run("no selector uses first index", func(t *testing.T) {
		p, err := Prepare(s, Query{})
		require.NoError(t, err)
		assert.Equal(t, []string{"_deleted", "team", "id"}, p.Plan.Index)
		assert.True(t, p.Plan.SelectorSatisfiedByIndex)
	})

	t.Run("covered selector", func(t *testing.T) {
		p, err := Prepare(s, Query{Selector: Compare{Field: "age", Op: OpGt, Value: 3.0}})
		require.NoError(t, err)
		assert.Equal(t, []string{"_deleted", "age", "id"}, p.Plan.Index)
		assert.True(t, p.Plan.SelectorSatisfiedByIndex)
	})

	t.Run("primary key selector is covered by any index", func(t *testing.T) {
		p, err := Prepare(s, Query{Selector: In{Field: "id", Values: []any{"a"}}})
		require.NoError(t, err)
		assert.True(t, p.Plan.SelectorSatisfiedByIndex)
	})

	t.Run("uncovered selector falls back to sort index", func(t *testing.T) {
		p, err := Prepare(s, Query{
			Selector: And{Predicates: []Predicate{
				Equals{Field: "team", Value: "red"},
				Compare{Field: "age", Op: OpGt, Value: 3.0},
			}},
			Sort: []SortField{{Field: "age"}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"_deleted", "age", "id"}, p.Plan.Index)
		assert.False(t, p.Plan.SelectorSatisfiedByIndex)
	})

	t.Run("invalid query", func(t *testing.T) {
		_, err := Prepare(s, Query{
			Selector: And{Predicates: []Predicate{
				Equals{Field: ""},
				Compare{Field: "age", Op: "$regex", Value: "x"},
			}},
			Limit: -1,
		})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Len(t, ve.Problems, 3)
	})
}

func TestFields(t *testing.T) {
	p := And{Predicates: []Predicate{
		Equals{Field: "a"},
		&Compare{Field: "b", Op: OpGt, Value: 1.0},
		And{Predicates: []Predicate{In{Field: "a"}, Equals{Field: "c"}}},
	}}
	assert.Equal(t, []string{"a", "b", "c"}, Fields(p))
	assert.Empty(t, Fields(nil))
}
