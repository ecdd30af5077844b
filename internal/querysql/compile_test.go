package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docstore/internal/query"
)

func prepared(q query.Query) query.Prepared {
	return query.Prepared{Query: q}
}

func TestCompileQuery_NoSelector(t *testing.T) {
	c := NewSQLCompiler("docs_users", "id")

	sql, params, err := c.CompileQuery(prepared(query.Query{}))
	require.NoError(t, err)
	assert.Equal(t, `SELECT data FROM "docs_users" WHERE deleted = 0 ORDER BY id COLLATE BINARY ASC LIMIT ? OFFSET ?`, sql)
	assert.Equal(t, []any{-1, 0}, params)
}

func TestCompileQuery_Selector(t *testing.T) {
	c := NewSQLCompiler("docs_users", "key")

	sql, params, err := c.CompileQuery(prepared(query.Query{
		Selector: query.And{Predicates: []query.Predicate{
			query.Equals{Field: "team", Value: "red"},
			&query.Compare{Field: "age", Op: query.OpGte, Value: 18},
			query.In{Field: "key", Values: []any{"a", "b"}},
			query.Equals{Field: "active", Value: true},
		}},
		Sort:  []query.SortField{{Field: "address.city", Desc: true}},
		Skip:  5,
		Limit: 10,
	}))
	require.NoError(t, err)

	assert.Equal(t, `SELECT data FROM "docs_users" WHERE deleted = 0 AND `+
		`(json_extract(data, '$."team"') = ?) AND `+
		`(json_extract(data, '$."age"') >= ?) AND `+
		`(id IN (?, ?)) AND `+
		`(json_extract(data, '$."active"') = ?) `+
		`ORDER BY json_extract(data, '$."address"."city"') DESC, id COLLATE BINARY ASC LIMIT ? OFFSET ?`, sql)
	assert.Equal(t, []any{"red", 18.0, "a", "b", 1, 10, 5}, params)
	assert.NotContains(t, sql, "red")
}

func TestCompileCount(t *testing.T) {
	c := NewSQLCompiler("t", "id")

	sql, params, err := c.CompileCount(prepared(query.Query{
		Selector: query.Equals{Field: "nickname", Value: nil},
		Limit:    3,
	}))
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "t" WHERE deleted = 0 AND json_extract(data, '$."nickname"') IS NULL`, sql)
	assert.Empty(t, params)
}

func TestCompileReservedColumns(t *testing.T) {
	c := NewSQLCompiler("t", "id")

	for field, want := range map[string]string{
		"id":        "id",
		"_deleted":  "deleted",
		"_rev":      "rev",
		"_meta.lwt": "lwt",
	} {
		got, err := c.Expr(field)
		require.NoError(t, err)
		assert.Equal(t, want, got, field)
	}

	exprs, err := c.IndexExprs([]string{"_deleted", "team", "id"})
	require.NoError(t, err)
	assert.Equal(t, []string{"deleted", `json_extract(data, '$."team"')`, "id"}, exprs)
}

func TestCompileErrors(t *testing.T) {
	c := NewSQLCompiler("t", "id")

	tests := []struct {
		name string
		q    query.Query
	}{
		{"injection in field", query.Query{Selector: query.Equals{Field: "a') OR 1=1 --", Value: "x"}}},
		{"empty segment", query.Query{Selector: query.Equals{Field: "a..b", Value: "x"}}},
		{"object value", query.Query{Selector: query.Equals{Field: "a", Value: map[string]any{}}}},
		{"unknown op", query.Query{Selector: query.Compare{Field: "a", Op: "$regex", Value: "x"}}},
		{"bad sort field", query.Query{Sort: []query.SortField{{Field: `a"b`}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := c.CompileQuery(prepared(tt.q))
			assert.Error(t, err)
		})
	}
}

func TestCompileEmptyIn(t *testing.T) {
	c := NewSQLCompiler("t", "id")
	sql, params, err := c.CompileCount(prepared(query.Query{Selector: query.In{Field: "a"}}))
	require.NoError(t, err)
	assert.Contains(t, sql, "0 = 1")
	assert.Empty(t, params)
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"a""b"`, QuoteIdent(`a"b`))
}
