package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docstore/internal/document"
	"github.com/roach88/docstore/internal/query"
	"github.com/roach88/docstore/internal/schema"
	"github.com/roach88/docstore/internal/storage"
	"github.com/roach88/docstore/internal/storage/storagetest"
	"github.com/roach88/docstore/internal/testutil"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return New()
	})
}

func TestSchemaMismatch(t *testing.T) {
	st := New()
	ctx := context.Background()
	params := storage.Params{Database: "db", Collection: "humans", Schema: storagetest.HumanSchema()}

	inst, err := st.CreateInstance(ctx, params)
	require.NoError(t, err)
	defer inst.Close()

	params.Schema = schema.Normalize(&schema.Schema{
		Version:    1,
		PrimaryKey: schema.SingleKey("id"),
		Properties: map[string]any{"id": map[string]any{"type": "string", "maxLength": float64(100)}},
	})
	_, err = st.CreateInstance(ctx, params)
	assert.Equal(t, storage.ErrCodeSchemaMismatch, storage.GetCode(err))
}

func TestStoragesAreIsolated(t *testing.T) {
	ctx := context.Background()
	params := storage.Params{Database: "db", Collection: "humans", Schema: storagetest.HumanSchema()}

	a, err := New().CreateInstance(ctx, params)
	require.NoError(t, err)
	defer a.Close()
	b, err := New().CreateInstance(ctx, params)
	require.NoError(t, err)
	defer b.Close()

	res, err := a.BulkWrite(ctx, []storage.WriteRow{{Document: map[string]any{
		"id": "x", "_rev": "1-a", "_deleted": false, "_meta": map[string]any{"lwt": 1.0},
	}}}, "test")
	require.NoError(t, err)
	require.Len(t, res.Success, 1)

	info, err := b.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, info.TotalCount)
}

func TestInvalidParams(t *testing.T) {
	_, err := New().CreateInstance(context.Background(), storage.Params{Collection: "c", Schema: storagetest.HumanSchema()})
	assert.True(t, storage.IsProgrammerError(err))
}

func TestCountWalksSecondaryIndex(t *testing.T) {
	st := New()
	ctx := context.Background()
	inst, err := st.CreateInstance(ctx, storage.Params{Database: "db", Collection: "humans", Schema: storagetest.HumanSchema()})
	require.NoError(t, err)
	defer inst.Close()

	human := func(id, rev, name string, age int) document.Data {
		return testutil.Doc(id, rev, map[string]any{"name": name, "age": float64(age)})
	}
	res, err := inst.BulkWrite(ctx, []storage.WriteRow{
		{Document: human("a", "1-x", "alice", 30)},
		{Document: human("b", "1-x", "bob", 40)},
		{Document: human("c", "1-x", "bob", 50)},
		{Document: human("d", "1-x", "dora", 30)},
		{Document: testutil.Doc("e", "1-x", map[string]any{"age": float64(30)})},
	}, "test")
	require.NoError(t, err)
	require.Len(t, res.Success, 5)
	byID := map[string]document.Data{}
	for _, d := range res.Success {
		byID[d.ID("id")] = d
	}

	// Rename one bob and delete the other.
	res, err = inst.BulkWrite(ctx, []storage.WriteRow{
		{Document: human("b", "2-x", "bert", 41), Previous: byID["b"]},
		{Document: testutil.Tombstone("c", "2-x"), Previous: byID["c"]},
	}, "test")
	require.NoError(t, err)
	require.Len(t, res.Success, 2)

	tests := []struct {
		name     string
		selector query.Predicate
		want     int
	}{
		{"everything", nil, 4},
		{"equal name", query.Equals{Field: "name", Value: "bert"}, 1},
		{"renamed away", query.Equals{Field: "name", Value: "bob"}, 0},
		{"missing name", query.Equals{Field: "name", Value: nil}, 1},
		{"equal age", query.Equals{Field: "age", Value: 30}, 3},
		{"age range", query.Compare{Field: "age", Op: query.OpGt, Value: 30.0}, 1},
		{"age in", query.In{Field: "age", Values: []any{30.0, 41.0}}, 4},
		{"and on one field", query.And{Predicates: []query.Predicate{
			query.Compare{Field: "age", Op: query.OpGte, Value: 30.0},
			query.Compare{Field: "age", Op: query.OpLt, Value: 41.0},
		}}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := query.Prepare(storagetest.HumanSchema(), query.Query{Selector: tt.selector})
			require.NoError(t, err)
			require.True(t, q.Plan.SelectorSatisfiedByIndex)

			got, err := inst.Count(ctx, q)
			require.NoError(t, err)
			assert.Equal(t, storage.CountFast, got.Mode)
			assert.Equal(t, tt.want, got.Count)

			docs, err := inst.Query(ctx, q)
			require.NoError(t, err)
			assert.Len(t, docs.Documents, got.Count, "count agrees with query")
		})
	}

	coll := st.collections["db/humans"]
	require.Len(t, coll.indexes, len(storagetest.HumanSchema().Indexes))
	for name, x := range coll.indexes {
		assert.Equal(t, coll.docs.Len(), x.tree.Len(), "index %q", name)
	}

	done, err := inst.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.True(t, done)
	for name, x := range coll.indexes {
		assert.Equal(t, 4, x.tree.Len(), "purged tombstone leaves index %q", name)
	}

	require.NoError(t, inst.Remove(ctx))
	for name, x := range coll.indexes {
		assert.Zero(t, x.tree.Len(), "index %q after remove", name)
	}
}
