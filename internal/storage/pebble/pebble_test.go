package pebble

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docstore/internal/schema"
	"github.com/roach88/docstore/internal/storage"
	"github.com/roach88/docstore/internal/storage/storagetest"
	docs "github.com/roach88/docstore/internal/testutil"
)

func openTemp(t *testing.T) *Storage {
	t.Helper()
	st, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return openTemp(t)
	})
}

func humans() storage.Params {
	return storage.Params{Database: "db", Collection: "humans", Schema: storagetest.HumanSchema()}
}

func TestChangeKeyOrder(t *testing.T) {
	p := collectionPrefix("db", "humans")
	keys := [][]byte{
		changeKey(p, 0, ""),
		changeKey(p, 1, "b"),
		changeKey(p, 1.5, "a"),
		changeKey(p, 2, "a"),
		changeKey(p, 2, "ab"),
		changeKey(p, 1e15, "a"),
	}
	for i := 1; i < len(keys); i++ {
		assert.Negative(t, bytes.Compare(keys[i-1], keys[i]), "key %d", i)
	}

	lwt, id := parseChangeKey(p, changeKey(p, 1234.56, "doc|1"))
	assert.Equal(t, 1234.56, lwt)
	assert.Equal(t, "doc|1", id)
	assert.False(t, math.Signbit(lwt))
}

func TestBoundsIsolateCollections(t *testing.T) {
	lower, upper := bounds(tagDocument, collectionPrefix("db", "a"))
	inside := docKey(collectionPrefix("db", "a"), "zzz")
	outside := docKey(collectionPrefix("db", "ab"), "x")

	assert.True(t, bytes.Compare(lower, inside) <= 0 && bytes.Compare(inside, upper) < 0)
	assert.False(t, bytes.Compare(lower, outside) <= 0 && bytes.Compare(outside, upper) < 0)
}

func TestCollectionsAreIsolated(t *testing.T) {
	st := openTemp(t)
	ctx := context.Background()

	a, err := st.CreateInstance(ctx, humans())
	require.NoError(t, err)
	defer a.Close()
	params := humans()
	params.Collection = "humans2"
	b, err := st.CreateInstance(ctx, params)
	require.NoError(t, err)
	defer b.Close()

	_, err = a.BulkWrite(ctx, []storage.WriteRow{{Document: docs.Doc("x", "1-a", nil)}}, "test")
	require.NoError(t, err)

	info, err := b.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, info.TotalCount)
	require.NoError(t, b.Remove(ctx))

	info, err = a.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, info.TotalCount)
}

func TestSchemaMismatch(t *testing.T) {
	st := openTemp(t)
	ctx := context.Background()
	inst, err := st.CreateInstance(ctx, humans())
	require.NoError(t, err)
	defer inst.Close()

	params := humans()
	params.Schema = schema.Normalize(&schema.Schema{
		Version:    2,
		PrimaryKey: schema.SingleKey("id"),
		Properties: map[string]any{"id": map[string]any{"type": "string", "maxLength": float64(100)}},
	})
	_, err = st.CreateInstance(ctx, params)
	assert.Equal(t, storage.ErrCodeSchemaMismatch, storage.GetCode(err))
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st, err := Open(dir)
	require.NoError(t, err)
	inst, err := st.CreateInstance(ctx, humans())
	require.NoError(t, err)
	_, err = inst.BulkWrite(ctx, []storage.WriteRow{
		{Document: docs.Doc("a", "1-x", map[string]any{"name": "alice"})},
	}, "test")
	require.NoError(t, err)
	require.NoError(t, inst.Close())
	require.NoError(t, st.Close())

	st, err = Open(dir)
	require.NoError(t, err)
	defer st.Close()
	inst, err = st.CreateInstance(ctx, humans())
	require.NoError(t, err)
	defer inst.Close()

	found, err := inst.FindDocumentsByID(ctx, []string{"a"}, false)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "alice", found[0]["name"])
}

func TestCollector(t *testing.T) {
	st := openTemp(t)
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(st.Collector()))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}
