// Package storagetest is the conformance suite every storage backend runs.
//
//	func TestConformance(t *testing.T) {
//	    storagetest.Run(t, func(t *testing.T) storage.Storage {
//	        return memory.New()
//	    })
//	}
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/roach88/docstore/internal/document"
	"github.com/roach88/docstore/internal/multiinstance"
	"github.com/roach88/docstore/internal/query"
	"github.com/roach88/docstore/internal/schema"
	"github.com/roach88/docstore/internal/storage"
	"github.com/roach88/docstore/internal/testutil"
)

// NewStorage returns a fresh, empty backend. Instances created from the
// same Storage with the same database and collection must share data.
type NewStorage func(t *testing.T) storage.Storage

// HumanSchema is the schema the suite writes.
func HumanSchema() *schema.Schema {
	return schema.Normalize(&schema.Schema{
		Version:    0,
		Type:       "object",
		PrimaryKey: schema.SingleKey("id"),
		Properties: map[string]any{
			"id":   map[string]any{"type": "string", "maxLength": float64(100)},
			"name": map[string]any{"type": "string"},
			"age":  map[string]any{"type": "integer"},
		},
		Indexes: []schema.Index{{"name"}, {"age"}},
	})
}

// Run executes the suite.
func Run(t *testing.T, newStorage NewStorage) {
	tests := []struct {
		name string
		fn   func(t *testing.T, h *harness)
	}{
		{"InsertUpdateStaleConflict", testInsertUpdateStaleConflict},
		{"ReinsertIsConflict", testReinsertIsConflict},
		{"DeleteOfMissingIsConflict", testDeleteOfMissingIsConflict},
		{"DeleteAndResurrect", testDeleteAndResurrect},
		{"ProgrammerErrorsWriteNothing", testProgrammerErrorsWriteNothing},
		{"FindDocumentsByID", testFindDocumentsByID},
		{"QueryAndCount", testQueryAndCount},
		{"Info", testInfo},
		{"ChangedDocumentsSinceCompleteness", testChangesCompleteness},
		{"ChangedDocumentsSinceEmpty", testChangesEmpty},
		{"ChangedDocumentsSinceDuringWrites", testChangesDuringWrites},
		{"ChangeStream", testChangeStream},
		{"ConcurrentWriters", testConcurrentWriters},
		{"Cleanup", testCleanup},
		{"CleanupIsBounded", testCleanupBounded},
		{"CompositePrimaryKey", testCompositePrimaryKey},
		{"MultiInstance", testMultiInstance},
		{"ConflictResolutionTasks", testConflictResolutionTasks},
		{"AttachmentsNotImplemented", testAttachmentsNotImplemented},
		{"Lifecycle", testLifecycle},
		{"CloseWithOperationsInFlight", testCloseInFlight},
		{"Remove", testRemove},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &harness{
				t:       t,
				storage: newStorage(t),
				clock:   testutil.NewDeterministicClock(1000),
				hub:     multiinstance.NewHub(),
			}
			tt.fn(t, h)
		})
	}
}

type harness struct {
	t       *testing.T
	storage storage.Storage
	clock   *testutil.DeterministicClock
	hub     *multiinstance.Hub
}

func (h *harness) params() storage.Params {
	return storage.Params{
		Database:   "testdb",
		Collection: "humans",
		Schema:     HumanSchema(),
		Logger:     zaptest.NewLogger(h.t),
		Clock:      h.clock,
		IDs:        testutil.NewSequentialIDs("bulk"),
		Hub:        h.hub,
	}
}

func (h *harness) open(modify ...func(*storage.Params)) storage.Instance {
	h.t.Helper()
	p := h.params()
	for _, m := range modify {
		m(&p)
	}
	inst, err := h.storage.CreateInstance(context.Background(), p)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = inst.Close() })
	return inst
}

func human(id, rev, name string, age int) document.Data {
	return testutil.Doc(id, rev, map[string]any{"name": name, "age": float64(age)})
}

func write(t *testing.T, inst storage.Instance, rows ...storage.WriteRow) storage.BulkWriteResponse {
	t.Helper()
	res, err := inst.BulkWrite(context.Background(), rows, "storagetest")
	require.NoError(t, err)
	return res
}

func insert(t *testing.T, inst storage.Instance, docs ...document.Data) []document.Data {
	t.Helper()
	rows := make([]storage.WriteRow, len(docs))
	for i, d := range docs {
		rows[i] = storage.WriteRow{Document: d}
	}
	res := write(t, inst, rows...)
	require.Empty(t, res.Errors)
	return res.Success
}

func prepare(t *testing.T, q query.Query) query.Prepared {
	t.Helper()
	p, err := query.Prepare(HumanSchema(), q)
	require.NoError(t, err)
	return p
}

func next[T any](t *testing.T, sub *storage.Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-sub.C():
		require.True(t, ok, "stream completed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream value")
	}
	var zero T
	return zero
}

func testInsertUpdateStaleConflict(t *testing.T, h *harness) {
	inst := h.open()

	first := write(t, inst, storage.WriteRow{Document: human("a", "1-x", "alice", 30)})
	require.Len(t, first.Success, 1)
	require.Empty(t, first.Errors)
	stored := first.Success[0]
	assert.Equal(t, "1-x", stored.Rev())
	lwt, ok := stored.LWT()
	require.True(t, ok)
	assert.GreaterOrEqual(t, lwt, float64(document.LWTMinimum))

	second := write(t, inst, storage.WriteRow{
		Document: human("a", "2-y", "alice", 31),
		Previous: stored,
	})
	require.Len(t, second.Success, 1)
	require.Empty(t, second.Errors)

	third := write(t, inst, storage.WriteRow{
		Document: human("a", "3-z", "alice", 32),
		Previous: human("a", "1-x", "alice", 30),
	})
	assert.Empty(t, third.Success)
	require.Len(t, third.Errors, 1)
	conflict := third.Errors[0]
	assert.True(t, conflict.IsError)
	assert.Equal(t, storage.StatusConflict, conflict.Status)
	assert.Equal(t, "a", conflict.DocumentID)
	assert.Equal(t, "2-y", conflict.ExistingDocument.Rev())
	assert.Equal(t, "3-z", conflict.WriteRow.Document.Rev())

	docs, err := inst.FindDocumentsByID(context.Background(), []string{"a"}, false)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "2-y", docs[0].Rev())
	assert.Equal(t, 31.0, docs[0]["age"])
}

func testReinsertIsConflict(t *testing.T, h *harness) {
	inst := h.open()
	row := storage.WriteRow{Document: human("a", "1-x", "alice", 30)}

	first := write(t, inst, row)
	require.Len(t, first.Success, 1)

	second := write(t, inst, row)
	assert.Empty(t, second.Success)
	require.Len(t, second.Errors, 1)
	assert.Equal(t, "1-x", second.Errors[0].ExistingDocument.Rev())
}

func testDeleteOfMissingIsConflict(t *testing.T, h *harness) {
	inst := h.open()

	res := write(t, inst, storage.WriteRow{
		Document: testutil.Tombstone("ghost", "2-x"),
		Previous: testutil.Doc("ghost", "1-x", nil),
	})
	require.Len(t, res.Errors, 1)
	assert.Nil(t, res.Errors[0].ExistingDocument)

	info, err := inst.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, info.TotalCount)
}

func testDeleteAndResurrect(t *testing.T, h *harness) {
	inst := h.open()
	sub, err := inst.ChangeStream()
	require.NoError(t, err)
	defer sub.Unsubscribe()

	live := insert(t, inst, human("a", "1-x", "alice", 30))[0]
	assert.Equal(t, storage.OperationInsert, next(t, sub).Events[0].Operation)

	del := testutil.Tombstone("a", "2-x")
	res := write(t, inst, storage.WriteRow{Document: del, Previous: live})
	require.Len(t, res.Success, 1)
	bulk := next(t, sub)
	assert.Equal(t, storage.OperationDelete, bulk.Events[0].Operation)
	assert.Equal(t, "1-x", bulk.Events[0].Previous.Rev())

	docs, err := inst.FindDocumentsByID(context.Background(), []string{"a"}, false)
	require.NoError(t, err)
	assert.Empty(t, docs)

	res = write(t, inst, storage.WriteRow{Document: human("a", "3-x", "alice", 33), Previous: res.Success[0]})
	require.Len(t, res.Success, 1)
	bulk = next(t, sub)
	assert.Equal(t, storage.OperationInsert, bulk.Events[0].Operation)
	assert.Nil(t, bulk.Events[0].Previous)
}

func testProgrammerErrorsWriteNothing(t *testing.T, h *harness) {
	inst := h.open()

	_, err := inst.BulkWrite(context.Background(), []storage.WriteRow{
		{Document: human("ok", "1-x", "fine", 1)},
		{Document: human("bad", "", "no rev", 2)},
	}, "storagetest")
	require.Error(t, err)
	assert.True(t, storage.IsProgrammerError(err))
	assert.Equal(t, storage.ErrCodeMissingRevision, storage.GetCode(err))

	_, err = inst.BulkWrite(context.Background(), []storage.WriteRow{{
		Document: human("ok", "2-x", "fine", 1),
		Previous: human("ok", "", "fine", 1),
	}}, "storagetest")
	assert.Equal(t, storage.ErrCodeMissingRevision, storage.GetCode(err))

	info, err := inst.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, info.TotalCount)
}

func testFindDocumentsByID(t *testing.T, h *harness) {
	inst := h.open()
	insert(t, inst,
		human("a", "1-x", "alice", 30),
		human("b", "1-x", "bob", 40),
	)
	insert(t, inst, testutil.Tombstone("c", "1-x"))

	ctx := context.Background()
	docs, err := inst.FindDocumentsByID(ctx, []string{"a", "c", "missing"}, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a"}, testutil.IDs(docs))

	docs, err = inst.FindDocumentsByID(ctx, []string{"a", "b", "c"}, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, testutil.IDs(docs))

	docs, err = inst.FindDocumentsByID(ctx, nil, true)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func testQueryAndCount(t *testing.T, h *harness) {
	inst := h.open()
	insert(t, inst,
		human("a", "1-x", "alice", 30),
		human("b", "1-x", "bob", 40),
		human("c", "1-x", "alice", 20),
		human("d", "1-x", "dora", 50),
	)
	insert(t, inst, testutil.Tombstone("e", "1-x"))
	ctx := context.Background()

	res, err := inst.Query(ctx, prepare(t, query.Query{
		Selector: query.Equals{Field: "name", Value: "alice"},
		Sort:     []query.SortField{{Field: "age"}},
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, testutil.IDs(res.Documents))

	res, err = inst.Query(ctx, prepare(t, query.Query{
		Selector: query.Compare{Field: "age", Op: query.OpGte, Value: 30.0},
		Sort:     []query.SortField{{Field: "age", Desc: true}},
		Skip:     1,
		Limit:    2,
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, testutil.IDs(res.Documents))

	res, err = inst.Query(ctx, prepare(t, query.Query{}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, testutil.IDs(res.Documents), "tombstones never match")

	fast, err := inst.Count(ctx, prepare(t, query.Query{
		Selector: query.Equals{Field: "name", Value: "alice"},
	}))
	require.NoError(t, err)
	assert.Equal(t, storage.CountResult{Count: 2, Mode: storage.CountFast}, fast)

	slow, err := inst.Count(ctx, prepare(t, query.Query{
		Selector: query.And{Predicates: []query.Predicate{
			query.Equals{Field: "name", Value: "alice"},
			query.Compare{Field: "age", Op: query.OpLt, Value: 25.0},
		}},
		Limit: 1,
	}))
	require.NoError(t, err)
	assert.Equal(t, storage.CountResult{Count: 1, Mode: storage.CountSlow}, slow)
}

func testInfo(t *testing.T, h *harness) {
	inst := h.open()
	insert(t, inst, human("a", "1-x", "alice", 30), testutil.Tombstone("b", "1-x"))

	info, err := inst.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, info.TotalCount)
}

func testChangesCompleteness(t *testing.T, h *harness) {
	inst := h.open()
	const n = 12

	var written []document.Data
	for i := 0; i < n; i++ {
		// Insert in an order that differs from id order.
		id := fmt.Sprintf("doc-%02d", (i*7)%n)
		written = append(written, insert(t, inst, human(id, "1-x", "x", i))...)
	}
	// Updating the first document moves it to the end of the feed.
	updated := write(t, inst, storage.WriteRow{
		Document: human(written[0].ID("id"), "2-x", "x", 99),
		Previous: written[0],
	})
	require.Len(t, updated.Success, 1)

	ctx := context.Background()
	var seen []document.Data
	var cp *storage.Checkpoint
	for {
		page, err := inst.GetChangedDocumentsSince(ctx, 1, cp)
		require.NoError(t, err)
		if len(page.Documents) == 0 {
			require.NotNil(t, cp)
			assert.Equal(t, *cp, page.Checkpoint, "empty page returns the input checkpoint")
			break
		}
		require.Len(t, page.Documents, 1)
		assert.Equal(t, storage.CheckpointOf(page.Documents[0], "id"), page.Checkpoint)
		seen = append(seen, page.Documents[0])
		c := page.Checkpoint
		cp = &c
		require.LessOrEqual(t, len(seen), n, "feed returned a document twice")
	}

	require.Len(t, seen, n)
	ids := map[string]bool{}
	for i, d := range seen {
		ids[d.ID("id")] = true
		if i > 0 {
			prev := storage.CheckpointOf(seen[i-1], "id")
			assert.Equal(t, -1, prev.Compare(storage.CheckpointOf(d, "id")), "feed is ascending")
		}
	}
	assert.Len(t, ids, n)
	assert.Equal(t, "2-x", seen[n-1].Rev())

	page, err := inst.GetChangedDocumentsSince(ctx, 100, nil)
	require.NoError(t, err)
	assert.Len(t, page.Documents, n)
	assert.Equal(t, storage.CheckpointOf(seen[n-1], "id"), page.Checkpoint)
}

func testChangesEmpty(t *testing.T, h *harness) {
	inst := h.open()
	ctx := context.Background()

	page, err := inst.GetChangedDocumentsSince(ctx, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, page.Documents)
	assert.True(t, page.Checkpoint.IsZero())

	_, err = inst.GetChangedDocumentsSince(ctx, 0, nil)
	assert.True(t, storage.IsProgrammerError(err))

	insert(t, inst, testutil.Tombstone("t", "1-x"))
	page, err = inst.GetChangedDocumentsSince(ctx, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"t"}, testutil.IDs(page.Documents), "tombstones are part of the feed")
}

func testChangesDuringWrites(t *testing.T, h *harness) {
	inst := h.open()
	const n = 200

	docs := make([]document.Data, n)
	for i := range docs {
		docs[i] = human(fmt.Sprintf("doc-%03d", i), "1-x", "x", i)
	}
	current := insert(t, inst, docs...)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for gen := 2; ; gen++ {
			for i, prev := range current {
				select {
				case <-stop:
					return
				default:
				}
				res, err := inst.BulkWrite(context.Background(), []storage.WriteRow{{
					Document: human(prev.ID("id"), fmt.Sprintf("%d-x", gen), "x", i),
					Previous: prev,
				}}, "storagetest")
				if !assert.NoError(t, err) || !assert.Len(t, res.Success, 1) {
					return
				}
				current[i] = res.Success[0]
			}
		}
	}()

	ctx := context.Background()
	for round := 0; round < 20; round++ {
		page, err := inst.GetChangedDocumentsSince(ctx, 1000, nil)
		require.NoError(t, err)
		require.NotEmpty(t, page.Documents)
		assert.LessOrEqual(t, len(page.Documents), n)
		for i := 1; i < len(page.Documents); i++ {
			prev := storage.CheckpointOf(page.Documents[i-1], "id")
			cur := storage.CheckpointOf(page.Documents[i], "id")
			require.Equal(t, -1, prev.Compare(cur), "page is ascending at %d", i)
		}
		last := page.Documents[len(page.Documents)-1]
		assert.Equal(t, storage.CheckpointOf(last, "id"), page.Checkpoint)
	}
	close(stop)
	<-done
}

func testChangeStream(t *testing.T, h *harness) {
	inst := h.open()
	insert(t, inst, human("before", "1-x", "old", 1))

	sub, err := inst.ChangeStream()
	require.NoError(t, err)

	res := write(t, inst,
		storage.WriteRow{Document: human("b", "1-x", "bob", 40)},
		storage.WriteRow{Document: human("a", "1-x", "alice", 30)},
		storage.WriteRow{Document: human("before", "1-x", "dup", 1)},
	)
	require.Len(t, res.Success, 2)
	require.Len(t, res.Errors, 1)

	bulk := next(t, sub)
	assert.NotEmpty(t, bulk.ID)
	assert.Equal(t, "storagetest", bulk.Context)
	require.Len(t, bulk.Events, 2, "one event per accepted row")
	assert.Equal(t, "b", bulk.Events[0].DocumentID)
	assert.Equal(t, "a", bulk.Events[1].DocumentID)
	assert.Equal(t, storage.CheckpointOf(res.Success[1], "id"), bulk.Checkpoint)
	assert.GreaterOrEqual(t, bulk.EndTime, bulk.Checkpoint.LWT)

	// A write with no accepted rows publishes nothing.
	write(t, inst, storage.WriteRow{Document: human("a", "1-x", "again", 1)})
	insert(t, inst, human("c", "1-x", "carol", 3))
	assert.Equal(t, "c", next(t, sub).Events[0].DocumentID)

	require.NoError(t, inst.Close())
	select {
	case _, ok := <-sub.C():
		assert.False(t, ok, "close completes the stream")
	case <-time.After(2 * time.Second):
		t.Fatal("stream not completed by close")
	}
}

func testConcurrentWriters(t *testing.T, h *harness) {
	inst := h.open()
	base := insert(t, inst, human("k", "1-x", "base", 0))[0]

	const writers = 8
	results := make([]storage.BulkWriteResponse, writers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			<-start
			res, err := inst.BulkWrite(context.Background(), []storage.WriteRow{{
				Document: human("k", fmt.Sprintf("2-w%d", w), "writer", w),
				Previous: base,
			}}, "storagetest")
			assert.NoError(t, err)
			results[w] = res
		}(w)
	}
	close(start)
	wg.Wait()

	var winner document.Data
	var losers []storage.WriteError
	for _, res := range results {
		if len(res.Success) == 1 {
			require.Nil(t, winner, "more than one writer succeeded")
			winner = res.Success[0]
		}
		losers = append(losers, res.Errors...)
	}
	require.NotNil(t, winner)
	require.Len(t, losers, writers-1)
	for _, l := range losers {
		assert.Equal(t, winner.Rev(), l.ExistingDocument.Rev())
	}
}

func testCleanup(t *testing.T, h *harness) {
	inst := h.open()
	insert(t, inst, human("live", "1-x", "alive", 1), testutil.Tombstone("dead", "1-x"))
	ctx := context.Background()

	done, err := inst.Cleanup(ctx, time.Hour)
	require.NoError(t, err)
	assert.True(t, done)
	docs, err := inst.FindDocumentsByID(ctx, []string{"dead"}, true)
	require.NoError(t, err)
	assert.Len(t, docs, 1, "young tombstone is kept")

	done, err = inst.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.True(t, done)

	docs, err = inst.FindDocumentsByID(ctx, []string{"live", "dead"}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, testutil.IDs(docs))

	info, err := inst.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, info.TotalCount)
}

func testCleanupBounded(t *testing.T, h *harness) {
	inst := h.open(func(p *storage.Params) { p.CleanupBatchSize = 2 })
	insert(t, inst,
		testutil.Tombstone("t1", "1-x"),
		testutil.Tombstone("t2", "1-x"),
		testutil.Tombstone("t3", "1-x"),
	)
	ctx := context.Background()

	done, err := inst.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.False(t, done, "more tombstones remain")

	info, err := inst.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, info.TotalCount)

	done, err = inst.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.True(t, done)

	info, err = inst.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, info.TotalCount)
}

func testCompositePrimaryKey(t *testing.T, h *harness) {
	inst := h.open(func(p *storage.Params) {
		p.Collection = "pairs"
		p.Schema = schema.Normalize(&schema.Schema{
			PrimaryKey: schema.CompositeKey("id", "|", "first", "last"),
			Properties: map[string]any{
				"id":    map[string]any{"type": "string", "maxLength": float64(100)},
				"first": map[string]any{"type": "string"},
				"last":  map[string]any{"type": "string"},
			},
		})
	})
	meta := map[string]any{"lwt": 1.0}

	res := write(t, inst,
		storage.WriteRow{Document: document.Data{"first": "ada", "last": "lovelace", "_rev": "1-a", "_deleted": false, "_meta": meta}},
		storage.WriteRow{Document: document.Data{"first": "ada", "_rev": "1-a", "_deleted": false, "_meta": meta}},
		storage.WriteRow{Document: document.Data{"id": "x", "first": "alan", "last": "turing", "_rev": "1-a", "_deleted": false, "_meta": meta}},
	)
	require.Len(t, res.Success, 1)
	assert.Equal(t, "ada|lovelace", res.Success[0]["id"])
	require.Len(t, res.Errors, 2)
	assert.Equal(t, storage.ReasonMissingKeyField, res.Errors[0].Reason)
	assert.Equal(t, storage.ReasonPrimaryKeyMismatch, res.Errors[1].Reason)

	docs, err := inst.FindDocumentsByID(context.Background(), []string{"ada|lovelace"}, false)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func testMultiInstance(t *testing.T, h *harness) {
	a := h.open()
	b := h.open()

	subB, err := b.ChangeStream()
	require.NoError(t, err)
	subA, err := a.ChangeStream()
	require.NoError(t, err)

	insert(t, a, human("from-a", "1-x", "a", 1))

	bulk := next(t, subB)
	assert.Equal(t, "from-a", bulk.Events[0].DocumentID)
	assert.Equal(t, "from-a", next(t, subA).Events[0].DocumentID)

	docs, err := b.FindDocumentsByID(context.Background(), []string{"from-a"}, false)
	require.NoError(t, err)
	assert.Len(t, docs, 1, "instances on the same store share data")

	res := write(t, b, storage.WriteRow{Document: human("from-a", "1-y", "b", 2)})
	require.Len(t, res.Errors, 1, "sibling sees the committed state")
}

func testConflictResolutionTasks(t *testing.T, h *harness) {
	conflicts := storage.NewConflictChannel(testutil.NewSequentialIDs("task"))
	inst := h.open(func(p *storage.Params) { p.Conflicts = conflicts })

	tasks, err := inst.ConflictResolutionTasks()
	require.NoError(t, err)
	defer tasks.Unsubscribe()

	type outcome struct {
		out storage.ConflictOutput
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := conflicts.Submit(context.Background(), storage.ConflictResolutionTask{
			Context: "replication",
			Input: storage.ConflictInput{
				NewDocumentState: human("a", "2-local", "local", 1),
				RealMasterState:  human("a", "2-remote", "remote", 2),
			},
		})
		done <- outcome{out, err}
	}()

	task := next(t, tasks)
	assert.Equal(t, "task-1", task.ID)
	require.NoError(t, inst.ResolveConflictResolutionTask(context.Background(), storage.ConflictResolutionSolution{
		ID:     task.ID,
		Output: storage.ConflictOutput{Document: task.Input.RealMasterState},
	}))

	select {
	case o := <-done:
		require.NoError(t, o.err)
		assert.Equal(t, "2-remote", o.out.Document.Rev())
	case <-time.After(2 * time.Second):
		t.Fatal("solution not delivered")
	}

	// Unknown solutions are ignored.
	assert.NoError(t, inst.ResolveConflictResolutionTask(context.Background(), storage.ConflictResolutionSolution{ID: "nope"}))
}

func testAttachmentsNotImplemented(t *testing.T, h *harness) {
	inst := h.open()
	_, err := inst.GetAttachmentData(context.Background(), "a", "file", "digest")
	assert.Equal(t, storage.ErrCodeNotImplemented, storage.GetCode(err))
}

func testLifecycle(t *testing.T, h *harness) {
	inst := h.open()
	assert.Equal(t, "testdb", inst.DatabaseName())
	assert.Equal(t, "humans", inst.CollectionName())

	tasks, err := inst.ConflictResolutionTasks()
	require.NoError(t, err)

	require.NoError(t, inst.Close())
	require.NoError(t, inst.Close(), "close is idempotent")

	select {
	case _, ok := <-tasks.C():
		assert.False(t, ok, "task stream completes on close")
	case <-time.After(2 * time.Second):
		t.Fatal("task stream still open after close")
	}

	ctx := context.Background()
	checks := map[string]error{}
	_, checks["bulkWrite"] = inst.BulkWrite(ctx, []storage.WriteRow{{Document: human("a", "1-x", "a", 1)}}, "storagetest")
	_, checks["findDocumentsById"] = inst.FindDocumentsByID(ctx, []string{"a"}, false)
	_, checks["query"] = inst.Query(ctx, prepare(t, query.Query{}))
	_, checks["count"] = inst.Count(ctx, prepare(t, query.Query{}))
	_, checks["info"] = inst.Info(ctx)
	_, checks["getChangedDocumentsSince"] = inst.GetChangedDocumentsSince(ctx, 1, nil)
	_, checks["changeStream"] = inst.ChangeStream()
	_, checks["cleanup"] = inst.Cleanup(ctx, 0)
	_, checks["conflictResolutionTasks"] = inst.ConflictResolutionTasks()
	checks["resolveConflictResolutionTask"] = inst.ResolveConflictResolutionTask(ctx, storage.ConflictResolutionSolution{})
	checks["remove"] = inst.Remove(ctx)

	for op, err := range checks {
		assert.True(t, storage.IsClosed(err), "%s after close: %v", op, err)
	}
}

func testCloseInFlight(t *testing.T, h *harness) {
	inst := h.open()

	const writers = 16
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			_, err := inst.BulkWrite(context.Background(), []storage.WriteRow{{
				Document: human(fmt.Sprintf("w%d", w), "1-x", "w", w),
			}}, "storagetest")
			if err != nil {
				assert.True(t, storage.IsClosed(err), "unexpected error: %v", err)
			}
		}(w)
	}
	require.NoError(t, inst.Close())
	wg.Wait()

	reopened := h.open()
	info, err := reopened.Info(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, info.TotalCount, writers)

	page, err := reopened.GetChangedDocumentsSince(context.Background(), writers+1, nil)
	require.NoError(t, err)
	assert.Len(t, page.Documents, info.TotalCount)
}

func testRemove(t *testing.T, h *harness) {
	inst := h.open()
	insert(t, inst, human("a", "1-x", "alice", 30))
	sub, err := inst.ChangeStream()
	require.NoError(t, err)

	require.NoError(t, inst.Remove(context.Background()))
	_, ok := <-sub.C()
	assert.False(t, ok)
	require.NoError(t, inst.Close())

	fresh := h.open()
	info, err := fresh.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, info.TotalCount)
}
