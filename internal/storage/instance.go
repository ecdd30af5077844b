package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/docstore/internal/document"
	"github.com/roach88/docstore/internal/query"
	"github.com/roach88/docstore/internal/schema"
)

// DefaultCleanupBatchSize bounds the tombstones one Cleanup call purges.
const DefaultCleanupBatchSize = 100

// Params configures an instance. Only Database, Collection and Schema are
// required.
type Params struct {
	Database   string
	Collection string
	// Schema is normalized by NewInstance if it is not already.
	Schema *schema.Schema

	Logger  *zap.Logger
	Metrics Observer
	Clock   Clock
	IDs     IDGenerator
	// Hub shares change events with other instances on the same store.
	Hub Broadcaster
	// Conflicts is the conflict resolution exchange. A private channel is
	// created when nil.
	Conflicts *ConflictChannel
	// CleanupBatchSize caps the tombstones purged per Cleanup call.
	CleanupBatchSize int
}

// Validate checks the required fields.
func (p Params) Validate() error {
	if p.Database == "" {
		return InvalidArgument("database name is required")
	}
	if p.Collection == "" {
		return InvalidArgument("collection name is required")
	}
	if p.Schema == nil {
		return InvalidArgument("schema is required")
	}
	if p.Schema.PrimaryPath() == "" {
		return NewError(ErrCodeInvalidPrimaryKey, "schema has no primary key", nil)
	}
	if p.CleanupBatchSize < 0 {
		return InvalidArgument("cleanup batch size must not be negative")
	}
	return nil
}

// WithDefaults fills unset optional fields and normalizes the schema.
func (p Params) WithDefaults() Params {
	p.Schema = schema.Normalize(p.Schema)
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Metrics == nil {
		p.Metrics = nopObserver{}
	}
	if p.Clock == nil {
		p.Clock = ProcessClock()
	}
	if p.IDs == nil {
		p.IDs = UUIDGenerator{}
	}
	if p.Conflicts == nil {
		p.Conflicts = NewConflictChannel(p.IDs)
	}
	if p.CleanupBatchSize == 0 {
		p.CleanupBatchSize = DefaultCleanupBatchSize
	}
	return p
}

// BaseInstance implements Instance on top of a Driver.
type BaseInstance struct {
	id          int64
	params      Params
	schema      *schema.Schema
	primaryPath string
	driver      Driver
	logger      *zap.Logger

	// writeMu orders publication of event bulks by commit order.
	writeMu sync.Mutex
	changes *Subject[EventBulk]
	life    *lifecycle
	leave   func()

	// ownConflicts is set when the conflict channel was created here
	// rather than passed in Params.
	ownConflicts bool
}

var _ Instance = (*BaseInstance)(nil)

// NewInstance wraps driver. The driver is closed by Close.
func NewInstance(params Params, driver Driver) (*BaseInstance, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	ownConflicts := params.Conflicts == nil
	params = params.WithDefaults()

	i := &BaseInstance{
		ownConflicts: ownConflicts,
		id:           instanceSequence.Next(),
		params:       params,
		schema:       params.Schema,
		primaryPath:  params.Schema.PrimaryPath(),
		driver:       driver,
		changes:      NewSubject[EventBulk](),
		life:         newLifecycle(),
	}
	i.logger = params.Logger.With(
		zap.String("database", params.Database),
		zap.String("collection", params.Collection),
		zap.Int64("instance", i.id),
	)
	if params.Hub != nil {
		i.leave = params.Hub.Join(i.hubKey(), i.id, i.deliverRemote)
	}
	i.logger.Info("storage instance opened", zap.String("location", driver.Location()))
	return i, nil
}

// ID returns the process-unique instance number.
func (i *BaseInstance) ID() int64 { return i.id }

// DatabaseName implements Instance.
func (i *BaseInstance) DatabaseName() string { return i.params.Database }

// CollectionName implements Instance.
func (i *BaseInstance) CollectionName() string { return i.params.Collection }

// Schema returns the normalized schema.
func (i *BaseInstance) Schema() *schema.Schema { return i.schema }

// State returns the lifecycle state.
func (i *BaseInstance) State() State { return i.life.current() }

func (i *BaseInstance) hubKey() string {
	return i.driver.Location() + "|" + i.params.Database + "|" + i.params.Collection
}

func (i *BaseInstance) enter(op string) error {
	if !i.life.enter() {
		return InstanceClosed(i.params.Database, i.params.Collection, op)
	}
	return nil
}

// BulkWrite implements Instance.
//
// Every accepted document is stored with a fresh _meta.lwt from the
// instance clock, taken inside the backend transaction.
func (i *BaseInstance) BulkWrite(ctx context.Context, rows []WriteRow, writeContext string) (BulkWriteResponse, error) {
	if err := i.enter("bulkWrite"); err != nil {
		return BulkWriteResponse{}, err
	}
	defer i.life.leave()

	if len(rows) == 0 {
		return BulkWriteResponse{Success: []document.Data{}, Errors: []WriteError{}}, nil
	}
	for _, row := range rows {
		if row.Document == nil {
			return BulkWriteResponse{}, InvalidWriteRow("write row has no document", row, writeContext)
		}
		if row.Document.Rev() == "" {
			return BulkWriteResponse{}, MissingRevision("document", row, writeContext)
		}
		if row.Previous != nil && row.Previous.Rev() == "" {
			return BulkWriteResponse{}, MissingRevision("previous document", row, writeContext)
		}
	}

	start := time.Now()
	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	var result *Categorized
	err := i.driver.Write(ctx, func(tx WriteTx) error {
		current, err := tx.Get(i.rowIDs(rows))
		if err != nil {
			return err
		}
		stamped := make([]WriteRow, len(rows))
		for n, row := range rows {
			stamped[n] = WriteRow{Document: row.Document.WithLWT(i.params.Clock.Now()), Previous: row.Previous}
		}
		result, err = Categorize(i.schema, current, stamped, writeContext)
		if err != nil {
			return err
		}
		if len(result.InsertDocs) > 0 {
			if err := tx.Insert(result.InsertDocs); err != nil {
				return err
			}
		}
		if len(result.UpdateDocs) > 0 {
			if err := tx.Update(result.UpdateDocs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return BulkWriteResponse{}, i.wrap("bulkWrite", err)
	}

	i.params.Metrics.ObserveWrite(i.params.Collection, len(result.InsertDocs), len(result.UpdateDocs), len(result.Errors), time.Since(start))
	if result.Accepted() {
		bulk := EventBulk{
			ID:         i.params.IDs.NewID(),
			Events:     result.Events,
			Checkpoint: result.Checkpoint,
			EndTime:    i.params.Clock.Now(),
			Context:    writeContext,
		}
		i.changes.Publish(bulk)
		if i.params.Hub != nil {
			i.params.Hub.Broadcast(i.hubKey(), i.id, bulk)
		}
	}
	for _, we := range result.Errors {
		i.logger.Debug("write conflict",
			zap.String("document", we.DocumentID),
			zap.String("reason", string(we.Reason)))
	}
	i.logger.Debug("bulk write",
		zap.String("context", writeContext),
		zap.Int("inserted", len(result.InsertDocs)),
		zap.Int("updated", len(result.UpdateDocs)),
		zap.Int("conflicts", len(result.Errors)),
		zap.Stringer("checkpoint", result.Checkpoint),
	)
	return BulkWriteResponse{Success: result.Success, Errors: result.Errors}, nil
}

// rowIDs returns the keys the rows touch. Rows whose key cannot be
// composed are skipped; Categorize reports them as conflicts.
func (i *BaseInstance) rowIDs(rows []WriteRow) []string {
	ids := make([]string, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		id, err := schema.ComposePrimaryKey(i.schema, row.Document)
		if err != nil || id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

func (i *BaseInstance) deliverRemote(bulk EventBulk) {
	i.changes.Publish(bulk)
}

// FindDocumentsByID implements Instance.
func (i *BaseInstance) FindDocumentsByID(ctx context.Context, ids []string, withDeleted bool) ([]document.Data, error) {
	if err := i.enter("findDocumentsById"); err != nil {
		return nil, err
	}
	defer i.life.leave()

	if len(ids) == 0 {
		return []document.Data{}, nil
	}
	start := time.Now()
	docs, err := i.driver.FindByIDs(ctx, ids, withDeleted)
	if err != nil {
		return nil, i.wrap("findDocumentsById", err)
	}
	i.params.Metrics.ObserveRead(i.params.Collection, "findDocumentsById", time.Since(start))
	return docs, nil
}

// Query implements Instance.
func (i *BaseInstance) Query(ctx context.Context, q query.Prepared) (QueryResult, error) {
	if err := i.enter("query"); err != nil {
		return QueryResult{}, err
	}
	defer i.life.leave()

	start := time.Now()
	docs, err := i.driver.Query(ctx, q)
	if err != nil {
		return QueryResult{}, i.wrap("query", err)
	}
	i.params.Metrics.ObserveRead(i.params.Collection, "query", time.Since(start))
	return QueryResult{Documents: docs}, nil
}

// Count implements Instance. The count is "fast" when the plan's index
// satisfies the selector; otherwise the matching documents are queried and
// counted.
func (i *BaseInstance) Count(ctx context.Context, q query.Prepared) (CountResult, error) {
	if err := i.enter("count"); err != nil {
		return CountResult{}, err
	}
	defer i.life.leave()

	start := time.Now()
	var result CountResult
	if q.Plan.SelectorSatisfiedByIndex {
		n, err := i.driver.Count(ctx, q)
		if err != nil {
			return CountResult{}, i.wrap("count", err)
		}
		result = CountResult{Count: n, Mode: CountFast}
	} else {
		all := q
		all.Skip, all.Limit, all.Sort = 0, 0, nil
		docs, err := i.driver.Query(ctx, all)
		if err != nil {
			return CountResult{}, i.wrap("count", err)
		}
		result = CountResult{Count: len(docs), Mode: CountSlow}
	}
	i.params.Metrics.ObserveCount(i.params.Collection, result.Mode)
	i.params.Metrics.ObserveRead(i.params.Collection, "count", time.Since(start))
	return result, nil
}

// Info implements Instance.
func (i *BaseInstance) Info(ctx context.Context) (InfoResult, error) {
	if err := i.enter("info"); err != nil {
		return InfoResult{}, err
	}
	defer i.life.leave()

	n, err := i.driver.TotalCount(ctx)
	if err != nil {
		return InfoResult{}, i.wrap("info", err)
	}
	return InfoResult{TotalCount: n}, nil
}

// GetChangedDocumentsSince implements Instance.
func (i *BaseInstance) GetChangedDocumentsSince(ctx context.Context, limit int, checkpoint *Checkpoint) (ChangedDocuments, error) {
	if err := i.enter("getChangedDocumentsSince"); err != nil {
		return ChangedDocuments{}, err
	}
	defer i.life.leave()

	if limit < 1 {
		return ChangedDocuments{}, InvalidArgument(fmt.Sprintf("limit must be positive, got %d", limit))
	}
	var from Checkpoint
	if checkpoint != nil {
		from = *checkpoint
	}

	start := time.Now()
	docs, err := i.driver.ChangesSince(ctx, from, limit)
	if err != nil {
		return ChangedDocuments{}, i.wrap("getChangedDocumentsSince", err)
	}
	i.params.Metrics.ObserveRead(i.params.Collection, "getChangedDocumentsSince", time.Since(start))

	next := from
	if len(docs) > 0 {
		next = CheckpointOf(docs[len(docs)-1], i.primaryPath)
	}
	return ChangedDocuments{Documents: docs, Checkpoint: next}, nil
}

// ChangeStream implements Instance.
func (i *BaseInstance) ChangeStream() (*Subscription[EventBulk], error) {
	if err := i.enter("changeStream"); err != nil {
		return nil, err
	}
	defer i.life.leave()

	sub := i.changes.Subscribe()
	i.params.Metrics.SetSubscribers(i.params.Collection, i.changes.Len())
	return sub, nil
}

// Cleanup implements Instance. At most CleanupBatchSize tombstones are
// purged per call; false means more remain.
func (i *BaseInstance) Cleanup(ctx context.Context, minDeletedAge time.Duration) (bool, error) {
	if err := i.enter("cleanup"); err != nil {
		return false, err
	}
	defer i.life.leave()

	before := i.params.Clock.Now() - float64(minDeletedAge.Milliseconds())
	n, err := i.driver.PurgeDeleted(ctx, before, i.params.CleanupBatchSize)
	if err != nil {
		return false, i.wrap("cleanup", err)
	}
	i.params.Metrics.ObservePurge(i.params.Collection, n)
	done := n < i.params.CleanupBatchSize
	i.logger.Debug("cleanup", zap.Int("purged", n), zap.Bool("done", done))
	return done, nil
}

// GetAttachmentData implements Instance. Attachments are not stored by any
// backend.
func (i *BaseInstance) GetAttachmentData(ctx context.Context, documentID, attachmentID, digest string) (string, error) {
	if err := i.enter("getAttachmentData"); err != nil {
		return "", err
	}
	defer i.life.leave()
	return "", NotImplemented("getAttachmentData")
}

// ConflictResolutionTasks implements Instance.
func (i *BaseInstance) ConflictResolutionTasks() (*Subscription[ConflictResolutionTask], error) {
	if err := i.enter("conflictResolutionTasks"); err != nil {
		return nil, err
	}
	defer i.life.leave()
	return i.params.Conflicts.Tasks(), nil
}

// ResolveConflictResolutionTask implements Instance.
func (i *BaseInstance) ResolveConflictResolutionTask(ctx context.Context, solution ConflictResolutionSolution) error {
	if err := i.enter("resolveConflictResolutionTask"); err != nil {
		return err
	}
	defer i.life.leave()

	if !i.params.Conflicts.Resolve(solution) {
		i.logger.Debug("conflict solution without waiting task", zap.String("task", solution.ID))
	}
	return nil
}

// Remove implements Instance.
func (i *BaseInstance) Remove(ctx context.Context) error {
	if err := i.enter("remove"); err != nil {
		return err
	}
	err := i.driver.Clear(ctx)
	i.life.leave()
	if err != nil {
		return i.wrap("remove", err)
	}
	i.logger.Info("storage instance removed")
	return i.Close()
}

// Close implements Instance.
func (i *BaseInstance) Close() error {
	if !i.life.beginClose() {
		i.life.wait()
		return nil
	}
	if i.leave != nil {
		i.leave()
	}
	// Take the write lock so no bulk is published after completion.
	i.writeMu.Lock()
	i.changes.Close()
	if i.ownConflicts {
		i.params.Conflicts.Close()
	}
	i.params.Metrics.SetSubscribers(i.params.Collection, 0)
	i.writeMu.Unlock()

	err := i.driver.Close()
	i.life.finishClose()
	if err != nil {
		return i.wrap("close", err)
	}
	i.logger.Info("storage instance closed")
	return nil
}

// wrap passes storage errors through and wraps everything else as a
// backend error.
func (i *BaseInstance) wrap(op string, err error) error {
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	i.logger.Error("backend failure", zap.String("op", op), zap.Error(err))
	return Backend(op, err).
		WithDetail("database", i.params.Database).
		WithDetail("collection", i.params.Collection)
}
