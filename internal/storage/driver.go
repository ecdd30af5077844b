package storage

import (
	"context"
	"time"

	"github.com/roach88/docstore/internal/document"
	"github.com/roach88/docstore/internal/query"
)

// Instance is the storage contract for one collection on one backend.
//
// Every operation except Close fails with an INSTANCE_CLOSED *Error once
// Close or Remove has started.
type Instance interface {
	DatabaseName() string
	CollectionName() string

	// BulkWrite applies rows atomically. Conflicts are returned in the
	// response; the error is reserved for programmer errors and backend
	// failures, in which case nothing was written.
	BulkWrite(ctx context.Context, rows []WriteRow, writeContext string) (BulkWriteResponse, error)

	// FindDocumentsByID returns the stored documents with the given ids.
	// Tombstones are included only when withDeleted is set.
	FindDocumentsByID(ctx context.Context, ids []string, withDeleted bool) ([]document.Data, error)

	Query(ctx context.Context, q query.Prepared) (QueryResult, error)
	Count(ctx context.Context, q query.Prepared) (CountResult, error)

	// Info reports the number of stored documents, tombstones included.
	Info(ctx context.Context) (InfoResult, error)

	// GetChangedDocumentsSince returns up to limit documents strictly after
	// checkpoint in (lwt, id) order. A nil checkpoint starts from the
	// beginning.
	GetChangedDocumentsSince(ctx context.Context, limit int, checkpoint *Checkpoint) (ChangedDocuments, error)

	// ChangeStream subscribes to the event bulks of writes committed from
	// now on. Close completes the subscription.
	ChangeStream() (*Subscription[EventBulk], error)

	// Cleanup purges tombstones older than minDeletedAge. It returns true
	// when no purgeable tombstone remains.
	Cleanup(ctx context.Context, minDeletedAge time.Duration) (bool, error)

	GetAttachmentData(ctx context.Context, documentID, attachmentID, digest string) (string, error)

	ConflictResolutionTasks() (*Subscription[ConflictResolutionTask], error)
	ResolveConflictResolutionTask(ctx context.Context, solution ConflictResolutionSolution) error

	// Remove deletes every stored document of the collection, then closes.
	Remove(ctx context.Context) error

	// Close completes the streams and releases backend resources. It waits
	// for operations in flight and may be called repeatedly.
	Close() error
}

// Storage creates instances on one backend.
type Storage interface {
	Name() string
	CreateInstance(ctx context.Context, params Params) (Instance, error)
}

// Driver is what a backend implements. NewInstance wraps a Driver into an
// Instance.
//
// Documents passed to and returned from a Driver are owned by the callee:
// a Driver must not retain documents it returns, and callers must not
// mutate documents after handing them over.
type Driver interface {
	// Location identifies the physical store, so instances opened on the
	// same store can find each other.
	Location() string

	// Write runs fn in one transaction. Concurrent Write calls on the same
	// store are serialized. If fn returns an error nothing is persisted.
	Write(ctx context.Context, fn func(tx WriteTx) error) error

	FindByIDs(ctx context.Context, ids []string, withDeleted bool) ([]document.Data, error)
	Query(ctx context.Context, q query.Prepared) ([]document.Data, error)
	// Count counts the documents matching the selector of q using the
	// plan's index.
	Count(ctx context.Context, q query.Prepared) (int, error)
	TotalCount(ctx context.Context) (int, error)

	// ChangesSince returns up to limit documents, tombstones included,
	// strictly after cp in (lwt, id) order.
	ChangesSince(ctx context.Context, cp Checkpoint, limit int) ([]document.Data, error)

	// PurgeDeleted physically removes up to limit tombstones whose lwt is
	// below before, oldest first, and returns how many it removed.
	PurgeDeleted(ctx context.Context, before float64, limit int) (int, error)

	// Clear removes every document of the collection.
	Clear(ctx context.Context) error

	Close() error
}

// WriteTx is the view of the store inside Driver.Write.
type WriteTx interface {
	// Get returns the stored state of the given ids; missing ids are
	// absent from the map.
	Get(ids []string) (map[string]document.Data, error)
	Insert(docs []document.Data) error
	Update(docs []document.Data) error
}

// Observer receives instance measurements.
type Observer interface {
	ObserveWrite(collection string, inserted, updated, conflicts int, took time.Duration)
	ObserveRead(collection, op string, took time.Duration)
	ObserveCount(collection string, mode CountMode)
	ObservePurge(collection string, purged int)
	SetSubscribers(collection string, n int)
}

type nopObserver struct{}

func (nopObserver) ObserveWrite(string, int, int, int, time.Duration) {}
func (nopObserver) ObserveRead(string, string, time.Duration)         {}
func (nopObserver) ObserveCount(string, CountMode)                    {}
func (nopObserver) ObservePurge(string, int)                          {}
func (nopObserver) SetSubscribers(string, int)                        {}

// Broadcaster relays event bulks between instances that share a store.
type Broadcaster interface {
	// Join registers an instance under key. deliver receives the bulks
	// other members broadcast. The returned function leaves.
	Join(key string, member int64, deliver func(EventBulk)) (leave func())
	// Broadcast hands bulk to every member of key except from.
	Broadcast(key string, from int64, bulk EventBulk)
}
