// Package memory is the in-process storage backend. Collections live as
// long as the Storage value, so instances opened on the same Storage share
// data the way tabs share a browser database.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/roach88/docstore/internal/document"
	"github.com/roach88/docstore/internal/schema"
	"github.com/roach88/docstore/internal/storage"
)

const degree = 32

var storageSequence storage.Sequence

// Storage creates memory-backed instances.
type Storage struct {
	name string

	mu          sync.Mutex
	collections map[string]*collection
}

var _ storage.Storage = (*Storage)(nil)

// New creates an empty storage with a process-unique name.
func New() *Storage {
	return NewNamed(fmt.Sprintf("memory-%d", storageSequence.Next()))
}

// NewNamed creates an empty storage. Instances of storages with the same
// name are siblings on a shared hub.
func NewNamed(name string) *Storage {
	return &Storage{name: name, collections: make(map[string]*collection)}
}

// Name implements storage.Storage.
func (s *Storage) Name() string { return "memory" }

// CreateInstance implements storage.Storage.
func (s *Storage) CreateInstance(ctx context.Context, params storage.Params) (storage.Instance, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	hash, err := schema.Hash(params.Schema)
	if err != nil {
		return nil, storage.NewError(storage.ErrCodeInvalidArgument, "hashing schema", err)
	}

	key := params.Database + "/" + params.Collection
	s.mu.Lock()
	coll, ok := s.collections[key]
	if !ok {
		coll = newCollection(hash, schema.Normalize(params.Schema).Indexes)
		s.collections[key] = coll
	}
	s.mu.Unlock()
	if coll.schemaHash != hash {
		return nil, storage.SchemaMismatch(params.Collection, coll.schemaHash, hash)
	}

	d := &driver{
		location:    "memory:" + s.name,
		coll:        coll,
		primaryPath: params.Schema.PrimaryPath(),
	}
	inst, err := storage.NewInstance(params, d)
	if err != nil {
		return nil, err
	}
	return inst, nil
}

type entry struct {
	id  string
	doc document.Data
}

func lessEntry(a, b entry) bool { return a.id < b.id }

func lessCheckpoint(a, b storage.Checkpoint) bool { return a.Compare(b) < 0 }

// collection holds documents by id, the (lwt, id) change index and one
// secondary index per schema index.
type collection struct {
	schemaHash string

	mu      sync.RWMutex
	docs    *btree.BTreeG[entry]
	changes *btree.BTreeG[storage.Checkpoint]
	indexes map[string]*index
}

func newCollection(schemaHash string, indexes []schema.Index) *collection {
	c := &collection{
		schemaHash: schemaHash,
		docs:       btree.NewG(degree, lessEntry),
		changes:    btree.NewG(degree, lessCheckpoint),
		indexes:    make(map[string]*index, len(indexes)),
	}
	for _, fields := range indexes {
		c.indexes[indexName(fields)] = newIndex(fields)
	}
	return c
}

// index returns the secondary index over fields, if the schema declares
// one.
func (c *collection) index(fields []string) (*index, bool) {
	x, ok := c.indexes[indexName(fields)]
	return x, ok
}

func (c *collection) get(id string) (document.Data, bool) {
	e, ok := c.docs.Get(entry{id: id})
	return e.doc, ok
}

func (c *collection) put(id string, doc document.Data, primaryPath string) {
	old, ok := c.get(id)
	if ok {
		c.changes.Delete(storage.CheckpointOf(old, primaryPath))
	}
	c.docs.ReplaceOrInsert(entry{id: id, doc: doc})
	c.changes.ReplaceOrInsert(storage.CheckpointOf(doc, primaryPath))
	for _, x := range c.indexes {
		x.put(id, old, doc)
	}
}

func (c *collection) delete(cp storage.Checkpoint) {
	if old, ok := c.docs.Delete(entry{id: cp.ID}); ok {
		for _, x := range c.indexes {
			x.delete(cp.ID, old.doc)
		}
	}
	c.changes.Delete(cp)
}

func (c *collection) clear() {
	c.docs.Clear(false)
	c.changes.Clear(false)
	for _, x := range c.indexes {
		x.tree.Clear(false)
	}
}
