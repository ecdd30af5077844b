// Package pebble is the embedded key-value storage backend, built on
// cockroachdb/pebble.
//
// Key layout, where p is database 0x00 collection 0x00:
//
//	'm' database 0x00 collection      -> schema hash
//	'd' p id                          -> canonical JSON document
//	'c' p be64(float64bits(lwt)) id   -> empty (change index)
//
// lwt is always positive, so the big-endian IEEE bits sort like the
// numbers and the change index iterates in (lwt, id) order.
package pebble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/roach88/docstore/internal/schema"
	"github.com/roach88/docstore/internal/storage"
)

// Storage creates pebble-backed instances over one database directory.
type Storage struct {
	dir string
	db  *pebble.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ storage.Storage = (*Storage)(nil)

// Open opens or creates the database in dir.
func Open(dir string) (*Storage, error) {
	opts := &pebble.Options{}
	opts.EnsureDefaults()
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble database: %w", err)
	}
	return &Storage{dir: dir, db: db, locks: make(map[string]*sync.Mutex)}, nil
}

// Name implements storage.Storage.
func (s *Storage) Name() string { return "pebble" }

// DB returns the underlying database.
func (s *Storage) DB() *pebble.DB { return s.db }

// Close closes the database. Close the instances first.
func (s *Storage) Close() error {
	return s.db.Close()
}

// CreateInstance implements storage.Storage.
func (s *Storage) CreateInstance(ctx context.Context, params storage.Params) (storage.Instance, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := s.ensureCollection(params.Database, params.Collection, params.Schema); err != nil {
		return nil, err
	}

	prefix := collectionPrefix(params.Database, params.Collection)
	d := &driver{
		location:    "pebble:" + s.dir,
		db:          s.db,
		lock:        s.collectionLock(string(prefix)),
		prefix:      prefix,
		primaryPath: params.Schema.PrimaryPath(),
	}
	inst, err := storage.NewInstance(params, d)
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// collectionLock returns the write lock shared by every instance of one
// collection.
func (s *Storage) collectionLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *Storage) ensureCollection(database, collection string, sch *schema.Schema) error {
	hash, err := schema.Hash(sch)
	if err != nil {
		return storage.NewError(storage.ErrCodeInvalidArgument, "hashing schema", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := metaKey(database, collection)
	stored, closer, err := s.db.Get(key)
	switch {
	case err == nil:
		defer closer.Close()
		if string(stored) != hash {
			return storage.SchemaMismatch(collection, string(stored), hash)
		}
		return nil
	case !errors.Is(err, pebble.ErrNotFound):
		return fmt.Errorf("read collection schema: %w", err)
	}

	if err := s.db.Set(key, []byte(hash), pebble.Sync); err != nil {
		return fmt.Errorf("register collection: %w", err)
	}
	return nil
}
