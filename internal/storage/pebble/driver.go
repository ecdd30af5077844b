package pebble

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/roach88/docstore/internal/canonical"
	"github.com/roach88/docstore/internal/document"
	"github.com/roach88/docstore/internal/query"
	"github.com/roach88/docstore/internal/storage"
)

type driver struct {
	location    string
	db          *pebble.DB
	lock        *sync.Mutex
	prefix      []byte
	primaryPath string
}

var _ storage.Driver = (*driver)(nil)

func (d *driver) Location() string { return d.location }

// Write stages fn's writes and commits them in one synced batch. The
// collection lock makes the read-check-write sequence exclusive.
func (d *driver) Write(ctx context.Context, fn func(tx storage.WriteTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.lock.Lock()
	defer d.lock.Unlock()

	tx := &writeTx{driver: d, staged: make(map[string]document.Data)}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.order) == 0 {
		return nil
	}

	batch := d.db.NewBatch()
	defer batch.Close()
	for _, id := range tx.order {
		doc := tx.staged[id]
		old, err := d.get(d.db, id)
		if err != nil {
			return err
		}
		if old != nil {
			lwt, _ := old.LWT()
			if err := batch.Delete(changeKey(d.prefix, lwt, id), nil); err != nil {
				return err
			}
		}
		data, err := canonical.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal document %q: %w", id, err)
		}
		lwt, _ := doc.LWT()
		if err := batch.Set(docKey(d.prefix, id), data, nil); err != nil {
			return err
		}
		if err := batch.Set(changeKey(d.prefix, lwt, id), nil, nil); err != nil {
			return err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit write batch: %w", err)
	}
	return nil
}

type writeTx struct {
	driver *driver
	staged map[string]document.Data
	order  []string
}

func (tx *writeTx) Get(ids []string) (map[string]document.Data, error) {
	out := make(map[string]document.Data, len(ids))
	for _, id := range ids {
		if doc, ok := tx.staged[id]; ok {
			out[id] = doc.Clone()
			continue
		}
		doc, err := tx.driver.get(tx.driver.db, id)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			out[id] = doc
		}
	}
	return out, nil
}

func (tx *writeTx) Insert(docs []document.Data) error {
	tx.stage(docs)
	return nil
}

func (tx *writeTx) Update(docs []document.Data) error {
	tx.stage(docs)
	return nil
}

func (tx *writeTx) stage(docs []document.Data) {
	for _, doc := range docs {
		id := doc.ID(tx.driver.primaryPath)
		if _, ok := tx.staged[id]; !ok {
			tx.order = append(tx.order, id)
		}
		tx.staged[id] = doc
	}
}

// get returns the document stored in r, or nil.
func (d *driver) get(r pebble.Reader, id string) (document.Data, error) {
	value, closer, err := r.Get(docKey(d.prefix, id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document %q: %w", id, err)
	}
	defer closer.Close()
	return document.Unmarshal(value)
}

func (d *driver) FindByIDs(ctx context.Context, ids []string, withDeleted bool) ([]document.Data, error) {
	out := make([]document.Data, 0, len(ids))
	for _, id := range ids {
		doc, err := d.get(d.db, id)
		if err != nil {
			return nil, err
		}
		if doc == nil || (doc.Deleted() && !withDeleted) {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

// scan decodes every stored document of the collection in id order.
func (d *driver) scan(fn func(doc document.Data) bool) error {
	lower, upper := bounds(tagDocument, d.prefix)
	iter, err := d.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return fmt.Errorf("open document iterator: %w", err)
	}
	defer iter.Close()
	for valid := iter.First(); valid; valid = iter.Next() {
		doc, err := document.Unmarshal(iter.Value())
		if err != nil {
			return err
		}
		if !fn(doc) {
			break
		}
	}
	return iter.Error()
}

func (d *driver) matching(selector query.Predicate) ([]document.Data, error) {
	var out []document.Data
	err := d.scan(func(doc document.Data) bool {
		if !doc.Deleted() && query.Match(selector, doc) {
			out = append(out, doc)
		}
		return true
	})
	return out, err
}

func (d *driver) Query(ctx context.Context, q query.Prepared) ([]document.Data, error) {
	docs, err := d.matching(q.Selector)
	if err != nil {
		return nil, err
	}
	query.SortDocuments(docs, q.Sort, d.primaryPath)
	return query.Window(docs, q.Skip, q.Limit), nil
}

func (d *driver) Count(ctx context.Context, q query.Prepared) (int, error) {
	docs, err := d.matching(q.Selector)
	return len(docs), err
}

func (d *driver) TotalCount(ctx context.Context) (int, error) {
	lower, upper := bounds(tagDocument, d.prefix)
	iter, err := d.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, fmt.Errorf("open document iterator: %w", err)
	}
	defer iter.Close()
	n := 0
	for valid := iter.First(); valid; valid = iter.Next() {
		n++
	}
	return n, iter.Error()
}

// changes walks the change index of r from cp, exclusive. Callers pass a
// snapshot so the index entries and the documents they point at agree.
func (d *driver) changes(r pebble.Reader, cp storage.Checkpoint, fn func(lwt float64, id string) (bool, error)) error {
	_, upper := bounds(tagChange, d.prefix)
	start := changeKey(d.prefix, cp.LWT, cp.ID)
	iter, err := r.NewIter(&pebble.IterOptions{LowerBound: start, UpperBound: upper})
	if err != nil {
		return fmt.Errorf("open change iterator: %w", err)
	}
	defer iter.Close()
	for valid := iter.First(); valid; valid = iter.Next() {
		if bytes.Equal(iter.Key(), start) {
			continue
		}
		lwt, id := parseChangeKey(d.prefix, iter.Key())
		more, err := fn(lwt, id)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return iter.Error()
}

func (d *driver) ChangesSince(ctx context.Context, cp storage.Checkpoint, limit int) ([]document.Data, error) {
	snap := d.db.NewSnapshot()
	defer snap.Close()

	out := make([]document.Data, 0, limit)
	err := d.changes(snap, cp, func(_ float64, id string) (bool, error) {
		doc, err := d.get(snap, id)
		if err != nil {
			return false, err
		}
		if doc != nil {
			out = append(out, doc)
		}
		return len(out) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (d *driver) PurgeDeleted(ctx context.Context, before float64, limit int) (int, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	snap := d.db.NewSnapshot()
	defer snap.Close()

	batch := d.db.NewBatch()
	defer batch.Close()
	n := 0
	err := d.changes(snap, storage.Checkpoint{}, func(lwt float64, id string) (bool, error) {
		if lwt >= before {
			return false, nil
		}
		doc, err := d.get(snap, id)
		if err != nil {
			return false, err
		}
		if doc != nil && doc.Deleted() {
			if err := batch.Delete(docKey(d.prefix, id), nil); err != nil {
				return false, err
			}
			if err := batch.Delete(changeKey(d.prefix, lwt, id), nil); err != nil {
				return false, err
			}
			n++
		}
		return n < limit, nil
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("commit purge batch: %w", err)
	}
	return n, nil
}

func (d *driver) Clear(ctx context.Context) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	batch := d.db.NewBatch()
	defer batch.Close()
	for _, tag := range []byte{tagDocument, tagChange} {
		lower, upper := bounds(tag, d.prefix)
		if err := batch.DeleteRange(lower, upper, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// Close is a no-op: the database belongs to the Storage.
func (d *driver) Close() error { return nil }
