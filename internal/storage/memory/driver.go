package memory

import (
	"context"

	"github.com/roach88/docstore/internal/document"
	"github.com/roach88/docstore/internal/query"
	"github.com/roach88/docstore/internal/storage"
)

type driver struct {
	location    string
	coll        *collection
	primaryPath string
}

var _ storage.Driver = (*driver)(nil)

func (d *driver) Location() string { return d.location }

func (d *driver) Write(ctx context.Context, fn func(tx storage.WriteTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.coll.mu.Lock()
	defer d.coll.mu.Unlock()

	tx := &writeTx{driver: d, staged: make(map[string]document.Data)}
	if err := fn(tx); err != nil {
		return err
	}
	for _, id := range tx.order {
		d.coll.put(id, tx.staged[id], d.primaryPath)
	}
	return nil
}

// writeTx stages writes until fn returns without error.
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
		if doc, ok := tx.driver.coll.get(id); ok {
			out[id] = doc.Clone()
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
		tx.staged[id] = doc.Clone()
	}
}

func (d *driver) FindByIDs(ctx context.Context, ids []string, withDeleted bool) ([]document.Data, error) {
	d.coll.mu.RLock()
	defer d.coll.mu.RUnlock()

	out := make([]document.Data, 0, len(ids))
	for _, id := range ids {
		doc, ok := d.coll.get(id)
		if !ok || (doc.Deleted() && !withDeleted) {
			continue
		}
		out = append(out, doc.Clone())
	}
	return out, nil
}

// live returns the stored live documents matching selector, in id order.
func (d *driver) live(selector query.Predicate) []document.Data {
	var out []document.Data
	d.coll.docs.Ascend(func(e entry) bool {
		if !e.doc.Deleted() && query.Match(selector, e.doc) {
			out = append(out, e.doc)
		}
		return true
	})
	return out
}

func (d *driver) Query(ctx context.Context, q query.Prepared) ([]document.Data, error) {
	d.coll.mu.RLock()
	matches := d.live(q.Selector)
	d.coll.mu.RUnlock()

	query.SortDocuments(matches, q.Sort, d.primaryPath)
	matches = query.Window(matches, q.Skip, q.Limit)
	out := make([]document.Data, len(matches))
	for i, doc := range matches {
		out[i] = doc.Clone()
	}
	return out, nil
}

// Count walks the planned secondary index. Plans without a matching
// _deleted-led index scan the documents.
func (d *driver) Count(ctx context.Context, q query.Prepared) (int, error) {
	d.coll.mu.RLock()
	defer d.coll.mu.RUnlock()
	if x, ok := d.coll.index(q.Plan.Index); ok && len(x.fields) > 0 && x.fields[0] == document.FieldDeleted {
		return x.count(q.Selector), nil
	}
	return len(d.live(q.Selector)), nil
}

func (d *driver) TotalCount(ctx context.Context) (int, error) {
	d.coll.mu.RLock()
	defer d.coll.mu.RUnlock()
	return d.coll.docs.Len(), nil
}

func (d *driver) ChangesSince(ctx context.Context, cp storage.Checkpoint, limit int) ([]document.Data, error) {
	d.coll.mu.RLock()
	defer d.coll.mu.RUnlock()

	out := make([]document.Data, 0, limit)
	d.coll.changes.AscendGreaterOrEqual(cp, func(c storage.Checkpoint) bool {
		if c == cp {
			return true
		}
		doc, _ := d.coll.get(c.ID)
		out = append(out, doc.Clone())
		return len(out) < limit
	})
	return out, nil
}

func (d *driver) PurgeDeleted(ctx context.Context, before float64, limit int) (int, error) {
	d.coll.mu.Lock()
	defer d.coll.mu.Unlock()

	var purge []storage.Checkpoint
	d.coll.changes.Ascend(func(c storage.Checkpoint) bool {
		if c.LWT >= before {
			return false
		}
		if doc, _ := d.coll.get(c.ID); doc.Deleted() {
			purge = append(purge, c)
		}
		return len(purge) < limit
	})
	for _, c := range purge {
		d.coll.delete(c)
	}
	return len(purge), nil
}

func (d *driver) Clear(ctx context.Context) error {
	d.coll.mu.Lock()
	defer d.coll.mu.Unlock()
	d.coll.clear()
	return nil
}

// Close is a no-op: the data belongs to the Storage.
func (d *driver) Close() error { return nil }
