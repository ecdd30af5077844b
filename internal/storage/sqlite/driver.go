package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/docstore/internal/canonical"
	"github.com/roach88/docstore/internal/document"
	"github.com/roach88/docstore/internal/query"
	"github.com/roach88/docstore/internal/querysql"
	"github.com/roach88/docstore/internal/storage"
)

// maxParams stays below SQLITE_MAX_VARIABLE_NUMBER of older builds.
const maxParams = 500

type driver struct {
	location    string
	db          *sql.DB
	table       string
	primaryPath string
	compiler    *querysql.SQLCompiler
}

var _ storage.Driver = (*driver)(nil)

func (d *driver) Location() string { return d.location }

func (d *driver) quoted() string { return querysql.QuoteIdent(d.table) }

// Write runs fn in an immediate transaction.
func (d *driver) Write(ctx context.Context, fn func(tx storage.WriteTx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(&writeTx{ctx: ctx, tx: tx, driver: d}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write: commit: %w", err)
	}
	return nil
}

type writeTx struct {
	ctx    context.Context
	tx     *sql.Tx
	driver *driver
}

func (w *writeTx) Get(ids []string) (map[string]document.Data, error) {
	out := make(map[string]document.Data, len(ids))
	err := inChunks(ids, func(chunk []string) error {
		docs, err := queryDocs(w.ctx, w.tx, fmt.Sprintf("SELECT data FROM %s WHERE id IN (%s)",
			w.driver.quoted(), placeholders(len(chunk))), stringArgs(chunk)...)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			out[doc.ID(w.driver.primaryPath)] = doc
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get current state: %w", err)
	}
	return out, nil
}

func (w *writeTx) Insert(docs []document.Data) error {
	stmt := fmt.Sprintf("INSERT INTO %s (rev, deleted, lwt, data, id) VALUES (?, ?, ?, ?, ?)", w.driver.quoted())
	return w.exec(stmt, docs)
}

func (w *writeTx) Update(docs []document.Data) error {
	stmt := fmt.Sprintf("UPDATE %s SET rev = ?, deleted = ?, lwt = ?, data = ? WHERE id = ?", w.driver.quoted())
	return w.exec(stmt, docs)
}

func (w *writeTx) exec(stmt string, docs []document.Data) error {
	prepared, err := w.tx.PrepareContext(w.ctx, stmt)
	if err != nil {
		return fmt.Errorf("prepare write: %w", err)
	}
	defer prepared.Close()

	for _, doc := range docs {
		args, err := w.driver.rowArgs(doc)
		if err != nil {
			return err
		}
		if _, err := prepared.ExecContext(w.ctx, args...); err != nil {
			return fmt.Errorf("write document %q: %w", doc.ID(w.driver.primaryPath), err)
		}
	}
	return nil
}

// rowArgs returns rev, deleted, lwt, data, id for doc.
func (d *driver) rowArgs(doc document.Data) ([]any, error) {
	data, err := canonical.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document %q: %w", doc.ID(d.primaryPath), err)
	}
	lwt, _ := doc.LWT()
	deleted := 0
	if doc.Deleted() {
		deleted = 1
	}
	return []any{doc.Rev(), deleted, lwt, string(data), doc.ID(d.primaryPath)}, nil
}

func (d *driver) FindByIDs(ctx context.Context, ids []string, withDeleted bool) ([]document.Data, error) {
	filter := ""
	if !withDeleted {
		filter = " AND deleted = 0"
	}
	out := []document.Data{}
	err := inChunks(ids, func(chunk []string) error {
		docs, err := queryDocs(ctx, d.db, fmt.Sprintf("SELECT data FROM %s WHERE id IN (%s)%s ORDER BY id COLLATE BINARY ASC",
			d.quoted(), placeholders(len(chunk)), filter), stringArgs(chunk)...)
		out = append(out, docs...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find by ids: %w", err)
	}
	return out, nil
}

func (d *driver) Query(ctx context.Context, q query.Prepared) ([]document.Data, error) {
	stmt, args, err := d.compiler.CompileQuery(q)
	if err != nil {
		return nil, storage.InvalidArgument(err.Error())
	}
	docs, err := queryDocs(ctx, d.db, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return docs, nil
}

func (d *driver) Count(ctx context.Context, q query.Prepared) (int, error) {
	stmt, args, err := d.compiler.CompileCount(q)
	if err != nil {
		return 0, storage.InvalidArgument(err.Error())
	}
	var n int
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func (d *driver) TotalCount(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", d.quoted())).Scan(&n); err != nil {
		return 0, fmt.Errorf("total count: %w", err)
	}
	return n, nil
}

// ChangesSince reads the (lwt, id) index strictly after cp.
func (d *driver) ChangesSince(ctx context.Context, cp storage.Checkpoint, limit int) ([]document.Data, error) {
	docs, err := queryDocs(ctx, d.db, fmt.Sprintf(`
		SELECT data FROM %s
		WHERE lwt > ? OR (lwt = ? AND id > ?)
		ORDER BY lwt ASC, id COLLATE BINARY ASC
		LIMIT ?
	`, d.quoted()), cp.LWT, cp.LWT, cp.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("changes since %s: %w", cp, err)
	}
	return docs, nil
}

func (d *driver) PurgeDeleted(ctx context.Context, before float64, limit int) (int, error) {
	t := d.quoted()
	res, err := d.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE id IN (
			SELECT id FROM %s
			WHERE deleted = 1 AND lwt < ?
			ORDER BY lwt ASC, id COLLATE BINARY ASC
			LIMIT ?
		)
	`, t, t), before, limit)
	if err != nil {
		return 0, fmt.Errorf("purge deleted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge deleted: %w", err)
	}
	return int(n), nil
}

func (d *driver) Clear(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", d.quoted())); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// Close is a no-op: the connection belongs to the Storage.
func (d *driver) Close() error { return nil }

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// queryDocs runs a statement selecting the data column.
func queryDocs(ctx context.Context, q querier, stmt string, args ...any) ([]document.Data, error) {
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []document.Data{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc, err := document.Unmarshal([]byte(data))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func inChunks(ids []string, fn func(chunk []string) error) error {
	for start := 0; start < len(ids); start += maxParams {
		end := min(start+maxParams, len(ids))
		if err := fn(ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
