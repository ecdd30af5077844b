package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/docstore/internal/schema"
	"github.com/roach88/docstore/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - collections registry
const currentSchemaVersion = 1

// Storage creates SQLite-backed instances. All instances share one
// connection; Close it after closing the instances.
type Storage struct {
	path string
	db   *sql.DB

	// mu serializes collection registration.
	mu sync.Mutex
}

var _ storage.Storage = (*Storage)(nil)

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
func Open(path string) (*Storage, error) {
	db, err := sql.Open("sqlite3", path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Storage{path: path, db: db}, nil
}

// Name implements storage.Storage.
func (s *Storage) Name() string { return "sqlite" }

// Path returns the database file path.
func (s *Storage) Path() string { return s.path }

// Close closes the database connection.
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateInstance implements storage.Storage. The collection's table is
// created on first use.
func (s *Storage) CreateInstance(ctx context.Context, params storage.Params) (storage.Instance, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	normalized := schema.Normalize(params.Schema)

	table, err := s.ensureCollection(ctx, params.Database, params.Collection, normalized)
	if err != nil {
		return nil, err
	}

	d := &driver{
		location:    "sqlite:" + s.path,
		db:          s.db,
		table:       table,
		primaryPath: normalized.PrimaryPath(),
	}
	d.compiler = newCompiler(table, d.primaryPath)

	inst, err := storage.NewInstance(params, d)
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// Collections returns the registered collections of database, sorted.
func (s *Storage) Collections(ctx context.Context, database string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT collection_name FROM collections
		WHERE database_name = ?
		ORDER BY collection_name COLLATE BINARY ASC
	`, database)
	if err != nil {
		return nil, fmt.Errorf("query collections: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collections: %w", err)
	}
	return names, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates the registry if it doesn't exist and checks the
// schema version. This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// ensureCollection registers the collection and creates its table and
// indexes, or checks the stored schema hash if it already exists.
func (s *Storage) ensureCollection(ctx context.Context, database, collection string, sch *schema.Schema) (string, error) {
	hash, err := schema.Hash(sch)
	if err != nil {
		return "", storage.NewError(storage.ErrCodeInvalidArgument, "hashing schema", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("register collection: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var table, stored string
	err = tx.QueryRowContext(ctx, `
		SELECT table_name, schema_hash FROM collections
		WHERE database_name = ? AND collection_name = ?
	`, database, collection).Scan(&table, &stored)
	switch {
	case err == nil:
		if stored != hash {
			return "", storage.SchemaMismatch(collection, stored, hash)
		}
		return table, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("register collection: %w", err)
	}

	schemaJSON, err := sch.Canonical()
	if err != nil {
		return "", fmt.Errorf("register collection: %w", err)
	}
	table = tableName(database, collection)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO collections (database_name, collection_name, table_name, schema_hash, schema_json)
		VALUES (?, ?, ?, ?, ?)
	`, database, collection, table, hash, string(schemaJSON)); err != nil {
		return "", fmt.Errorf("register collection: %w", err)
	}

	ddl, err := createTableStatements(table, sch)
	if err != nil {
		return "", storage.NewError(storage.ErrCodeInvalidArgument, "schema index", err)
	}
	for _, stmt := range ddl {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return "", fmt.Errorf("create collection table: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("register collection: commit: %w", err)
	}
	return table, nil
}

// tableName maps a database and collection to a table name. Lower case
// letters and digits are kept and every other byte becomes _xx, so the
// "__" separator is unambiguous and names that differ only in case, which
// SQLite identifiers do not tell apart, get different tables.
func tableName(database, collection string) string {
	return escapeName(database) + "__" + escapeName(collection)
}

func escapeName(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if 'a' <= c && c <= 'z' || '0' <= c && c <= '9' {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "_%02x", c)
	}
	return b.String()
}
