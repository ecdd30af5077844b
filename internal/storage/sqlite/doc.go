// Package sqlite is the SQL storage backend, built on SQLite.
//
// One database file holds any number of collections. The collections table
// records each collection's document table and the structural hash of the
// schema it was created with; opening a collection under a different schema
// fails with SCHEMA_MISMATCH.
//
// Document tables keep id, rev, deleted and lwt as columns next to the
// canonical JSON of the document. Both name parts are escaped: bytes other
// than lower case letters and digits are written as _xx.
//
//	CREATE TABLE "<db>__<collection>" (
//	    id      TEXT PRIMARY KEY,
//	    rev     TEXT NOT NULL,
//	    deleted INTEGER NOT NULL,
//	    lwt     REAL NOT NULL,
//	    data    TEXT NOT NULL
//	)
//
// The (lwt, id) index serves the change feed and tombstone cleanup. Every
// schema index becomes an expression index over json_extract.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - _txlock=immediate: Write transactions take the write lock up front
package sqlite
