package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docstore/internal/schema"
	"github.com/roach88/docstore/internal/storage"
)

const humanSchemaJSON = `{
	"version": 0,
	"type": "object",
	"primaryKey": "id",
	"properties": {
		"id": {"type": "string", "maxLength": 100},
		"name": {"type": "string"},
		"age": {"type": "integer"}
	},
	"indexes": [["name"], ["age"]]
}`

const humanSchemaCUE = `schema: {
	version:    0
	type:       "object"
	primaryKey: "id"
	properties: {
		id: {type: "string", maxLength: 100}
		name: type: "string"
		age: type:  "integer"
	}
	indexes: [["name"], ["age"]]
}
`

const twoHumans = `[{"id": "alice", "name": "Alice", "age": 30}, {"id": "bob", "name": "Bob", "age": 25}]`

// cliEnv runs commands against one data directory.
type cliEnv struct {
	dir        string
	schemaPath string
	backend    string
	stdin      string
}

func newCLIEnv(t *testing.T, backend string) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "humans.json")
	require.NoError(t, os.WriteFile(schemaPath, []byte(humanSchemaJSON), 0o644))
	return &cliEnv{dir: dir, schemaPath: schemaPath, backend: backend}
}

// run executes a collection command on the humans collection.
func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	args = append(args,
		"--backend", e.backend,
		"--data-dir", filepath.Join(e.dir, "data"),
		"--database", "testdb",
		"--collection", "humans",
		"--schema", e.schemaPath,
	)
	return execute(t, e.stdin, args...)
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func TestNormalize(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "humans.json")
	cuePath := filepath.Join(dir, "humans.cue")
	outPath := filepath.Join(dir, "canonical.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(humanSchemaJSON), 0o644))
	require.NoError(t, os.WriteFile(cuePath, []byte(humanSchemaCUE), 0o644))

	parsed, err := schema.ParseJSON([]byte(humanSchemaJSON))
	require.NoError(t, err)
	normalized := schema.Normalize(parsed)
	wantHash, err := schema.Hash(normalized)
	require.NoError(t, err)
	wantCanonical, err := normalized.Canonical()
	require.NoError(t, err)

	out, err := execute(t, "", "normalize", jsonPath, "-o", outPath)
	require.NoError(t, err)
	assert.Equal(t, string(wantCanonical)+"\nhash: "+wantHash+"\n", out)

	written, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, string(wantCanonical)+"\n", string(written))

	t.Run("cue schema hashes the same", func(t *testing.T) {
		out, err := execute(t, "", "--format", "json", "normalize", cuePath)
		require.NoError(t, err)

		var res NormalizeResult
		decodeData(t, out, &res)
		assert.Equal(t, wantHash, res.Hash)
		assert.JSONEq(t, string(wantCanonical), string(res.Schema))
	})

	t.Run("missing file", func(t *testing.T) {
		out, err := execute(t, "", "normalize", filepath.Join(dir, "nope.json"))
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, out, "Error [E003]")
	})
}

func TestWriteAndRead(t *testing.T) {
	e := newCLIEnv(t, "sqlite")

	out, err := e.run(t, "write", twoHumans)
	require.NoError(t, err)
	assert.Equal(t, "2 document(s) written\n", out)

	out, err = e.run(t, "info")
	require.NoError(t, err)
	assert.Equal(t, "testdb/humans: 2 document(s), primary key id\ncollections in testdb: humans\n", out)

	out, err = e.run(t, "find", "alice", "carol")
	require.NoError(t, err)
	assert.Contains(t, out, `"name":"Alice"`)
	assert.Contains(t, out, "1 document(s)")

	out, err = e.run(t, "query", `{"selector": {"age": {"$gte": 26}}, "sort": ["name"]}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"id":"alice"`)
	assert.NotContains(t, out, `"id":"bob"`)

	out, err = e.run(t, "count", `{"selector": {"name": "Bob"}}`)
	require.NoError(t, err)
	assert.Equal(t, "1 (fast)\n", out)

	out, err = e.run(t, "count", `{"selector": {"name": "Bob", "age": 25}}`)
	require.NoError(t, err)
	assert.Equal(t, "1 (slow)\n", out)

	out, err = e.run(t, "--format", "json", "info")
	require.NoError(t, err)
	var info InfoResult
	decodeData(t, out, &info)
	assert.Equal(t, InfoResult{
		Backend:     "sqlite",
		Database:    "testdb",
		Collection:  "humans",
		PrimaryKey:  "id",
		TotalCount:  2,
		Collections: []string{"humans"},
	}, info)
}

func TestWriteConflict(t *testing.T) {
	e := newCLIEnv(t, "sqlite")

	_, err := e.run(t, "write", twoHumans)
	require.NoError(t, err)

	out, err := e.run(t, "write", `[{"id": "alice", "name": "Alice again"}, {"id": "carol", "name": "Carol"}]`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 of 2 row(s) conflicted")
	assert.Contains(t, out, "conflict: alice (revision)")
	assert.Contains(t, out, "1 document(s) written")

	out, err = e.run(t, "find", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, `"name":"Alice"`)
}

func TestWriteFillsDefaults(t *testing.T) {
	e := newCLIEnv(t, "sqlite")
	e.schemaPath = filepath.Join(e.dir, "with-defaults.json")
	require.NoError(t, os.WriteFile(e.schemaPath, []byte(`{
		"version": 0,
		"type": "object",
		"primaryKey": "id",
		"properties": {
			"id": {"type": "string", "maxLength": 8},
			"status": {"type": "string", "default": "active"}
		}
	}`), 0o644))

	_, err := e.run(t, "write", `[{"id": "a"}, {"id": "b", "status": "paused"}]`)
	require.NoError(t, err)

	out, err := e.run(t, "--format", "json", "find", "a", "b")
	require.NoError(t, err)
	var res storage.QueryResult
	decodeData(t, out, &res)
	status := map[string]any{}
	for _, d := range res.Documents {
		status[d.ID("id")] = d["status"]
	}
	assert.Equal(t, map[string]any{"a": "active", "b": "paused"}, status)

	t.Run("updates keep missing fields missing", func(t *testing.T) {
		prev := res.Documents[0]
		row := map[string]any{"document": map[string]any{"id": prev.ID("id")}, "previous": prev}
		data, err := json.Marshal([]any{row})
		require.NoError(t, err)
		_, err = e.run(t, "write", string(data))
		require.NoError(t, err)

		out, err := e.run(t, "--format", "json", "find", prev.ID("id"))
		require.NoError(t, err)
		var res storage.QueryResult
		decodeData(t, out, &res)
		require.Len(t, res.Documents, 1)
		assert.NotContains(t, res.Documents[0], "status")
	})

	t.Run("keys longer than maxLength conflict", func(t *testing.T) {
		out, err := e.run(t, "write", `[{"id": "much-too-long"}]`)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, out, "conflict: much-too-long (primary_key_too_long)")
	})
}

func TestWriteFromStdinAndFile(t *testing.T) {
	e := newCLIEnv(t, "sqlite")
	e.stdin = `[{"id": "alice", "name": "Alice", "age": 30}]`

	out, err := e.run(t, "write", "-")
	require.NoError(t, err)
	assert.Equal(t, "1 document(s) written\n", out)

	rowsPath := filepath.Join(e.dir, "rows.json")
	require.NoError(t, os.WriteFile(rowsPath, []byte(`[{"id": "bob", "name": "Bob", "age": 25}]`), 0o644))
	_, err = e.run(t, "write", "@"+rowsPath)
	require.NoError(t, err)

	out, err = e.run(t, "info")
	require.NoError(t, err)
	assert.Contains(t, out, "2 document(s)")
}

func TestDeleteAndCleanup(t *testing.T) {
	e := newCLIEnv(t, "sqlite")

	_, err := e.run(t, "write", twoHumans)
	require.NoError(t, err)

	out, err := e.run(t, "--format", "json", "find", "alice")
	require.NoError(t, err)
	var found storage.QueryResult
	decodeData(t, out, &found)
	require.Len(t, found.Documents, 1)

	previous := found.Documents[0]
	tombstone := previous.Clone()
	tombstone["_deleted"] = true
	delete(tombstone, "_rev")
	rows, err := json.Marshal([]storage.WriteRow{{Document: tombstone, Previous: previous}})
	require.NoError(t, err)

	out, err = e.run(t, "--format", "json", "write", string(rows))
	require.NoError(t, err)
	var written WriteResult
	decodeData(t, out, &written)
	assert.Equal(t, []string{"alice"}, written.Written)
	assert.Empty(t, written.Conflicts)

	out, err = e.run(t, "find", "alice")
	require.NoError(t, err)
	assert.Equal(t, "0 document(s)\n", out)

	out, err = e.run(t, "find", "alice", "--with-deleted")
	require.NoError(t, err)
	assert.Contains(t, out, `"_rev":"2-`)
	assert.Contains(t, out, "1 document(s)")

	out, err = e.run(t, "info")
	require.NoError(t, err)
	assert.Contains(t, out, "2 document(s)")

	out, err = e.run(t, "cleanup", "--min-deleted-age", "1h")
	require.NoError(t, err)
	assert.Equal(t, "testdb/humans: 1 pass(es), done\n", out)

	out, err = e.run(t, "info")
	require.NoError(t, err)
	assert.Contains(t, out, "2 document(s)", "young tombstones survive")

	out, err = e.run(t, "cleanup", "--min-deleted-age", "0s")
	require.NoError(t, err)
	assert.Equal(t, "testdb/humans: 1 pass(es), done\n", out)

	out, err = e.run(t, "info")
	require.NoError(t, err)
	assert.Contains(t, out, "1 document(s)")
}

func TestChangesPaging(t *testing.T) {
	e := newCLIEnv(t, "sqlite")

	_, err := e.run(t, "write", `[{"id": "a", "name": "A"}, {"id": "b", "name": "B"}, {"id": "c", "name": "C"}]`)
	require.NoError(t, err)

	page := func(args ...string) storage.ChangedDocuments {
		t.Helper()
		out, err := e.run(t, append([]string{"--format", "json", "changes", "--limit", "2"}, args...)...)
		require.NoError(t, err)
		var res storage.ChangedDocuments
		decodeData(t, out, &res)
		return res
	}
	ids := func(res storage.ChangedDocuments) []string {
		out := make([]string, 0, len(res.Documents))
		for _, d := range res.Documents {
			out = append(out, d.ID("id"))
		}
		return out
	}
	after := func(cp storage.Checkpoint) []string {
		return []string{"--since-lwt", strconv.FormatFloat(cp.LWT, 'f', -1, 64), "--since-id", cp.ID}
	}

	first := page()
	assert.Equal(t, []string{"a", "b"}, ids(first))
	assert.Equal(t, "b", first.Checkpoint.ID)

	second := page(after(first.Checkpoint)...)
	assert.Equal(t, []string{"c"}, ids(second))

	third := page(after(second.Checkpoint)...)
	assert.Empty(t, third.Documents)

	t.Run("checkpoint object", func(t *testing.T) {
		cp, err := json.Marshal(first.Checkpoint)
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, ids(page("--checkpoint", string(cp))))

		e.stdin = string(cp)
		defer func() { e.stdin = "" }()
		assert.Equal(t, []string{"c"}, ids(page("--checkpoint", "-")))
	})

	t.Run("invalid checkpoint object", func(t *testing.T) {
		for _, cp := range []string{`{"id": "b"}`, `{"id": "b", "lwt": -5}`, `{"id": "b", "lwt": 1, "x": 1}`} {
			out, err := e.run(t, "changes", "--checkpoint", cp)
			require.Error(t, err, cp)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, "Error [E002]")
		}

		_, err := e.run(t, "changes", "--checkpoint", `{"id": "b", "lwt": 1}`, "--since-id", "b")
		assert.Error(t, err, "--checkpoint and --since-id are exclusive")
	})

	out, err := e.run(t, "changes", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `"id":"a"`)
	assert.Contains(t, out, `checkpoint: --since-lwt `)
	assert.Contains(t, out, `--since-id "a"`)

	_, err = e.run(t, "changes", "--limit", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInvalidQuery(t *testing.T) {
	e := newCLIEnv(t, "sqlite")

	out, err := e.run(t, "query", `{"selector": {"name": {"$regex": "^A"}}}`)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E004]")
	assert.Contains(t, out, "unsupported operator")
}

func TestSchemaMismatch(t *testing.T) {
	e := newCLIEnv(t, "sqlite")

	_, err := e.run(t, "write", twoHumans)
	require.NoError(t, err)

	changed := strings.Replace(humanSchemaJSON, `[["name"], ["age"]]`, `[["age"]]`, 1)
	require.NoError(t, os.WriteFile(e.schemaPath, []byte(changed), 0o644))

	out, err := e.run(t, "info")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
	assert.Contains(t, out, string(storage.ErrCodeSchemaMismatch))
}

func TestPebbleBackend(t *testing.T) {
	e := newCLIEnv(t, "pebble")
	metricsPath := filepath.Join(e.dir, "metrics.prom")

	_, err := e.run(t, "write", twoHumans)
	require.NoError(t, err)

	out, err := e.run(t, "info")
	require.NoError(t, err)
	assert.Contains(t, out, "2 document(s)")

	out, err = e.run(t, "find", "bob", "--metrics-file", metricsPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"name":"Bob"`)

	metrics, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "docstore_pebble_memtable_count")
	assert.Contains(t, string(metrics), "docstore_storage_read_duration_seconds")
}

func TestMemoryBackendMetrics(t *testing.T) {
	e := newCLIEnv(t, "memory")
	metricsPath := filepath.Join(e.dir, "metrics.prom")

	_, err := e.run(t, "write", twoHumans, "--metrics-file", metricsPath)
	require.NoError(t, err)

	metrics, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `docstore_storage_documents_written_total{collection="humans",kind="insert"} 2`)

	// Nothing outlives the process with the memory backend.
	out, err := e.run(t, "info")
	require.NoError(t, err)
	assert.Contains(t, out, "0 document(s)")
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  backend: memory
  database: fromconfig
cleanup:
  min_deleted_age: 1h
`), 0o644))

	cfg, err := loadConfig(&RootOptions{ConfigPath: path, Database: "fromflag"})
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, "fromflag", cfg.Storage.Database)
	assert.Equal(t, "1h0m0s", cfg.Cleanup.MinDeletedAge.String())

	_, err = loadConfig(&RootOptions{Backend: "bolt"})
	assert.ErrorContains(t, err, "storage.backend")
}

func TestDecodeRows(t *testing.T) {
	ids := &fixedIDs{id: "tok"}

	rows, err := decodeRows([]byte(`[
		{"id": "a"},
		{"document": {"id": "b", "_rev": "3-x"}, "previous": {"id": "b", "_rev": "2-y"}},
		{"document": {"id": "c"}, "previous": {"id": "c", "_rev": "4-z"}}
	]`), ids)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "1-tok", rows[0].Document.Rev())
	assert.Nil(t, rows[0].Previous)
	lwt, ok := rows[0].Document.LWT()
	assert.True(t, ok)
	assert.Equal(t, 1.0, lwt)

	assert.Equal(t, "3-x", rows[1].Document.Rev())
	assert.Equal(t, "2-y", rows[1].Previous.Rev())

	assert.Equal(t, "5-tok", rows[2].Document.Rev())

	tests := []struct {
		name  string
		input string
	}{
		{"not an array", `{"id": "a"}`},
		{"not an object", `["a"]`},
		{"null document", `[{"document": null}]`},
		{"unknown row field", `[{"document": {"id": "a"}, "prev": {}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeRows([]byte(tt.input), ids)
			assert.Error(t, err)
		})
	}
}

type fixedIDs struct{ id string }

func (f *fixedIDs) NewID() string { return f.id }
