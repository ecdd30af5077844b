package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docstore/internal/document"
	"github.com/roach88/docstore/internal/schema"
	"github.com/roach88/docstore/internal/storage"
)

// WriteContext tags the event bulks of writes issued by the CLI.
const WriteContext = "docstore-cli"

// WriteResult is the write command's payload.
type WriteResult struct {
	Written   []string             `json:"written"`
	Conflicts []storage.WriteError `json:"conflicts,omitempty"`
}

// NewWriteCommand creates the write command.
func NewWriteCommand(rootOpts *RootOptions) *cobra.Command {
	var co collectionOptions

	cmd := &cobra.Command{
		Use:   "write <rows>",
		Short: "Write documents to a collection",
		Long: `Write a JSON array of rows in one bulk write.

Each row is either {"document": {...}, "previous": {...}} or a bare
document, which is written as an insert. A missing _rev is generated on
top of the previous revision. Rows are given inline, as @file or as -
for stdin.

Rejected rows are reported as conflicts and make the command exit with
status 1; accepted rows are written regardless.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(rootOpts, co, args[0], cmd)
		},
	}
	co.bind(cmd)

	return cmd
}

func runWrite(opts *RootOptions, co collectionOptions, arg string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	data, err := readInput(arg, cmd.InOrStdin())
	if err != nil {
		return formatter.Fail(ErrCodeInput, "failed to read rows", err)
	}
	rows, err := decodeRows(data, storage.UUIDGenerator{})
	if err != nil {
		return formatter.Fail(ErrCodeInput, "invalid rows", err)
	}
	if len(rows) == 0 {
		return formatter.Fail(ErrCodeInput, "no rows to write", nil)
	}

	return withCollection(opts, co, cmd, formatter, func(ctx context.Context, c *collection) error {
		fillDefaults(c.Schema, rows)
		resp, err := c.BulkWrite(ctx, rows, WriteContext)
		if err != nil {
			return formatter.Fail(ErrCodeStorage, "write failed", err)
		}

		res := WriteResult{Written: make([]string, 0, len(resp.Success)), Conflicts: resp.Errors}
		for _, d := range resp.Success {
			res.Written = append(res.Written, d.ID(c.Schema.PrimaryPath()))
		}
		formatter.VerboseLog("%d row(s), %d written, %d conflict(s)", len(rows), len(res.Written), len(res.Conflicts))

		if err := formatter.WriteOutcome(res); err != nil {
			return err
		}
		if len(res.Conflicts) > 0 {
			return NewExitError(ExitFailure, fmt.Sprintf("%d of %d row(s) conflicted", len(res.Conflicts), len(rows)))
		}
		return nil
	})
}

// fillDefaults sets the schema defaults on inserted documents. Updates and
// deletes are written as given.
func fillDefaults(s *schema.Schema, rows []storage.WriteRow) {
	for _, row := range rows {
		if row.Previous == nil && !row.Document.Deleted() {
			schema.FillObjectWithDefaults(s, row.Document)
		}
	}
}

// decodeRows parses a JSON array of write rows or bare documents and fills
// in missing revisions and last-write-times.
func decodeRows(data []byte, ids storage.IDGenerator) ([]storage.WriteRow, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("expected a JSON array: %w", err)
	}

	rows := make([]storage.WriteRow, 0, len(raw))
	for i, item := range raw {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil {
			return nil, fmt.Errorf("row %d: expected an object: %w", i, err)
		}

		var row storage.WriteRow
		if _, ok := fields["document"]; ok {
			dec := json.NewDecoder(bytes.NewReader(item))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&row); err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
		} else {
			doc, err := document.Unmarshal(item)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			row.Document = doc
		}
		if row.Document == nil {
			return nil, fmt.Errorf("row %d: document is null", i)
		}

		if row.Document.Rev() == "" {
			row.Document[document.FieldRev] = document.CreateRevision(ids.NewID(), row.Previous)
		}
		if _, ok := row.Document.LWT(); !ok {
			row.Document = row.Document.WithLWT(document.LWTMinimum)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
