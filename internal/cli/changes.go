package cli

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/docstore/internal/schema"
	"github.com/roach88/docstore/internal/storage"
)

// ChangesOptions holds flags for the changes command.
type ChangesOptions struct {
	collectionOptions
	Limit      int
	SinceID    string
	SinceLWT   float64
	Checkpoint string
}

// NewChangesCommand creates the changes command.
func NewChangesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChangesOptions{}

	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Page through the change feed of a collection",
		Long: `Print the documents written after a checkpoint, oldest first.

Deleted documents are included. Pass the printed checkpoint back with
--since-lwt and --since-id to fetch the next page, or give the checkpoint
object of a JSON response to --checkpoint, inline, as @file or as - for
stdin.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChanges(rootOpts, opts, cmd)
		},
	}
	opts.bind(cmd)
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 100, "maximum number of documents")
	cmd.Flags().StringVar(&opts.SinceID, "since-id", "", "checkpoint document id")
	cmd.Flags().Float64Var(&opts.SinceLWT, "since-lwt", 0, "checkpoint last-write-time")
	cmd.Flags().StringVar(&opts.Checkpoint, "checkpoint", "", `checkpoint as JSON: {"id": ..., "lwt": ...}`)
	cmd.MarkFlagsMutuallyExclusive("checkpoint", "since-id")
	cmd.MarkFlagsMutuallyExclusive("checkpoint", "since-lwt")

	return cmd
}

func runChanges(rootOpts *RootOptions, opts *ChangesOptions, cmd *cobra.Command) error {
	formatter := newFormatter(rootOpts, cmd)
	if opts.Limit < 1 {
		return formatter.Fail(ErrCodeInput, "--limit must be positive", nil)
	}

	var since *storage.Checkpoint
	switch {
	case opts.Checkpoint != "":
		cp, err := parseCheckpoint(opts.Checkpoint, cmd.InOrStdin())
		if err != nil {
			return formatter.Fail(ErrCodeInput, "invalid checkpoint", err)
		}
		since = cp
	case cmd.Flags().Changed("since-id") || cmd.Flags().Changed("since-lwt"):
		since = &storage.Checkpoint{ID: opts.SinceID, LWT: opts.SinceLWT}
	}

	return withCollection(rootOpts, opts.collectionOptions, cmd, formatter, func(ctx context.Context, c *collection) error {
		res, err := c.GetChangedDocumentsSince(ctx, opts.Limit, since)
		if err != nil {
			return formatter.Fail(ErrCodeStorage, "reading changes failed", err)
		}
		return formatter.Changes(res)
	})
}

// parseCheckpoint reads a checkpoint object and validates it against the
// checkpoint schema.
func parseCheckpoint(arg string, stdin io.Reader) (*storage.Checkpoint, error) {
	data, err := readInput(arg, stdin)
	if err != nil {
		return nil, err
	}
	if err := schema.ValidateJSON(schema.DefaultCheckpointSchema(), data); err != nil {
		return nil, err
	}
	var cp storage.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}
