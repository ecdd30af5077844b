package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/docstore/internal/schema"
)

// NormalizeOptions holds flags for the normalize command.
type NormalizeOptions struct {
	*RootOptions
	Output string
}

// NormalizeResult is the normalize command's payload.
type NormalizeResult struct {
	Hash   string          `json:"hash"`
	Schema json.RawMessage `json:"schema"`
}

// NewNormalizeCommand creates the normalize command.
func NewNormalizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NormalizeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "normalize <schema-file>",
		Short: "Print the canonical form and hash of a schema",
		Long: `Normalize a collection schema and print it as canonical JSON.

The schema may be JSON, YAML or CUE. The hash is the value backends store
to detect a collection reopened with a different schema.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNormalize(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "also write the canonical schema to this file")

	return cmd
}

func runNormalize(opts *NormalizeOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	s, err := schema.LoadFile(path)
	if err != nil {
		return formatter.Fail(ErrCodeSchema, "failed to load schema", err)
	}
	normalized := schema.Normalize(s)

	data, err := normalized.Canonical()
	if err != nil {
		return formatter.Fail(ErrCodeSchema, "failed to encode schema", err)
	}
	hash, err := schema.Hash(normalized)
	if err != nil {
		return formatter.Fail(ErrCodeSchema, "failed to hash schema", err)
	}
	formatter.VerboseLog("Primary key %s, %d index(es)", normalized.PrimaryPath(), len(normalized.Indexes))

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, append(data, '\n'), 0o644); err != nil {
			return formatter.Fail(ErrCodeWriteFailed, "failed to write output", err)
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(NormalizeResult{Hash: hash, Schema: data})
	}
	return formatter.Success(fmt.Sprintf("%s\nhash: %s", data, hash))
}
