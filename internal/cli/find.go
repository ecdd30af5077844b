package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	var co collectionOptions
	var withDeleted bool

	cmd := &cobra.Command{
		Use:           "find <id>...",
		Short:         "Fetch documents by primary key",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(rootOpts, co, args, withDeleted, cmd)
		},
	}
	co.bind(cmd)
	cmd.Flags().BoolVar(&withDeleted, "with-deleted", false, "include deleted documents")

	return cmd
}

func runFind(opts *RootOptions, co collectionOptions, ids []string, withDeleted bool, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	return withCollection(opts, co, cmd, formatter, func(ctx context.Context, c *collection) error {
		docs, err := c.FindDocumentsByID(ctx, ids, withDeleted)
		if err != nil {
			return formatter.Fail(ErrCodeStorage, "find failed", err)
		}
		formatter.VerboseLog("Found %d of %d document(s)", len(docs), len(ids))
		return formatter.Documents(docs, fmt.Sprintf("%d document(s)", len(docs)))
	})
}
