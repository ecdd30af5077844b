package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// InfoResult is the info command's payload.
type InfoResult struct {
	Backend    string `json:"backend"`
	Database   string `json:"database"`
	Collection string `json:"collection"`
	PrimaryKey string `json:"primaryKey"`
	TotalCount int    `json:"totalCount"`
	// Collections lists the collections of the database on backends
	// that keep a registry.
	Collections []string `json:"collections,omitempty"`
}

// collectionLister is implemented by backends that register collections.
type collectionLister interface {
	Collections(ctx context.Context, database string) ([]string, error)
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	var co collectionOptions

	cmd := &cobra.Command{
		Use:           "info",
		Short:         "Show the document count of a collection",
		Long:          "Show the number of stored documents of a collection, deleted documents included.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(rootOpts, co, cmd)
		},
	}
	co.bind(cmd)

	return cmd
}

func runInfo(opts *RootOptions, co collectionOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	return withCollection(opts, co, cmd, formatter, func(ctx context.Context, c *collection) error {
		info, err := c.Info(ctx)
		if err != nil {
			return formatter.Fail(ErrCodeStorage, "info failed", err)
		}
		res := InfoResult{
			Backend:    c.Config.Storage.Backend,
			Database:   c.DatabaseName(),
			Collection: c.CollectionName(),
			PrimaryKey: c.Schema.PrimaryPath(),
			TotalCount: info.TotalCount,
		}
		if lister, ok := c.Store.(collectionLister); ok {
			if res.Collections, err = lister.Collections(ctx, res.Database); err != nil {
				return formatter.Fail(ErrCodeStorage, "listing collections failed", err)
			}
		}
		if formatter.Format == "json" {
			return formatter.Success(res)
		}
		text := fmt.Sprintf("%s/%s: %d document(s), primary key %s",
			res.Database, res.Collection, res.TotalCount, res.PrimaryKey)
		if len(res.Collections) > 0 {
			text += fmt.Sprintf("\ncollections in %s: %s", res.Database, strings.Join(res.Collections, ", "))
		}
		return formatter.Success(text)
	})
}
