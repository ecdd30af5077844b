package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/docstore/internal/query"
)

const queryArgHelp = `The query is JSON, given inline, as @file or as - for stdin:

  {"selector": {"age": {"$gte": 18}}, "sort": [{"age": "desc"}], "limit": 10}

Selectors support plain equality and the operators $eq, $ne, $gt, $gte,
$lt, $lte, $in and $and.`

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	var co collectionOptions

	cmd := &cobra.Command{
		Use:           "query <query>",
		Short:         "Run a Mango query against a collection",
		Long:          "Run a Mango query against a collection. Deleted documents never match.\n\n" + queryArgHelp,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(rootOpts, co, args[0], cmd)
		},
	}
	co.bind(cmd)

	return cmd
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	var co collectionOptions

	cmd := &cobra.Command{
		Use:   "count <query>",
		Short: "Count the documents matching a query",
		Long: `Count the documents matching a query's selector.

The mode is "fast" when an index answers the count and "slow" when the
matching documents had to be read.

` + queryArgHelp,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCount(rootOpts, co, args[0], cmd)
		},
	}
	co.bind(cmd)

	return cmd
}

func runQuery(opts *RootOptions, co collectionOptions, arg string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	return withCollection(opts, co, cmd, formatter, func(ctx context.Context, c *collection) error {
		prepared, err := prepareQuery(c, arg, cmd)
		if err != nil {
			return formatter.Fail(ErrCodeQuery, "invalid query", err)
		}
		formatter.VerboseLog("Using index [%s]", strings.Join(prepared.Plan.Index, ", "))

		res, err := c.Query(ctx, prepared)
		if err != nil {
			return formatter.Fail(ErrCodeStorage, "query failed", err)
		}
		return formatter.Documents(res.Documents, fmt.Sprintf("%d document(s)", len(res.Documents)))
	})
}

func runCount(opts *RootOptions, co collectionOptions, arg string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	return withCollection(opts, co, cmd, formatter, func(ctx context.Context, c *collection) error {
		prepared, err := prepareQuery(c, arg, cmd)
		if err != nil {
			return formatter.Fail(ErrCodeQuery, "invalid query", err)
		}

		res, err := c.Count(ctx, prepared)
		if err != nil {
			return formatter.Fail(ErrCodeStorage, "count failed", err)
		}
		if formatter.Format == "json" {
			return formatter.Success(res)
		}
		return formatter.Success(fmt.Sprintf("%d (%s)", res.Count, res.Mode))
	})
}

func prepareQuery(c *collection, arg string, cmd *cobra.Command) (query.Prepared, error) {
	data, err := readInput(arg, cmd.InOrStdin())
	if err != nil {
		return query.Prepared{}, err
	}
	q, err := query.ParseQuery(data)
	if err != nil {
		return query.Prepared{}, err
	}
	return query.Prepare(c.Schema, q)
}
