package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/docstore/internal/cleanup"
)

// CleanupOptions holds flags for the cleanup command.
type CleanupOptions struct {
	collectionOptions
	MinDeletedAge time.Duration
	MaxPasses     int
	Watch         bool
}

// NewCleanupCommand creates the cleanup command.
func NewCleanupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CleanupOptions{}

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Purge old deleted documents from a collection",
		Long: `Physically remove deleted documents whose last write is older than
--min-deleted-age. Defaults come from the cleanup section of the config.

With --watch the cleanup repeats every cleanup.interval until interrupted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(rootOpts, opts, cmd)
		},
	}
	opts.bind(cmd)
	cmd.Flags().DurationVar(&opts.MinDeletedAge, "min-deleted-age", 0, "minimum age of purged tombstones (default from config)")
	cmd.Flags().IntVar(&opts.MaxPasses, "max-passes", 0, "maximum cleanup batches (default 1000)")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "keep running at the configured interval")

	return cmd
}

func runCleanup(rootOpts *RootOptions, opts *CleanupOptions, cmd *cobra.Command) error {
	formatter := newFormatter(rootOpts, cmd)

	return withCollection(rootOpts, opts.collectionOptions, cmd, formatter, func(ctx context.Context, c *collection) error {
		minAge := c.Config.Cleanup.MinDeletedAge
		if cmd.Flags().Changed("min-deleted-age") {
			minAge = opts.MinDeletedAge
		}
		runner := cleanup.NewRunner(cleanup.Config{
			Interval:      c.Config.Cleanup.Interval,
			MinDeletedAge: minAge,
			MaxPasses:     opts.MaxPasses,
			Logger:        c.Logger,
		})
		runner.Register(c.Instance)

		if opts.Watch {
			formatter.VerboseLog("Cleaning every %s until interrupted", c.Config.Cleanup.Interval)
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runner.Run(ctx)
		}

		results, err := runner.RunOnce(ctx)
		if err != nil {
			return formatter.Fail(ErrCodeStorage, "cleanup failed", err)
		}
		if len(results) != 1 {
			return formatter.Fail(ErrCodeStorage, "collection closed during cleanup", nil)
		}
		res := results[0]
		if formatter.Format == "json" {
			return formatter.Success(res)
		}
		state := "done"
		if !res.Done {
			state = "more remaining"
		}
		return formatter.Success(fmt.Sprintf("%s: %d pass(es), %s", res.Key, res.Passes, state))
	})
}
