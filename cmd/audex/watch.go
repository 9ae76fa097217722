package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/audexlabs/audex/internal/pipeline"
	"github.com/audexlabs/audex/internal/storage"
	"github.com/audexlabs/audex/internal/watcher"
)

var (
	watchDir    string
	watchOutput string
	watchSettle time.Duration
	watchRun    runFlags
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a directory and extract every dataset dropped into it",
	Long: `Watch ingests a directory continuously: datasets already present are
processed on startup, new arrivals once they have settled. Each input file
is extracted into its own subdirectory of the output root, named after the
file. An aborted file is logged and skipped, never fatal to the session.

Stops cleanly on SIGINT/SIGTERM.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVarP(&watchDir, "input", "i", "", "directory to watch (required)")
	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", "", "output root directory (required)")
	watchCmd.Flags().DurationVar(&watchSettle, "settle", 0, "quiet time before a new file is processed")
	watchCmd.MarkFlagRequired("input")
	watchCmd.MarkFlagRequired("output")
	bindRunFlags(watchCmd, &watchRun)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	s, err := watchRun.resolve(cmd)
	if err != nil {
		return err
	}
	startMetrics(s.metricsAddr)

	// Each file gets freshly wired sinks so per-file manifests land next to
	// that file's output.
	run := func(ctx context.Context, opts pipeline.Options) pipeline.Summary {
		fail := func(err error) pipeline.Summary {
			return pipeline.Summary{Input: opts.Input, Output: opts.Output, Err: err}
		}

		store, err := storage.NewStore(ctx, opts.Output)
		if err != nil {
			return fail(fmt.Errorf("open output: %w", err))
		}
		defer store.Close()

		cat, emit, err := openSinks(s, opts.Output)
		if err != nil {
			return fail(err)
		}
		defer cat.Close()
		defer emit.Close()

		return pipeline.New(opts, store, cat, emit).Run(ctx)
	}

	w := watcher.New(watcher.Config{
		Dir:       watchDir,
		Output:    watchOutput,
		Format:    s.format,
		BatchRows: s.batchRows,
		Settle:    watchSettle,
	}, run)
	return w.Run(cmd.Context())
}
