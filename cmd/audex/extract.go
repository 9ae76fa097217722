package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audexlabs/audex/internal/pipeline"
	"github.com/audexlabs/audex/internal/storage"
)

var (
	extractInput  string
	extractOutput string
	extractRun    runFlags
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract payload files from one dataset",
	Long: `Extract reads a Parquet or Arrow IPC dataset and writes each row's audio
payload as its own file, named by the row's identifier. Rows with a null
payload are skipped; rows with a null identifier fall back to the row number.

The exit code is zero whenever the whole input was drained, even if every
row was skipped; it is non-zero only when the run aborted.

Example:
  audex extract -i clips.parquet -o ./out
  audex extract -i gs://datasets/shard.arrow.zst -o ./out --format arrow`,
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().StringVarP(&extractInput, "input", "i", "", "dataset file to read (required)")
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "", "directory or bucket URI to write into (required)")
	extractCmd.MarkFlagRequired("input")
	extractCmd.MarkFlagRequired("output")
	bindRunFlags(extractCmd, &extractRun)
}

func runExtract(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	s, err := extractRun.resolve(cmd)
	if err != nil {
		return err
	}
	startMetrics(s.metricsAddr)

	store, err := storage.NewStore(ctx, extractOutput)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer store.Close()

	cat, emit, err := openSinks(s, extractOutput)
	if err != nil {
		return err
	}
	defer cat.Close()
	defer emit.Close()

	runner := pipeline.New(pipeline.Options{
		Input:     extractInput,
		Output:    extractOutput,
		Format:    s.format,
		BatchRows: s.batchRows,
	}, store, cat, emit)

	if sum := runner.Run(ctx); sum.Aborted() {
		return fmt.Errorf("extraction aborted: %w", sum.Err)
	}
	return nil
}
