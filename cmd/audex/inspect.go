package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audexlabs/audex/internal/columnar"
	"github.com/audexlabs/audex/internal/source"
)

var (
	inspectInput  string
	inspectFormat string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show a dataset's schema and resolved columns without extracting",
	Long: `Inspect opens a dataset, resolves the payload and identifier columns the
same way extract would, and prints the schema and container stats. Nothing
is written.`,
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().StringVarP(&inspectInput, "input", "i", "", "dataset file to inspect (required)")
	inspectCmd.Flags().StringVar(&inspectFormat, "format", "", `container format: "parquet" or "arrow"`)
	inspectCmd.MarkFlagRequired("input")
}

func runInspect(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	format, err := columnar.ParseFormat(orDefault(inspectFormat, cfg.Format))
	if err != nil {
		return err
	}

	staged, err := source.Stage(ctx, inspectInput)
	if err != nil {
		return fmt.Errorf("stage input: %w", err)
	}
	defer staged.Close()

	info, err := columnar.Inspect(ctx, staged.Path, format, columnar.Options{})
	if err != nil {
		return fmt.Errorf("inspect %s: %w", inspectInput, err)
	}

	fmt.Printf("input:      %s\n", inspectInput)
	fmt.Printf("format:     %s\n", info.Format)
	fmt.Printf("rows:       %d\n", info.Rows)
	if info.Format == columnar.FormatParquet {
		fmt.Printf("row groups: %d\n", info.RowGroups)
	} else {
		fmt.Printf("batches:    %d\n", info.Batches)
	}
	fmt.Printf("payload:    %s\n", info.Resolved.Payload.Name)
	fmt.Printf("identifier: %s\n", info.Resolved.Identifier.Name)
	fmt.Println("schema:")
	for i, f := range info.Schema.Fields() {
		nullable := ""
		if f.Nullable {
			nullable = " nullable"
		}
		fmt.Printf("  %2d: %s %s%s\n", i, f.Name, f.Type, nullable)
	}
	return nil
}
