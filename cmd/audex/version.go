package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audexlabs/audex/internal/pipeline"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the audex version",
	Run: func(*cobra.Command, []string) {
		fmt.Printf("audex %s (%s)\n", pipeline.Version, pipeline.GitSHA)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
