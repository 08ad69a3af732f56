// Package cmd wires the CLI surface. All application logic lives in the
// internal packages; commands only load config, construct dependencies
// and run.
package cmd

import (
	"github.com/spf13/cobra"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "development"
	GitCommit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "aethercell",
	Short: "AetherCell - document ingestion and retrieval backend",
	Long: `AetherCell ingests documents into a shared knowledge base or a private
conversation scope, indexes them for semantic retrieval, and serves
scoped similarity queries over HTTP.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
