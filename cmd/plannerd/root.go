package main

import (
	"github.com/flowgraph/planner/internal/version"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "plannerd",
	Short: "Planner - adaptive workflow planning engine for tool-using agents",
	Long: `Planner maintains a persistent knowledge graph over tools and capabilities,
fuses it with semantic search, and serves DAG suggestions and next-step
predictions to agent runtimes over a JSON-RPC stdio transport.`,
	Version: version.Version,
}

func init() {
	rootCmd.SetVersionTemplate("plannerd version {{.Version}}\n")
}
