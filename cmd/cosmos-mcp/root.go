package main

import (
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "cosmos-mcp",
		Short:        "MCP gateway for OpenC3 COSMOS",
		Long:         "cosmos-mcp exposes OpenC3 COSMOS commanding and telemetry as MCP tools behind an OAuth 2.1 authentication gateway.",
		Version:      version,
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCmd())
	return cmd
}
