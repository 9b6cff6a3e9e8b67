// Command cosmos-mcp serves OpenC3 COSMOS commanding and telemetry as MCP
// tools behind an OAuth authentication gateway.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
