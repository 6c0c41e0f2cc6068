// ./main.go
package main

import (
	"github.com/10xr-agents/copilot-core/cmd"
)

// main is the entry point for the copilot-core service.
func main() {
	// Execute the root command defined in the cmd package.
	// This handles all command-line parsing, configuration, and execution.
	cmd.Execute()
}
