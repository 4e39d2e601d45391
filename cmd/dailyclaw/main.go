// Package main is the entry point of the DailyClaw CLI.
package main

import (
	"fmt"
	"os"

	// Embedded zone database, so chat time zones resolve in minimal images.
	_ "time/tzdata"

	"github.com/jholhewres/dailyclaw/cmd/dailyclaw/commands"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	rootCmd := commands.NewRootCmd(version)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
