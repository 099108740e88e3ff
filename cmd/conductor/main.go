// Package main provides the CLI entry point for the conductor application.
package main

import (
	"fmt"
	"os"

	"github.com/harrison/conductor/internal/cmd"
)

// Version is injected at build time via -ldflags; defaulted here for local builds.
var Version = "dev"

func main() {
	cmd.Version = Version
	rootCmd := cmd.NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
