// Package cmd implements the conductor command-line interface: Cobra
// subcommands wired to the Store, EventBus, PlanBridge, Queen, and Worker
// packages (spec §6.2).
package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags (see cmd/conductor/main.go).
var Version = "dev"

// NewRootCommand builds the conductor command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "conductor",
		Short:         "Conductor Hive: a distributed task orchestration platform",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default .conductor/config.yaml)")

	root.AddCommand(
		newInitCmd(),
		newStatusCmd(),
		newQueueCmd(),
		newListCmd(),
		newClearCmd(),
		newResetCmd(),
		newLogsCmd(),
		newGetTranscriptCmd(),
		newReviewNextTaskCmd(),
		newCompleteReviewCmd(),
		newQueenCmd(),
		newWorkerCmd(),
		newVersionCmd(),
	)

	return root
}
