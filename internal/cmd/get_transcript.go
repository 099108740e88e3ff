package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newGetTranscriptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-transcript <run-id>",
		Short: "Print the stored agent transcript for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load run %s: %w", args[0], err)
			}
			if run.Transcript == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "No transcript recorded for run %s.\n", run.ID)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), run.Transcript)
			return nil
		},
	}
}
