package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs <task-id>",
		Short: "Show run output logs for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			latest, _ := cmd.Flags().GetBool("latest")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if latest {
				run, err := a.store.GetLatestRun(ctx, args[0])
				if err != nil {
					return fmt.Errorf("load latest run for task %s: %w", args[0], err)
				}
				fmt.Fprint(cmd.OutOrStdout(), run.OutputLog)
				return nil
			}

			runs, err := a.store.GetRunsForTask(ctx, args[0])
			if err != nil {
				return fmt.Errorf("load runs for task %s: %w", args[0], err)
			}
			if len(runs) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No runs found for task %s.\n", args[0])
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(cmd.OutOrStdout(), "=== run %s (phase %s, status %s) ===\n", r.ID, r.Phase, r.Status)
				fmt.Fprintln(cmd.OutOrStdout(), r.OutputLog)
			}
			return nil
		},
	}

	cmd.Flags().Bool("latest", false, "only show the most recent run")
	return cmd
}
