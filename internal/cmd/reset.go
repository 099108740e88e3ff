package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/conductor/internal/models"
)

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <task-id>",
		Short: "Reset a task to queued at its start phase, clearing assignment and failure state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			task, err := a.store.GetTask(ctx, args[0])
			if err != nil {
				return fmt.Errorf("load task %s: %w", args[0], err)
			}
			if err := a.store.ClearAssignment(ctx, task.ID, models.StatusQueued, "start"); err != nil {
				return fmt.Errorf("reset task %s: %w", task.ID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset task %s to queued/start\n", task.ID)
			return nil
		},
	}
}
