package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/conductor/internal/models"
)

func newQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue <task-id>",
		Short: "Mark a task as queued, clearing any assignment",
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
			if err := a.store.ClearAssignment(ctx, task.ID, models.StatusQueued, task.CurrentPhase); err != nil {
				return fmt.Errorf("queue task %s: %w", task.ID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued task %s\n", task.ID)
			return nil
		},
	}
}
