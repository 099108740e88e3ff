package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harrison/conductor/internal/models"
)

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <task-id>",
		Short: "Remove a task's recorded worktree and reset it to queued",
		Long:  "Delete the directory recorded in the task's worktree field, if one is set, then reset it to queued at its start phase. Workspace directories not recorded on the task are left in place.",
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

			if task.Worktree != "" {
				if err := os.RemoveAll(task.Worktree); err != nil {
					a.log.Warn("clear: remove worktree %s for task %s: %v", task.Worktree, task.ID, err)
				}
			}

			if err := a.store.ClearAssignment(ctx, task.ID, models.StatusQueued, "start"); err != nil {
				return fmt.Errorf("clear task %s: %w", task.ID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared task %s\n", task.ID)
			return nil
		},
	}
}
