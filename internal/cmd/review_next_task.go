package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/conductor/internal/models"
)

func newReviewNextTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review-next-task",
		Short: "Print the oldest task awaiting review",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			tasks, err := a.store.GetTasksByStatus(cmd.Context(), models.StatusReviewPending)
			if err != nil {
				return fmt.Errorf("list review_pending tasks: %w", err)
			}
			if len(tasks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tasks awaiting review.")
				return nil
			}

			// GetTasksByStatus orders newest first; the oldest pending review
			// is the one that has waited longest.
			next := tasks[len(tasks)-1]

			if format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(next)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", next.ID, next.CurrentPhase, next.Title)
			return nil
		},
	}

	cmd.Flags().String("format", "summary", "output format: summary or json")
	return cmd
}
