package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/conductor/internal/queen"
)

func newCompleteReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete-review <task-id>",
		Short: "Record a review decision for a task",
		Long: `Apply a reviewer's decision to a task awaiting review: approve advances
it to its next phase (or completes it), reject/rework requeues it with
feedback recorded as its failure reason. Any running Queen daemon picks up
the resulting state on its next scheduling tick.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decision, _ := cmd.Flags().GetString("decision")
			reason, _ := cmd.Flags().GetString("reason")
			nextPhase, _ := cmd.Flags().GetString("next-phase")

			switch decision {
			case "approve", "reject", "rework":
			default:
				return fmt.Errorf("--decision must be one of approve, reject, rework (got %q)", decision)
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			q := queen.New(a.store, a.bus, a.log, queen.Config{}, nil)
			if err := q.ApplyReviewDecision(cmd.Context(), args[0], decision, reason, nextPhase); err != nil {
				return fmt.Errorf("apply review decision to task %s: %w", args[0], err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %s decision to task %s\n", decision, args[0])
			return nil
		},
	}

	cmd.Flags().String("decision", "", "review decision: approve, reject, or rework (required)")
	cmd.Flags().String("reason", "", "feedback recorded on reject/rework")
	cmd.Flags().String("next-phase", "", "override the automatic next phase")
	cmd.MarkFlagRequired("decision")
	return cmd
}
