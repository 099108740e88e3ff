package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// avgRunDurationSampleSize bounds how many recent completed runs feed the
// `status -v` average. That figure is a plain mean computed from stored
// runs; it approximates, but does not reproduce, Queen's in-memory EMA
// (spec §4.5), which has no fixed window.
const avgRunDurationSampleSize = 50

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show task counts by status",
		Long:  "Show how many tasks are in each status. With -v, also list every non-terminal task.",
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			counts, err := a.store.CountByStatus(ctx)
			if err != nil {
				return fmt.Errorf("count tasks: %w", err)
			}

			statuses := make([]string, 0, len(counts))
			for s := range counts {
				statuses = append(statuses, s)
			}
			sort.Strings(statuses)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "STATUS\tCOUNT")
			for _, s := range statuses {
				fmt.Fprintf(w, "%s\t%d\n", s, counts[s])
			}
			w.Flush()

			if !verbose {
				return nil
			}

			for _, s := range statuses {
				if s == "completed" || s == "failed" || s == "cancelled" {
					continue
				}
				tasks, err := a.store.GetTasksByStatus(ctx, s)
				if err != nil {
					return fmt.Errorf("list %s tasks: %w", s, err)
				}
				if len(tasks) == 0 {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\n%s:\n", s)
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tPHASE\tDUE\tTITLE")
				for _, t := range tasks {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.CurrentPhase, formatDueDate(t.DueDate), t.Title)
				}
				tw.Flush()
			}

			avg, n, err := a.store.AverageCompletedRunDuration(ctx, avgRunDurationSampleSize)
			if err != nil {
				return fmt.Errorf("average run duration: %w", err)
			}
			if n > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "\naverage run duration (last %d completed runs): %s\n", n, avg.Round(time.Second))
			}
			return nil
		},
	}

	cmd.Flags().BoolP("verbose", "v", false, "also list non-terminal tasks per status")
	return cmd
}
