package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harrison/conductor/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker <role>",
		Short: "Run a single (task, phase) assignment in isolation and exit",
		Long:  "Execute one worker assignment: prepare a workspace, invoke the agent, classify the outcome, persist it, and exit. Normally re-exec'd by queen, not run by hand.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			oneShot, _ := cmd.Flags().GetBool("one-shot")
			if !oneShot {
				return fmt.Errorf("worker currently only supports --one-shot invocation")
			}

			taskID, _ := cmd.Flags().GetString("task-id")
			runID, _ := cmd.Flags().GetString("run-id")
			phase, _ := cmd.Flags().GetString("phase")
			mode, _ := cmd.Flags().GetString("mode")
			workspace, _ := cmd.Flags().GetString("workspace")
			live, _ := cmd.Flags().GetBool("live")

			if taskID == "" || runID == "" || phase == "" {
				return fmt.Errorf("--task-id, --run-id, and --phase are required")
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := worker.Config{
				WorkerID:          args[0],
				TaskID:            taskID,
				RunID:             runID,
				Phase:             phase,
				Mode:              mode,
				ExplicitWorkspace: workspace,
				LiveOutput:        live,
				WorkspacesRoot:    a.cfg.Worker.WorkspacesRoot,
				AgentBinaryPath:   a.cfg.Worker.AgentBinaryPath,
				AgentBinaryName:   a.cfg.Worker.AgentBinaryName,
				RunLogDir:         a.cfg.Worker.RunLogDir,
			}

			result, err := worker.Run(cmd.Context(), cfg, a.store, a.bus, a.log)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "worker: %v\n", err)
				os.Exit(2)
			}
			if !result.Success {
				fmt.Fprintf(cmd.ErrOrStderr(), "worker: assignment failed: %s\n", result.Note)
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().Bool("one-shot", false, "run a single assignment and exit (only supported mode)")
	cmd.Flags().String("task-id", "", "task to execute (required)")
	cmd.Flags().String("run-id", "", "run row to report results under (required)")
	cmd.Flags().String("phase", "", "phase to execute (required)")
	cmd.Flags().String("mode", "", "workspace mode: fresh or repo (default repo)")
	cmd.Flags().String("workspace", "", "explicit workspace path, overriding discovery")
	cmd.Flags().Bool("live", false, "stream agent output to this process's stdout")
	return cmd
}
