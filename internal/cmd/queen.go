package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harrison/conductor/internal/queen"
)

func newQueenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queen",
		Short: "Run the scheduling orchestrator",
		Long:  "Run Queen's scheduling loop: admit queued tasks, spawn worker subprocesses, supervise their lifecycle, and react to choreography events until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			live, _ := cmd.Flags().GetBool("live")
			async, _ := cmd.Flags().GetBool("async")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			self, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve own executable path: %w", err)
			}

			cfg := queen.Config{
				MaxParallelPerRole:     a.cfg.Queen.MaxParallelPerRole,
				TaskRetryLimit:         a.cfg.Queen.TaskRetryLimit,
				StatusRefreshInterval:  a.cfg.Queen.StatusRefreshInterval,
				ZombieDetectionMinutes: a.cfg.Queen.ZombieDetectionMinutes,
				SimpleMode:             a.cfg.Queen.SimpleMode,
				Async:                  async,
				LiveOutput:             live,
			}
			q := queen.New(a.store, a.bus, a.log, cfg, queen.NewExecSpawner(self))

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case <-sigCh:
					a.log.Info("received interrupt, shutting down queen")
					cancel()
				case <-ctx.Done():
				}
			}()

			err = q.Start(ctx)
			if err != nil && errors.Is(err, context.Canceled) {
				os.Exit(130)
			}
			return err
		},
	}

	cmd.Flags().Bool("live", false, "stream spawned workers' output to this process's stdout/stderr")
	cmd.Flags().Bool("async", false, "use the cooperative errgroup-based monitor step instead of the sequential one")
	return cmd
}
