package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/rclonesync/internal/logger"
	"github.com/Ning0612/rclonesync/internal/scheduler"
	"github.com/Ning0612/rclonesync/internal/service"
)

func newScheduleCmd(a *app) *cobra.Command {
	var (
		interval  time.Duration
		skipFirst bool
	)

	cmd := &cobra.Command{
		Use:   "schedule --interval <duration> <source> <destination> [rclone flags...]",
		Short: "Sync a pair repeatedly until interrupted",
		Long: `schedule runs a full sync of the pair every --interval until SIGINT or
SIGTERM. Each run gets its own run id, backup directory and lock; a run
that finds the pair locked by another process is counted as failed and the
loop carries on.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive, got %s", interval)
			}

			cfg, err := a.setup(cmd, args, false)
			if err != nil {
				return a.configFailure(args, err)
			}

			deps, closeHistory := a.deps(cfg)
			defer closeHistory()

			daemon, err := service.NewDaemonService(cfg, deps)
			if err != nil {
				return a.configFailure(args, err)
			}

			ctx := cmd.Context()
			if err := daemon.Start(ctx, scheduler.Config{Interval: interval, SkipInitialRun: skipFirst}); err != nil {
				return err
			}
			daemon.Wait()

			if stats := daemon.Status().SchedulerStats; stats != nil {
				logger.Get().Info("schedule stopped",
					"total", stats.TotalRuns,
					"successful", stats.SuccessfulRuns,
					"failed", stats.FailedRuns,
				)
			}
			return nil
		},
	}

	cmd.Flags().SetInterspersed(false)
	cmd.Flags().DurationVarP(&interval, "interval", "i", 0, "time between runs, e.g. 15m")
	cmd.Flags().BoolVar(&skipFirst, "skip-first", false, "wait one interval before the first run")
	return cmd
}
