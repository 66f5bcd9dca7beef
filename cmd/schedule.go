package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var scheduleRunNow bool

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run ingestion on the configured cron schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "schedule")
		if err != nil {
			return err
		}
		defer env.Close()

		orch := env.orchestrator()
		run := func() {
			stats, err := orch.Run(ctx)
			if err != nil {
				zap.L().Error("scheduled ingestion failed", zap.Error(err))
				return
			}
			zap.L().Info("scheduled ingestion complete",
				zap.Int("videos", stats.Videos),
				zap.Int("created", stats.Created),
				zap.Int("updated", stats.Updated),
				zap.Int("failed", stats.Failed),
			)
		}

		c, err := newScheduler(cfg.Schedule.Cron, run)
		if err != nil {
			return err
		}

		if scheduleRunNow {
			run()
		}
		return runScheduler(ctx, c)
	},
}

// newScheduler registers run on expr. Overlapping runs are skipped.
func newScheduler(expr string, run func()) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	if _, err := c.AddFunc(expr, run); err != nil {
		return nil, eris.Wrapf(err, "schedule: parse cron %q", expr)
	}
	return c, nil
}

// runScheduler starts c and blocks until ctx is done, then waits for any
// in-flight run to finish.
func runScheduler(ctx context.Context, c *cron.Cron) error {
	c.Start()
	for _, e := range c.Entries() {
		zap.L().Info("scheduler started", zap.Time("next_run", e.Next))
	}

	<-ctx.Done()
	zap.L().Info("stopping scheduler")
	<-c.Stop().Done()
	return nil
}

func init() {
	scheduleCmd.Flags().BoolVar(&scheduleRunNow, "now", false, "run one pass immediately before waiting for the schedule")
	rootCmd.AddCommand(scheduleCmd)
}
