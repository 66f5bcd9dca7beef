package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/meeting-ingest/internal/jobs"
	"github.com/sells-group/meeting-ingest/internal/resilience"
)

var workerOnce bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process transcript and summary jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		switch cfg.Queue.Backend {
		case "temporal":
			h, err := env.handlers(false)
			if err != nil {
				return err
			}
			w := jobs.NewTemporalWorker(env.Temporal, cfg.Temporal.TaskQueue, h, worker.Options{
				MaxConcurrentActivityExecutionSize: cfg.Queue.Concurrency,
			})
			zap.L().Info("starting temporal worker", zap.String("task_queue", cfg.Temporal.TaskQueue))
			if err := w.Start(); err != nil {
				return eris.Wrap(err, "worker: start temporal worker")
			}
			<-ctx.Done()
			w.Stop()
			return nil
		case "none":
			return eris.New("worker: queue.backend is none, nothing to process")
		}

		h, err := env.handlers(true)
		if err != nil {
			return err
		}
		w := jobs.NewWorker(env.Store, h, jobs.WorkerConfig{
			Concurrency:  cfg.Queue.Concurrency,
			PollInterval: time.Duration(cfg.Queue.PollIntervalSecs) * time.Second,
			LeaseTimeout: time.Duration(cfg.Queue.LeaseTimeoutSecs) * time.Second,
			Backoff: resilience.RetryConfig{
				InitialBackoff: time.Duration(cfg.Queue.BackoffBaseSecs) * time.Second,
			},
		})

		if workerOnce {
			n, err := w.RunOnce(ctx)
			if err != nil {
				return err
			}
			zap.L().Info("processed jobs", zap.Int("count", n))
			return nil
		}

		return w.Run(ctx)
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "process one batch of due jobs and exit (store backend only)")
	rootCmd.AddCommand(workerCmd)
}
