package jobs

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/meeting-ingest/internal/model"
	"github.com/sells-group/meeting-ingest/internal/resilience"
	"github.com/sells-group/meeting-ingest/internal/store"
)

// Handler executes a single job.
type Handler interface {
	Handle(ctx context.Context, job model.Job) error
}

// WorkerConfig controls a Worker.
type WorkerConfig struct {
	Concurrency  int
	BatchSize    int
	PollInterval time.Duration
	// Backoff schedules the next attempt of a job that failed transiently.
	Backoff resilience.RetryConfig
	// LeaseTimeout is how long a job may stay running before another poll
	// hands it out again. Covers workers that died mid-job.
	LeaseTimeout time.Duration
}

// bookkeepingTimeout bounds the status update written after a job returns.
const bookkeepingTimeout = 10 * time.Second

// Worker polls the jobs table and runs claimed jobs with bounded
// concurrency. Delivery is at-least-once.
type Worker struct {
	store   store.Store
	handler Handler
	cfg     WorkerConfig
	now     func() time.Time
}

// NewWorker creates a worker draining st.
func NewWorker(st store.Store, handler Handler, cfg WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = cfg.Concurrency * 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Backoff.InitialBackoff <= 0 {
		cfg.Backoff.InitialBackoff = 30 * time.Second
	}
	if cfg.Backoff.MaxBackoff <= 0 {
		cfg.Backoff.MaxBackoff = time.Hour
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 30 * time.Minute
	}
	return &Worker{store: st, handler: handler, cfg: cfg, now: time.Now}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	zap.L().Info("jobs: worker started",
		zap.Int("concurrency", w.cfg.Concurrency),
		zap.Duration("poll_interval", w.cfg.PollInterval),
	)
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		n, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			zap.L().Error("jobs: poll failed", zap.Error(err))
		}
		// A full batch means more work is likely waiting.
		if n >= w.cfg.BatchSize && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			zap.L().Info("jobs: worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch of due jobs and runs it to completion. It returns
// the number of jobs claimed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	released, err := w.store.ReleaseStaleJobs(ctx, w.now().Add(-w.cfg.LeaseTimeout))
	if err != nil {
		return 0, eris.Wrap(err, "jobs: release stale")
	}
	if released > 0 {
		zap.L().Warn("jobs: released stale running jobs", zap.Int("count", released))
	}

	claimed, err := w.store.ClaimJobs(ctx, w.cfg.BatchSize, w.now())
	if err != nil {
		return 0, eris.Wrap(err, "jobs: claim")
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for _, job := range claimed {
		g.Go(func() error {
			w.process(gctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return len(claimed), nil
}

func (w *Worker) process(ctx context.Context, job model.Job) {
	log := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("video_id", job.VideoID),
		zap.Int("attempt", job.Attempts),
	)

	start := w.now()
	err := w.handler.Handle(ctx, job)

	// The outcome is recorded even when ctx was cancelled mid-job, otherwise
	// the row would stay running until its lease expires.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	if err == nil {
		if cerr := w.store.CompleteJob(bctx, job.ID); cerr != nil {
			log.Error("jobs: mark done failed", zap.Error(cerr))
			return
		}
		log.Info("jobs: done", zap.Duration("elapsed", w.now().Sub(start)))
		return
	}

	if ctx.Err() != nil {
		// Interrupted by shutdown: due again right away.
		if rerr := w.store.RetryJob(bctx, job.ID, err.Error(), w.now()); rerr != nil {
			log.Error("jobs: requeue interrupted job failed", zap.Error(rerr))
			return
		}
		log.Warn("jobs: interrupted, requeued", zap.Error(err))
		return
	}

	class := resilience.ClassifyError(err)
	if class == "transient" && job.CanRetry() {
		runAt := w.now().Add(resilience.Backoff(job.Attempts-1, w.cfg.Backoff))
		if rerr := w.store.RetryJob(bctx, job.ID, err.Error(), runAt); rerr != nil {
			log.Error("jobs: reschedule failed", zap.Error(rerr))
			return
		}
		log.Warn("jobs: will retry", zap.Time("run_at", runAt), zap.Error(err))
		return
	}

	if ferr := w.store.FailJob(bctx, job.ID, err.Error()); ferr != nil {
		log.Error("jobs: mark failed failed", zap.Error(ferr))
		return
	}
	log.Error("jobs: failed", zap.String("class", class), zap.Error(err))
}
