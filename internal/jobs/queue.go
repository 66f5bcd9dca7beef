// Package jobs runs the downstream work that follows ingestion: fetching a
// meeting's transcript and summarizing it. Work is queued either in the
// catalog's own jobs table or as Temporal workflows.
package jobs

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/meeting-ingest/internal/model"
	"github.com/sells-group/meeting-ingest/internal/store"
)

// Queue accepts jobs for asynchronous execution. Enqueueing the same kind of
// work for a video that already has it pending is a no-op.
type Queue interface {
	Enqueue(ctx context.Context, job model.Job) error
}

// TranscriptJob builds a transcript job for a video.
func TranscriptJob(videoID string) model.Job {
	return model.Job{Kind: model.JobKindFetchTranscript, VideoID: videoID}
}

// SummaryJob builds a summary job for a video.
func SummaryJob(videoID string) model.Job {
	return model.Job{Kind: model.JobKindGenerateSummary, VideoID: videoID}
}

// StoreQueue persists jobs in the catalog's jobs table. A Worker drains it.
type StoreQueue struct {
	store       store.Store
	maxAttempts int
}

// NewStoreQueue creates a queue backed by st. maxAttempts <= 0 keeps the
// store default.
func NewStoreQueue(st store.Store, maxAttempts int) *StoreQueue {
	return &StoreQueue{store: st, maxAttempts: maxAttempts}
}

// Enqueue implements Queue.
func (q *StoreQueue) Enqueue(ctx context.Context, job model.Job) error {
	if job.VideoID == "" {
		return eris.New("jobs: enqueue: video id is required")
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.maxAttempts
	}
	inserted, err := q.store.EnqueueJob(ctx, &job)
	if err != nil {
		return eris.Wrapf(err, "jobs: enqueue %s", job.Kind)
	}
	if !inserted {
		zap.L().Debug("jobs: already pending",
			zap.String("kind", string(job.Kind)),
			zap.String("video_id", job.VideoID),
		)
		return nil
	}
	zap.L().Info("jobs: enqueued",
		zap.String("kind", string(job.Kind)),
		zap.String("video_id", job.VideoID),
		zap.String("job_id", job.ID),
	)
	return nil
}
