package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/meeting-ingest/internal/model"
	"github.com/sells-group/meeting-ingest/internal/resilience"
	"github.com/sells-group/meeting-ingest/internal/transcript"
)

// DefaultTaskQueue is the Temporal task queue meeting workflows run on.
const DefaultTaskQueue = "meeting-ingest"

// Application error types that Temporal must not retry.
const (
	ErrTypeTranscriptsDisabled = "TranscriptsDisabled"
	ErrTypePermanent           = "PermanentFailure"
)

// WorkflowInput starts a MeetingWorkflow.
type WorkflowInput struct {
	Kind    model.JobKind `json:"kind"`
	VideoID string        `json:"video_id"`
}

// WorkflowID is the deterministic workflow id for a job, so a second start
// for the same pending work attaches to the running execution.
func WorkflowID(kind model.JobKind, videoID string) string {
	return fmt.Sprintf("meeting-%s-%s", kind, videoID)
}

// MeetingWorkflow fetches the transcript (for transcript jobs) and then
// summarizes it.
func MeetingWorkflow(ctx workflow.Context, in WorkflowInput) error {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        30 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Hour,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{ErrTypeTranscriptsDisabled, ErrTypePermanent},
		},
	})

	var a *Activities
	if in.Kind == model.JobKindFetchTranscript {
		if err := workflow.ExecuteActivity(ctx, a.FetchTranscript, in.VideoID).Get(ctx, nil); err != nil {
			return err
		}
	}
	return workflow.ExecuteActivity(ctx, a.GenerateSummary, in.VideoID).Get(ctx, nil)
}

// Activities adapts Handlers to Temporal activities.
type Activities struct {
	Handlers *Handlers
}

// FetchTranscript runs Handlers.FetchTranscript as an activity.
func (a *Activities) FetchTranscript(ctx context.Context, videoID string) error {
	return toActivityError(a.Handlers.FetchTranscript(ctx, videoID))
}

// GenerateSummary runs Handlers.GenerateSummary as an activity.
func (a *Activities) GenerateSummary(ctx context.Context, videoID string) error {
	return toActivityError(a.Handlers.GenerateSummary(ctx, videoID))
}

func toActivityError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transcript.ErrDisabled):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeTranscriptsDisabled, err)
	case resilience.IsPermanent(err):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypePermanent, err)
	default:
		return err
	}
}

// TemporalQueue starts a MeetingWorkflow per job.
type TemporalQueue struct {
	client    client.Client
	taskQueue string
}

// NewTemporalQueue creates a queue on taskQueue (DefaultTaskQueue if empty).
func NewTemporalQueue(c client.Client, taskQueue string) *TemporalQueue {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &TemporalQueue{client: c, taskQueue: taskQueue}
}

// Enqueue implements Queue. Starting a workflow whose id is already running
// returns the existing run instead of an error.
func (q *TemporalQueue) Enqueue(ctx context.Context, job model.Job) error {
	if job.VideoID == "" {
		return eris.New("jobs: enqueue: video id is required")
	}
	opts := client.StartWorkflowOptions{
		ID:        WorkflowID(job.Kind, job.VideoID),
		TaskQueue: q.taskQueue,
	}
	run, err := q.client.ExecuteWorkflow(ctx, opts, MeetingWorkflow, WorkflowInput{Kind: job.Kind, VideoID: job.VideoID})
	if err != nil {
		return eris.Wrapf(err, "jobs: start workflow %s", opts.ID)
	}
	zap.L().Info("jobs: workflow started",
		zap.String("workflow_id", opts.ID),
		zap.String("run_id", run.GetRunID()),
	)
	return nil
}

// NewTemporalWorker registers MeetingWorkflow and its activities on a worker
// for taskQueue.
func NewTemporalWorker(c client.Client, taskQueue string, h *Handlers, opts worker.Options) worker.Worker {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	w := worker.New(c, taskQueue, opts)
	w.RegisterWorkflow(MeetingWorkflow)
	w.RegisterActivity(&Activities{Handlers: h})
	return w
}
