package jobs

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/meeting-ingest/internal/model"
	"github.com/sells-group/meeting-ingest/internal/resilience"
	"github.com/sells-group/meeting-ingest/internal/store"
	"github.com/sells-group/meeting-ingest/internal/summary"
	"github.com/sells-group/meeting-ingest/internal/transcript"
	"github.com/sells-group/meeting-ingest/pkg/anthropic"
)

// Summarizer produces a summary for a transcript.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Handlers holds the job implementations. Both handlers re-read the meeting
// first and return early when the work is already done, so a job may be
// delivered more than once.
type Handlers struct {
	store       store.Store
	transcripts transcript.Fetcher
	summarizer  Summarizer
	queue       Queue
}

// NewHandlers creates the job handlers. queue receives the summary job that
// follows a stored transcript; pass nil when the caller chains the steps
// itself, as MeetingWorkflow does. A nil summarizer makes summary jobs fail
// permanently.
func NewHandlers(st store.Store, transcripts transcript.Fetcher, summarizer Summarizer, queue Queue) *Handlers {
	return &Handlers{store: st, transcripts: transcripts, summarizer: summarizer, queue: queue}
}

// Handle dispatches a job by kind.
func (h *Handlers) Handle(ctx context.Context, job model.Job) error {
	switch job.Kind {
	case model.JobKindFetchTranscript:
		return h.FetchTranscript(ctx, job.VideoID)
	case model.JobKindGenerateSummary:
		return h.GenerateSummary(ctx, job.VideoID)
	default:
		return resilience.NewPermanentError(eris.Errorf("jobs: unknown job kind %q", job.Kind))
	}
}

// FetchTranscript stores the transcript for a meeting that lacks one and
// queues its summary. Disabled captions fail permanently. A transcript the
// collaborator cannot produce here is left for manual upload.
func (h *Handlers) FetchTranscript(ctx context.Context, videoID string) error {
	log := zap.L().With(zap.String("job", string(model.JobKindFetchTranscript)), zap.String("video_id", videoID))

	m, err := h.meeting(ctx, videoID)
	if err != nil {
		return err
	}
	if m.HasTranscript() {
		log.Debug("jobs: transcript already present")
		return nil
	}

	text, err := h.transcripts.Fetch(ctx, videoID)
	switch {
	case errors.Is(err, transcript.ErrDisabled):
		return resilience.NewPermanentError(err)
	case err != nil:
		return resilience.NewTransientError(eris.Wrap(err, "jobs: fetch transcript"), 0)
	}
	if text == nil || strings.TrimSpace(*text) == "" {
		log.Info("jobs: transcript unavailable, awaiting manual upload")
		return nil
	}

	if err := h.store.SetTranscript(ctx, m.ID, *text); err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "jobs: store transcript"), 0)
	}
	log.Info("jobs: transcript stored", zap.Int("chars", len(*text)))

	if h.queue != nil && !m.HasSummary() {
		if err := h.queue.Enqueue(ctx, SummaryJob(videoID)); err != nil {
			// The transcript is saved; backfill picks the summary up later.
			log.Warn("jobs: enqueue summary failed", zap.Error(err))
		}
	}
	return nil
}

// GenerateSummary summarizes a meeting's transcript. Meetings without a
// transcript, or with a summary already, are left alone.
func (h *Handlers) GenerateSummary(ctx context.Context, videoID string) error {
	log := zap.L().With(zap.String("job", string(model.JobKindGenerateSummary)), zap.String("video_id", videoID))

	m, err := h.meeting(ctx, videoID)
	if err != nil {
		return err
	}
	if !m.HasTranscript() {
		log.Debug("jobs: no transcript to summarize")
		return nil
	}
	if m.HasSummary() {
		log.Debug("jobs: summary already present")
		return nil
	}
	if h.summarizer == nil {
		return resilience.NewPermanentError(eris.New("jobs: summarizer not configured"))
	}

	text, err := h.summarizer.Summarize(ctx, *m.Transcript)
	if err != nil {
		if errors.Is(err, summary.ErrEmptyTranscript) || !(anthropic.IsRetryable(err) || resilience.IsTransient(err)) {
			return resilience.NewPermanentError(err)
		}
		return resilience.NewTransientError(err, 0)
	}

	if err := h.store.SetSummary(ctx, m.ID, text); err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "jobs: store summary"), 0)
	}
	log.Info("jobs: summary stored")
	return nil
}

func (h *Handlers) meeting(ctx context.Context, videoID string) (*model.Meeting, error) {
	m, err := h.store.GetMeetingByVideoID(ctx, videoID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, resilience.NewPermanentError(eris.Wrapf(err, "jobs: meeting %s", videoID))
	}
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "jobs: load meeting %s", videoID), 0)
	}
	return m, nil
}
