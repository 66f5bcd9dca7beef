package jobs

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/meeting-ingest/internal/model"
	"github.com/sells-group/meeting-ingest/internal/resilience"
	"github.com/sells-group/meeting-ingest/internal/summary"
	"github.com/sells-group/meeting-ingest/internal/transcript"
)

const testVideo = "dQw4w9WgXcQ"

func TestFetchTranscript_StoresAndQueuesSummary(t *testing.T) {
	s := newTestStore(t)
	m := seedMeeting(t, s, testVideo)
	q := &recordingQueue{}
	h := NewHandlers(s, returnsTranscript("Call to order."), nil, q)

	require.NoError(t, h.FetchTranscript(context.Background(), testVideo))

	got, err := s.GetMeetingByVideoID(context.Background(), testVideo)
	require.NoError(t, err)
	require.NotNil(t, got.Transcript)
	assert.Equal(t, "Call to order.", *got.Transcript)
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, []model.Job{SummaryJob(testVideo)}, q.jobs)
}

func TestFetchTranscript_AlreadyPresent(t *testing.T) {
	s := newTestStore(t)
	m := seedMeeting(t, s, testVideo)
	require.NoError(t, s.SetTranscript(context.Background(), m.ID, "existing"))
	fetcher := returnsTranscript("new")
	q := &recordingQueue{}
	h := NewHandlers(s, fetcher, nil, q)

	require.NoError(t, h.FetchTranscript(context.Background(), testVideo))
	assert.Equal(t, 0, fetcher.Calls())
	assert.Empty(t, q.jobs)

	got, err := s.GetMeetingByVideoID(context.Background(), testVideo)
	require.NoError(t, err)
	assert.Equal(t, "existing", *got.Transcript)
}

func TestFetchTranscript_Disabled(t *testing.T) {
	s := newTestStore(t)
	seedMeeting(t, s, testVideo)
	fetcher := &fakeTranscripts{fn: func(int) (*string, error) { return nil, transcript.ErrDisabled }}
	h := NewHandlers(s, fetcher, nil, nil)

	err := h.FetchTranscript(context.Background(), testVideo)
	require.Error(t, err)
	assert.ErrorIs(t, err, transcript.ErrDisabled)
	assert.True(t, resilience.IsPermanent(err))
	assert.Equal(t, "permanent", resilience.ClassifyError(err))
}

func TestFetchTranscript_OtherErrorIsTransient(t *testing.T) {
	s := newTestStore(t)
	seedMeeting(t, s, testVideo)
	fetcher := &fakeTranscripts{fn: func(int) (*string, error) { return nil, eris.New("helper crashed") }}
	h := NewHandlers(s, fetcher, nil, nil)

	err := h.FetchTranscript(context.Background(), testVideo)
	require.Error(t, err)
	assert.Equal(t, "transient", resilience.ClassifyError(err))
}

func TestFetchTranscript_UnavailableIsDone(t *testing.T) {
	s := newTestStore(t)
	seedMeeting(t, s, testVideo)
	q := &recordingQueue{}
	h := NewHandlers(s, transcript.Unavailable{}, nil, q)

	require.NoError(t, h.FetchTranscript(context.Background(), testVideo))
	assert.Empty(t, q.jobs)

	got, err := s.GetMeetingByVideoID(context.Background(), testVideo)
	require.NoError(t, err)
	assert.Nil(t, got.Transcript)
}

func TestFetchTranscript_UnknownMeeting(t *testing.T) {
	s := newTestStore(t)
	h := NewHandlers(s, returnsTranscript("x"), nil, nil)

	err := h.FetchTranscript(context.Background(), testVideo)
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
}

func TestFetchTranscript_EnqueueFailureKeepsTranscript(t *testing.T) {
	s := newTestStore(t)
	seedMeeting(t, s, testVideo)
	q := &recordingQueue{err: eris.New("queue down")}
	h := NewHandlers(s, returnsTranscript("text"), nil, q)

	require.NoError(t, h.FetchTranscript(context.Background(), testVideo))
	got, err := s.GetMeetingByVideoID(context.Background(), testVideo)
	require.NoError(t, err)
	assert.True(t, got.HasTranscript())
}

func TestGenerateSummary_Stores(t *testing.T) {
	s := newTestStore(t)
	m := seedMeeting(t, s, testVideo)
	require.NoError(t, s.SetTranscript(context.Background(), m.ID, "Budget approved."))
	sum := &fakeSummarizer{text: "- Budget approved"}
	h := NewHandlers(s, nil, sum, nil)

	require.NoError(t, h.GenerateSummary(context.Background(), testVideo))
	assert.Equal(t, []string{"Budget approved."}, sum.inputs)

	got, err := s.GetMeetingByVideoID(context.Background(), testVideo)
	require.NoError(t, err)
	require.NotNil(t, got.Summary)
	assert.Equal(t, "- Budget approved", *got.Summary)
}

func TestGenerateSummary_NoTranscript(t *testing.T) {
	s := newTestStore(t)
	seedMeeting(t, s, testVideo)
	sum := &fakeSummarizer{text: "x"}
	h := NewHandlers(s, nil, sum, nil)

	require.NoError(t, h.GenerateSummary(context.Background(), testVideo))
	assert.Equal(t, 0, sum.Calls())
}

func TestGenerateSummary_AlreadySummarized(t *testing.T) {
	s := newTestStore(t)
	m := seedMeeting(t, s, testVideo)
	ctx := context.Background()
	require.NoError(t, s.SetTranscript(ctx, m.ID, "text"))
	require.NoError(t, s.SetSummary(ctx, m.ID, "done"))
	sum := &fakeSummarizer{text: "again"}
	h := NewHandlers(s, nil, sum, nil)

	require.NoError(t, h.GenerateSummary(ctx, testVideo))
	assert.Equal(t, 0, sum.Calls())
}

func TestGenerateSummary_ErrorClassification(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class string
	}{
		{"empty transcript", summary.ErrEmptyTranscript, "permanent"},
		{"bad request", eris.New("invalid_request_error"), "permanent"},
		{"transient", resilience.NewTransientError(eris.New("overloaded"), 529), "transient"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			m := seedMeeting(t, s, testVideo)
			require.NoError(t, s.SetTranscript(context.Background(), m.ID, "text"))
			h := NewHandlers(s, nil, &fakeSummarizer{err: tt.err}, nil)

			err := h.GenerateSummary(context.Background(), testVideo)
			require.Error(t, err)
			assert.Equal(t, tt.class, resilience.ClassifyError(err))
		})
	}
}

func TestGenerateSummary_NoSummarizer(t *testing.T) {
	s := newTestStore(t)
	m := seedMeeting(t, s, testVideo)
	require.NoError(t, s.SetTranscript(context.Background(), m.ID, "text"))
	h := NewHandlers(s, nil, nil, nil)

	err := h.GenerateSummary(context.Background(), testVideo)
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
}

func TestHandle_UnknownKind(t *testing.T) {
	h := NewHandlers(newTestStore(t), nil, nil, nil)
	err := h.Handle(context.Background(), model.Job{Kind: "reindex", VideoID: testVideo})
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
}
