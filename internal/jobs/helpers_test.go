package jobs

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/meeting-ingest/internal/model"
	"github.com/sells-group/meeting-ingest/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedMeeting(t *testing.T, s store.Store, videoID string) *model.Meeting {
	t.Helper()
	ctx := context.Background()
	muni := &model.Municipality{Name: "Gilbert", Slug: "gilbert-" + videoID, PlaylistURL: "https://www.youtube.com/playlist?list=PLx"}
	require.NoError(t, s.CreateMunicipality(ctx, muni))
	m := &model.Meeting{
		VideoID:        videoID,
		MunicipalityID: muni.ID,
		MeetingType:    model.MeetingTypeCouncil,
		HeldOn:         time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC),
		VideoURL:       model.WatchURL(videoID),
		Title:          "Town Council Meeting",
	}
	require.NoError(t, s.CreateMeeting(ctx, m))
	return m
}

func ptr[T any](v T) *T { return &v }

// fakeTranscripts returns canned results and counts calls.
type fakeTranscripts struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (*string, error)
}

func (f *fakeTranscripts) Fetch(_ context.Context, _ string) (*string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(call)
}

func (f *fakeTranscripts) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func returnsTranscript(text string) *fakeTranscripts {
	return &fakeTranscripts{fn: func(int) (*string, error) { return ptr(text), nil }}
}

type fakeSummarizer struct {
	mu     sync.Mutex
	inputs []string
	text   string
	err    error
}

func (f *fakeSummarizer) Summarize(_ context.Context, transcript string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, transcript)
	return f.text, f.err
}

func (f *fakeSummarizer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

// recordingQueue captures enqueued jobs.
type recordingQueue struct {
	mu   sync.Mutex
	jobs []model.Job
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job model.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return q.err
}
