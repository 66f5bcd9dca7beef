package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/meeting-ingest/internal/model"
	"github.com/sells-group/meeting-ingest/internal/store"
)

type recordingQueue struct {
	jobs []model.Job
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job model.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func seedMeetings(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	muni := &model.Municipality{Name: "Gilbert", Slug: "gilbert", PlaylistURL: "https://www.youtube.com/playlist?list=PLx"}
	require.NoError(t, st.CreateMunicipality(ctx, muni))

	for i, id := range []string{"aaaaaaaaaaa", "bbbbbbbbbbb", "ccccccccccc"} {
		m := &model.Meeting{
			VideoID:        id,
			MunicipalityID: muni.ID,
			MeetingType:    model.MeetingTypeCouncil,
			HeldOn:         time.Date(2025, 1, 10+i, 0, 0, 0, 0, time.UTC),
			VideoURL:       model.WatchURL(id),
			Title:          "Town Council Meeting",
		}
		require.NoError(t, st.CreateMeeting(ctx, m))
		switch id {
		case "bbbbbbbbbbb":
			require.NoError(t, st.SetTranscript(ctx, m.ID, "call to order"))
		case "ccccccccccc":
			require.NoError(t, st.SetTranscript(ctx, m.ID, "call to order"))
			require.NoError(t, st.SetSummary(ctx, m.ID, "- approved minutes"))
		}
	}
}

func TestBackfill(t *testing.T) {
	cfg = sqliteConfig(t)
	st, err := openStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	seedMeetings(t, st)

	q := &recordingQueue{}
	transcripts, summaries, err := backfill(context.Background(), st, q, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, transcripts)
	assert.Equal(t, 1, summaries)

	require.Len(t, q.jobs, 2)
	assert.Equal(t, model.JobKindFetchTranscript, q.jobs[0].Kind)
	assert.Equal(t, "aaaaaaaaaaa", q.jobs[0].VideoID)
	assert.Equal(t, model.JobKindGenerateSummary, q.jobs[1].Kind)
	assert.Equal(t, "bbbbbbbbbbb", q.jobs[1].VideoID)
}

func TestBackfill_EnqueueErrorsSkipped(t *testing.T) {
	cfg = sqliteConfig(t)
	st, err := openStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	seedMeetings(t, st)

	transcripts, summaries, err := backfill(context.Background(), st, &recordingQueue{err: errors.New("queue down")}, 100)
	require.NoError(t, err)
	assert.Zero(t, transcripts)
	assert.Zero(t, summaries)
}

func TestBackfill_StoreQueueDedupes(t *testing.T) {
	cfg = sqliteConfig(t)
	env, err := initEnv(context.Background(), "ingest")
	require.NoError(t, err)
	defer env.Close()
	seedMeetings(t, env.Store)

	for i := 0; i < 2; i++ {
		_, _, err := backfill(context.Background(), env.Store, env.Queue, 100)
		require.NoError(t, err)
	}

	claimed, err := env.Store.ClaimJobs(context.Background(), 10, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
}
