package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/meeting-ingest/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func ptr[T any](v T) *T { return &v }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seedMunicipality(t *testing.T, s Store, name, slug string) *model.Municipality {
	t.Helper()
	m := &model.Municipality{Name: name, Slug: slug, PlaylistURL: "https://www.youtube.com/playlist?list=" + slug}
	require.NoError(t, s.CreateMunicipality(context.Background(), m))
	return m
}

func seedMeeting(t *testing.T, s Store, muni *model.Municipality, videoID string, heldOn time.Time, mt model.MeetingType) *model.Meeting {
	t.Helper()
	m := &model.Meeting{
		VideoID:        videoID,
		MunicipalityID: muni.ID,
		MeetingType:    mt,
		HeldOn:         heldOn,
		VideoURL:       model.WatchURL(videoID),
		Title:          "Meeting " + videoID,
	}
	require.NoError(t, s.CreateMeeting(context.Background(), m))
	return m
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("MunicipalityCreateAndGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		m := seedMunicipality(t, s, "Gilbert", "gilbert")
		assert.NotEmpty(t, m.ID)

		got, err := s.GetMunicipalityBySlug(ctx, "gilbert")
		require.NoError(t, err)
		assert.Equal(t, m.ID, got.ID)
		assert.Equal(t, "Gilbert", got.Name)
		assert.Equal(t, m.PlaylistURL, got.PlaylistURL)
	})

	t.Run("MunicipalityDuplicateSlug", func(t *testing.T) {
		s := newStore(t)
		seedMunicipality(t, s, "Gilbert", "gilbert")

		err := s.CreateMunicipality(context.Background(), &model.Municipality{Name: "Other", Slug: "gilbert", PlaylistURL: "x"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDuplicate))
	})

	t.Run("MunicipalityNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetMunicipalityBySlug(context.Background(), "nowhere")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("ListMunicipalitiesOrderedByName", func(t *testing.T) {
		s := newStore(t)
		seedMunicipality(t, s, "Scottsdale", "scottsdale")
		seedMunicipality(t, s, "Chandler", "chandler")
		seedMunicipality(t, s, "Phoenix", "phoenix")

		got, err := s.ListMunicipalities(context.Background())
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "Chandler", got[0].Name)
		assert.Equal(t, "Phoenix", got[1].Name)
		assert.Equal(t, "Scottsdale", got[2].Name)
	})

	t.Run("UpsertMunicipalities", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seedMunicipality(t, s, "Gilbert", "gilbert")

		_, err := s.UpsertMunicipalities(ctx, []model.Municipality{
			{Name: "Town of Gilbert", Slug: "gilbert", PlaylistURL: "https://new"},
			{Name: "Mesa", Slug: "mesa", PlaylistURL: "https://mesa"},
		})
		require.NoError(t, err)

		all, err := s.ListMunicipalities(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)

		g, err := s.GetMunicipalityBySlug(ctx, "gilbert")
		require.NoError(t, err)
		assert.Equal(t, "Town of Gilbert", g.Name)
		assert.Equal(t, "https://new", g.PlaylistURL)
	})

	t.Run("DeleteMunicipalityCascades", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		muni := seedMunicipality(t, s, "Gilbert", "gilbert")
		seedMeeting(t, s, muni, "AAAAAAAAAAA", day(2025, 1, 5), model.MeetingTypeCouncil)

		require.NoError(t, s.DeleteMunicipality(ctx, muni.ID))

		_, err := s.GetMeetingByVideoID(ctx, "AAAAAAAAAAA")
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.True(t, errors.Is(s.DeleteMunicipality(ctx, muni.ID), ErrNotFound))
	})

	t.Run("MeetingCreateAndGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		muni := seedMunicipality(t, s, "Gilbert", "gilbert")

		m := &model.Meeting{
			VideoID:         "AAAAAAAAAAA",
			MunicipalityID:  muni.ID,
			MeetingType:     model.MeetingTypeCouncil,
			HeldOn:          time.Date(2025, 1, 5, 19, 0, 0, 0, time.UTC),
			VideoURL:        model.WatchURL("AAAAAAAAAAA"),
			Title:           "City Council Meeting - January 5, 2025",
			DurationSeconds: ptr(3600),
			ChannelName:     ptr("Gilbert TV"),
		}
		require.NoError(t, s.CreateMeeting(ctx, m))
		assert.NotEmpty(t, m.ID)

		got, err := s.GetMeetingByVideoID(ctx, "AAAAAAAAAAA")
		require.NoError(t, err)
		assert.Equal(t, m.ID, got.ID)
		assert.Equal(t, day(2025, 1, 5), got.HeldOn)
		assert.Equal(t, model.MeetingTypeCouncil, got.MeetingType)
		require.NotNil(t, got.DurationSeconds)
		assert.Equal(t, 3600, *got.DurationSeconds)
		assert.Equal(t, "Gilbert TV", *got.ChannelName)
		assert.Nil(t, got.Description)
		assert.Nil(t, got.Transcript)

		joined, err := s.GetMeeting(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, "Gilbert", joined.MunicipalityName)
		assert.Equal(t, "gilbert", joined.MunicipalitySlug)
	})

	t.Run("MeetingVideoIDUnique", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		muni := seedMunicipality(t, s, "Gilbert", "gilbert")
		seedMeeting(t, s, muni, "AAAAAAAAAAA", day(2025, 1, 5), model.MeetingTypeCouncil)

		err := s.CreateMeeting(ctx, &model.Meeting{
			VideoID: "AAAAAAAAAAA", MunicipalityID: muni.ID, MeetingType: model.MeetingTypeOther,
			HeldOn: day(2025, 1, 6), VideoURL: "x", Title: "dup",
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDuplicate))
	})

	t.Run("MeetingNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetMeetingByVideoID(context.Background(), "missing")
		assert.True(t, errors.Is(err, ErrNotFound))
		_, err = s.GetMeeting(context.Background(), "missing")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("UpdateMeetingPatch", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		muni := seedMunicipality(t, s, "Gilbert", "gilbert")
		m := seedMeeting(t, s, muni, "AAAAAAAAAAA", day(2025, 1, 5), model.MeetingTypeCouncil)
		require.NoError(t, s.SetTranscript(ctx, m.ID, "minutes"))

		err := s.UpdateMeeting(ctx, m.ID, model.MeetingPatch{
			HeldOn:          ptr(day(2025, 2, 1)),
			DurationSeconds: ptr(42),
			Description:     ptr(""),
		})
		require.NoError(t, err)

		got, err := s.GetMeetingByVideoID(ctx, "AAAAAAAAAAA")
		require.NoError(t, err)
		assert.Equal(t, day(2025, 2, 1), got.HeldOn)
		assert.Equal(t, 42, *got.DurationSeconds)
		require.NotNil(t, got.Description)
		assert.Equal(t, "", *got.Description)
		assert.Nil(t, got.ChannelName)
		assert.Equal(t, "minutes", *got.Transcript)

		assert.NoError(t, s.UpdateMeeting(ctx, m.ID, model.MeetingPatch{}))
		assert.True(t, errors.Is(s.UpdateMeeting(ctx, "missing", model.MeetingPatch{DurationSeconds: ptr(1)}), ErrNotFound))
	})

	t.Run("TranscriptAndSummary", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		muni := seedMunicipality(t, s, "Gilbert", "gilbert")
		a := seedMeeting(t, s, muni, "AAAAAAAAAAA", day(2025, 1, 5), model.MeetingTypeCouncil)
		b := seedMeeting(t, s, muni, "BBBBBBBBBBB", day(2025, 1, 6), model.MeetingTypeCouncil)
		c := seedMeeting(t, s, muni, "CCCCCCCCCCC", day(2025, 1, 7), model.MeetingTypeCouncil)

		require.NoError(t, s.SetTranscript(ctx, a.ID, "text a"))
		require.NoError(t, s.SetTranscript(ctx, b.ID, "text b"))
		require.NoError(t, s.SetSummary(ctx, b.ID, "summary b"))
		require.NoError(t, s.SetTranscript(ctx, c.ID, "   "))

		missingTranscript, err := s.MeetingsMissingTranscript(ctx, 100)
		require.NoError(t, err)
		require.Len(t, missingTranscript, 1)
		assert.Equal(t, "CCCCCCCCCCC", missingTranscript[0].VideoID)

		missingSummary, err := s.MeetingsMissingSummary(ctx, 100)
		require.NoError(t, err)
		require.Len(t, missingSummary, 1)
		assert.Equal(t, "AAAAAAAAAAA", missingSummary[0].VideoID)

		assert.True(t, errors.Is(s.SetTranscript(ctx, "missing", "x"), ErrNotFound))
		assert.True(t, errors.Is(s.SetSummary(ctx, "missing", "x"), ErrNotFound))
	})

	t.Run("MissingTranscriptLimit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		muni := seedMunicipality(t, s, "Gilbert", "gilbert")
		seedMeeting(t, s, muni, "AAAAAAAAAAA", day(2025, 1, 5), model.MeetingTypeCouncil)
		seedMeeting(t, s, muni, "BBBBBBBBBBB", day(2025, 1, 9), model.MeetingTypeCouncil)

		got, err := s.MeetingsMissingTranscript(ctx, 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "BBBBBBBBBBB", got[0].VideoID, "most recent first")
	})

	t.Run("ListMeetingsSortingAndPaging", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		gilbert := seedMunicipality(t, s, "Gilbert", "gilbert")
		chandler := seedMunicipality(t, s, "Chandler", "chandler")
		seedMeeting(t, s, gilbert, "AAAAAAAAAAA", day(2025, 1, 5), model.MeetingTypePlanning)
		seedMeeting(t, s, chandler, "BBBBBBBBBBB", day(2025, 3, 1), model.MeetingTypeCouncil)
		seedMeeting(t, s, gilbert, "CCCCCCCCCCC", day(2025, 2, 1), model.MeetingTypeWorkSession)

		got, total, err := s.ListMeetings(ctx, MeetingFilter{})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, got, 3)
		assert.Equal(t, []string{"BBBBBBBBBBB", "CCCCCCCCCCC", "AAAAAAAAAAA"}, videoIDs(got))

		got, _, err = s.ListMeetings(ctx, MeetingFilter{Sort: SortDate, Direction: "asc"})
		require.NoError(t, err)
		assert.Equal(t, []string{"AAAAAAAAAAA", "CCCCCCCCCCC", "BBBBBBBBBBB"}, videoIDs(got))

		got, _, err = s.ListMeetings(ctx, MeetingFilter{Sort: SortMeetingType, Direction: "asc"})
		require.NoError(t, err)
		assert.Equal(t, []string{"BBBBBBBBBBB", "AAAAAAAAAAA", "CCCCCCCCCCC"}, videoIDs(got))

		got, _, err = s.ListMeetings(ctx, MeetingFilter{Sort: SortMunicipality, Direction: "asc"})
		require.NoError(t, err)
		assert.Equal(t, []string{"BBBBBBBBBBB", "CCCCCCCCCCC", "AAAAAAAAAAA"}, videoIDs(got))
		assert.Equal(t, "Chandler", got[0].MunicipalityName)

		got, total, err = s.ListMeetings(ctx, MeetingFilter{Page: 2, PerPage: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Equal(t, []string{"AAAAAAAAAAA"}, videoIDs(got))

		got, total, err = s.ListMeetings(ctx, MeetingFilter{MunicipalityID: gilbert.ID})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Equal(t, []string{"CCCCCCCCCCC", "AAAAAAAAAAA"}, videoIDs(got))
	})

	t.Run("EnqueueCollapsesPendingDuplicates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		inserted, err := s.EnqueueJob(ctx, &model.Job{Kind: model.JobKindFetchTranscript, VideoID: "AAAAAAAAAAA"})
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = s.EnqueueJob(ctx, &model.Job{Kind: model.JobKindFetchTranscript, VideoID: "AAAAAAAAAAA"})
		require.NoError(t, err)
		assert.False(t, inserted)

		inserted, err = s.EnqueueJob(ctx, &model.Job{Kind: model.JobKindGenerateSummary, VideoID: "AAAAAAAAAAA"})
		require.NoError(t, err)
		assert.True(t, inserted)
	})

	t.Run("JobLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		job := &model.Job{Kind: model.JobKindFetchTranscript, VideoID: "AAAAAAAAAAA", MaxAttempts: 3}
		_, err := s.EnqueueJob(ctx, job)
		require.NoError(t, err)
		_, err = s.EnqueueJob(ctx, &model.Job{Kind: model.JobKindFetchTranscript, VideoID: "BBBBBBBBBBB", RunAt: now.Add(time.Hour)})
		require.NoError(t, err)

		claimed, err := s.ClaimJobs(ctx, 10, now.Add(time.Second))
		require.NoError(t, err)
		require.Len(t, claimed, 1, "future job is not due")
		assert.Equal(t, job.ID, claimed[0].ID)
		assert.Equal(t, model.JobStatusRunning, claimed[0].Status)
		assert.Equal(t, 1, claimed[0].Attempts)
		assert.Equal(t, 3, claimed[0].MaxAttempts)

		again, err := s.ClaimJobs(ctx, 10, now.Add(time.Second))
		require.NoError(t, err)
		assert.Empty(t, again, "running jobs are not handed out twice")

		require.NoError(t, s.RetryJob(ctx, job.ID, "timeout", now))
		claimed, err = s.ClaimJobs(ctx, 10, now.Add(time.Second))
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, 2, claimed[0].Attempts)
		assert.Equal(t, "timeout", claimed[0].LastError)

		require.NoError(t, s.CompleteJob(ctx, job.ID))
		claimed, err = s.ClaimJobs(ctx, 10, now.Add(2*time.Hour))
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, "BBBBBBBBBBB", claimed[0].VideoID)

		require.NoError(t, s.FailJob(ctx, claimed[0].ID, "disabled"))
		assert.True(t, errors.Is(s.CompleteJob(ctx, "missing"), ErrNotFound))
	})

	t.Run("ReleaseStaleJobs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		_, err := s.EnqueueJob(ctx, &model.Job{Kind: model.JobKindFetchTranscript, VideoID: "AAAAAAAAAAA"})
		require.NoError(t, err)
		_, err = s.EnqueueJob(ctx, &model.Job{Kind: model.JobKindFetchTranscript, VideoID: "BBBBBBBBBBB", MaxAttempts: 1})
		require.NoError(t, err)
		claimed, err := s.ClaimJobs(ctx, 10, now)
		require.NoError(t, err)
		require.Len(t, claimed, 2)

		released, err := s.ReleaseStaleJobs(ctx, now.Add(-time.Minute))
		require.NoError(t, err)
		assert.Zero(t, released, "leases still valid")

		released, err = s.ReleaseStaleJobs(ctx, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, released, "job without attempts left is failed instead")

		claimed, err = s.ClaimJobs(ctx, 10, time.Now().Add(time.Second))
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, "AAAAAAAAAAA", claimed[0].VideoID)
		assert.Equal(t, 2, claimed[0].Attempts)
		assert.Equal(t, errLeaseExpired, claimed[0].LastError)
	})

	t.Run("RetryWithNewerPendingJob", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC()

		first := &model.Job{Kind: model.JobKindGenerateSummary, VideoID: "AAAAAAAAAAA"}
		_, err := s.EnqueueJob(ctx, first)
		require.NoError(t, err)
		_, err = s.ClaimJobs(ctx, 1, now.Add(time.Second))
		require.NoError(t, err)

		inserted, err := s.EnqueueJob(ctx, &model.Job{Kind: model.JobKindGenerateSummary, VideoID: "AAAAAAAAAAA"})
		require.NoError(t, err)
		require.True(t, inserted, "a running job does not block a new pending one")

		require.NoError(t, s.RetryJob(ctx, first.ID, "boom", now))

		claimed, err := s.ClaimJobs(ctx, 10, now.Add(time.Second))
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.NotEqual(t, first.ID, claimed[0].ID)
	})
}

func videoIDs(ms []model.MeetingWithMunicipality) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.VideoID
	}
	return out
}

func TestSQLiteStore_Suite(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestMeetingFilter_Normalize(t *testing.T) {
	f := MeetingFilter{}.Normalize()
	assert.Equal(t, SortDate, f.Sort)
	assert.Equal(t, "desc", f.Direction)
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, 20, f.PerPage)
	assert.Equal(t, 0, f.Offset())

	f = MeetingFilter{Sort: "bogus", Direction: "ASC", Page: 3, PerPage: 500}.Normalize()
	assert.Equal(t, SortDate, f.Sort)
	assert.Equal(t, "asc", f.Direction)
	assert.Equal(t, 100, f.PerPage)
	assert.Equal(t, 200, f.Offset())
}

func TestMeetingFilter_OrderBy(t *testing.T) {
	tests := []struct {
		filter MeetingFilter
		want   string
	}{
		{MeetingFilter{Sort: SortDate, Direction: "desc"}, "m.held_on DESC, m.id"},
		{MeetingFilter{Sort: SortDate, Direction: "asc"}, "m.held_on ASC, m.id"},
		{MeetingFilter{Sort: SortMeetingType, Direction: "asc"}, "m.meeting_type ASC, m.held_on DESC, m.id"},
		{MeetingFilter{Sort: SortMunicipality, Direction: "desc"}, "mu.name DESC, m.held_on DESC, m.id"},
	}
	for _, tt := range tests {
		t.Run(string(tt.filter.Sort)+"_"+tt.filter.Direction, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.orderBy())
		})
	}
}
