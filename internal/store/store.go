// Package store persists municipalities, meetings and queued jobs.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/meeting-ingest/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = eris.New("store: not found")
	// ErrDuplicate is returned when an insert violates a unique key
	// (meeting video_id, municipality slug).
	ErrDuplicate = eris.New("store: duplicate")
)

// MeetingSort names a sortable meeting column.
type MeetingSort string

const (
	SortDate         MeetingSort = "date"
	SortMeetingType  MeetingSort = "meeting_type"
	SortMunicipality MeetingSort = "municipality"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// MeetingFilter specifies criteria for listing meetings.
type MeetingFilter struct {
	MunicipalityID string      `json:"municipality_id,omitempty"`
	Sort           MeetingSort `json:"sort,omitempty"`
	Direction      string      `json:"direction,omitempty"` // "asc" or "desc"
	Page           int         `json:"page,omitempty"`      // 1-based
	PerPage        int         `json:"per_page,omitempty"`
}

// Normalize fills defaults and clamps paging.
func (f MeetingFilter) Normalize() MeetingFilter {
	switch f.Sort {
	case SortDate, SortMeetingType, SortMunicipality:
	default:
		f.Sort = SortDate
	}
	f.Direction = strings.ToLower(f.Direction)
	if f.Direction != "asc" {
		f.Direction = "desc"
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = defaultPerPage
	}
	if f.PerPage > maxPerPage {
		f.PerPage = maxPerPage
	}
	return f
}

// Offset returns the row offset for the filter's page.
func (f MeetingFilter) Offset() int {
	return (f.Page - 1) * f.PerPage
}

// orderBy renders the ORDER BY clause. Column names come from a fixed set,
// never from user input.
func (f MeetingFilter) orderBy() string {
	dir := "DESC"
	if f.Direction == "asc" {
		dir = "ASC"
	}
	switch f.Sort {
	case SortMeetingType:
		return "m.meeting_type " + dir + ", m.held_on DESC, m.id"
	case SortMunicipality:
		return "mu.name " + dir + ", m.held_on DESC, m.id"
	default:
		return "m.held_on " + dir + ", m.id"
	}
}

// Store defines the persistence interface for meeting ingestion.
type Store interface {
	// Municipalities
	CreateMunicipality(ctx context.Context, m *model.Municipality) error
	UpsertMunicipalities(ctx context.Context, ms []model.Municipality) (int64, error)
	ListMunicipalities(ctx context.Context) ([]model.Municipality, error)
	GetMunicipalityBySlug(ctx context.Context, slug string) (*model.Municipality, error)
	DeleteMunicipality(ctx context.Context, id string) error

	// Meetings
	CreateMeeting(ctx context.Context, m *model.Meeting) error
	GetMeeting(ctx context.Context, id string) (*model.MeetingWithMunicipality, error)
	GetMeetingByVideoID(ctx context.Context, videoID string) (*model.Meeting, error)
	UpdateMeeting(ctx context.Context, id string, patch model.MeetingPatch) error
	SetTranscript(ctx context.Context, id, transcript string) error
	SetSummary(ctx context.Context, id, summary string) error
	ListMeetings(ctx context.Context, filter MeetingFilter) ([]model.MeetingWithMunicipality, int, error)
	MeetingsMissingTranscript(ctx context.Context, limit int) ([]model.Meeting, error)
	MeetingsMissingSummary(ctx context.Context, limit int) ([]model.Meeting, error)

	// Jobs
	EnqueueJob(ctx context.Context, job *model.Job) (bool, error)
	ClaimJobs(ctx context.Context, limit int, now time.Time) ([]model.Job, error)
	CompleteJob(ctx context.Context, id string) error
	RetryJob(ctx context.Context, id, lastErr string, runAt time.Time) error
	FailJob(ctx context.Context, id, lastErr string) error
	// ReleaseStaleJobs returns running jobs last touched before cutoff to
	// the pending state, or fails them when their attempts are used up.
	ReleaseStaleJobs(ctx context.Context, cutoff time.Time) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const meetingColumns = `m.id, m.video_id, m.municipality_id, m.meeting_type, m.held_on, m.video_url, m.title,
	m.transcript, m.summary, m.duration_seconds, m.channel_name, m.description, m.created_at, m.updated_at`

const jobColumns = `id, kind, video_id, status, attempts, max_attempts, last_error, run_at, created_at, updated_at`

type scannable interface {
	Scan(dest ...any) error
}

func meetingDest(m *model.Meeting) []any {
	return []any{
		&m.ID, &m.VideoID, &m.MunicipalityID, &m.MeetingType, &m.HeldOn, &m.VideoURL, &m.Title,
		&m.Transcript, &m.Summary, &m.DurationSeconds, &m.ChannelName, &m.Description,
		&m.CreatedAt, &m.UpdatedAt,
	}
}

func scanMeeting(row scannable) (*model.Meeting, error) {
	var m model.Meeting
	if err := row.Scan(meetingDest(&m)...); err != nil {
		return nil, err
	}
	m.HeldOn = model.Day(m.HeldOn)
	return &m, nil
}

func scanMeetingWithMunicipality(row scannable) (*model.MeetingWithMunicipality, error) {
	var m model.MeetingWithMunicipality
	dest := append(meetingDest(&m.Meeting), &m.MunicipalityName, &m.MunicipalitySlug)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	m.HeldOn = model.Day(m.HeldOn)
	return &m, nil
}

func scanMunicipality(row scannable) (*model.Municipality, error) {
	var m model.Municipality
	if err := row.Scan(&m.ID, &m.Name, &m.Slug, &m.PlaylistURL, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var lastErr *string
	if err := row.Scan(&j.ID, &j.Kind, &j.VideoID, &j.Status, &j.Attempts, &j.MaxAttempts,
		&lastErr, &j.RunAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	if lastErr != nil {
		j.LastError = *lastErr
	}
	return &j, nil
}

// staleJob is a running job whose lease expired.
type staleJob struct {
	id          string
	attempts    int
	maxAttempts int
}

// errLeaseExpired is recorded on jobs recovered by ReleaseStaleJobs.
const errLeaseExpired = "lease expired while running"

// releaseStale reschedules or fails each stale job. It returns how many
// went back to pending.
func releaseStale(ctx context.Context, s Store, stale []staleJob, now time.Time) (int, error) {
	released := 0
	for _, j := range stale {
		if j.attempts >= j.maxAttempts {
			if err := s.FailJob(ctx, j.id, errLeaseExpired); err != nil {
				return released, err
			}
			continue
		}
		if err := s.RetryJob(ctx, j.id, errLeaseExpired, now); err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}

// prepareJob fills defaults for a job about to be inserted.
func prepareJob(job *model.Job, id string, now time.Time) {
	job.ID = id
	job.Status = model.JobStatusPending
	job.Attempts = 0
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 5
	}
	if job.RunAt.IsZero() {
		job.RunAt = now
	}
	job.CreatedAt = now
	job.UpdatedAt = now
}
