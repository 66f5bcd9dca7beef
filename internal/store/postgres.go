package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/meeting-ingest/internal/db"
	"github.com/sells-group/meeting-ingest/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	sqlInsertMeeting = `INSERT INTO meetings (id, video_id, municipality_id, meeting_type, held_on, video_url, title,
	transcript, summary, duration_seconds, channel_name, description, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	sqlGetMeetingByVideoID = `SELECT ` + meetingColumns + ` FROM meetings m WHERE m.video_id = $1`
	sqlEnqueueJob          = `INSERT INTO jobs (` + jobColumns + `) VALUES ($1, $2, $3, $4, $5, $6, NULL, $7, $8, $9) ON CONFLICT DO NOTHING`
	sqlCompleteJob         = `UPDATE jobs SET status = $1, last_error = NULL, updated_at = $2 WHERE id = $3`
)

// preparedStatements lists queries to prepare on each new connection for
// the hot path of an ingestion pass and the job worker.
var preparedStatements = map[string]string{
	"insert_meeting":          sqlInsertMeeting,
	"get_meeting_by_video_id": sqlGetMeetingByVideoID,
	"enqueue_job":             sqlEnqueueJob,
	"complete_job":            sqlCompleteJob,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS municipalities (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name         TEXT NOT NULL,
	slug         TEXT NOT NULL UNIQUE,
	playlist_url TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS meetings (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	video_id         TEXT NOT NULL UNIQUE,
	municipality_id  TEXT NOT NULL REFERENCES municipalities(id) ON DELETE CASCADE,
	meeting_type     TEXT NOT NULL DEFAULT 'other',
	held_on          DATE NOT NULL,
	video_url        TEXT NOT NULL,
	title            TEXT NOT NULL,
	transcript       TEXT,
	summary          TEXT,
	duration_seconds INTEGER,
	channel_name     TEXT,
	description      TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_meetings_municipality_id ON meetings(municipality_id);
CREATE INDEX IF NOT EXISTS idx_meetings_held_on ON meetings(held_on);
CREATE INDEX IF NOT EXISTS idx_meetings_meeting_type ON meetings(meeting_type);

CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kind         TEXT NOT NULL,
	video_id     TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 5,
	last_error   TEXT,
	run_at       TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_pending_unique ON jobs(kind, video_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_jobs_status_run_at ON jobs(status, run_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Municipalities ---

func (s *PostgresStore) CreateMunicipality(ctx context.Context, m *model.Municipality) error {
	now := time.Now().UTC()
	id := uuid.New().String()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO municipalities (id, name, slug, playlist_url, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, m.Name, m.Slug, m.PlaylistURL, now, now,
	)
	if db.IsUniqueViolation(err) {
		return eris.Wrapf(ErrDuplicate, "postgres: municipality %s", m.Slug)
	}
	if err != nil {
		return eris.Wrap(err, "postgres: insert municipality")
	}
	m.ID, m.CreatedAt, m.UpdatedAt = id, now, now
	return nil
}

// UpsertMunicipalities bulk-loads municipalities keyed by slug through a
// COPY into a temp table.
func (s *PostgresStore) UpsertMunicipalities(ctx context.Context, ms []model.Municipality) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(ms))
	for _, m := range ms {
		rows = append(rows, []any{uuid.New().String(), m.Name, m.Slug, m.PlaylistURL, now, now})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:      "municipalities",
		Columns:    []string{"id", "name", "slug", "playlist_url", "created_at", "updated_at"},
		ConflictOn: "slug",
		Update:     []string{"name", "playlist_url", "updated_at"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert municipalities")
}

func (s *PostgresStore) ListMunicipalities(ctx context.Context) ([]model.Municipality, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, slug, playlist_url, created_at, updated_at FROM municipalities ORDER BY name, slug`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list municipalities")
	}
	defer rows.Close()

	var out []model.Municipality
	for rows.Next() {
		m, err := scanMunicipality(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan municipality")
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate municipalities")
}

func (s *PostgresStore) GetMunicipalityBySlug(ctx context.Context, slug string) (*model.Municipality, error) {
	m, err := scanMunicipality(s.pool.QueryRow(ctx,
		`SELECT id, name, slug, playlist_url, created_at, updated_at FROM municipalities WHERE slug = $1`,
		slug,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: municipality %s", slug)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get municipality %s", slug)
	}
	return m, nil
}

func (s *PostgresStore) DeleteMunicipality(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM municipalities WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete municipality %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "municipality %s", id)
	}
	return nil
}

// --- Meetings ---

func (s *PostgresStore) CreateMeeting(ctx context.Context, m *model.Meeting) error {
	now := time.Now().UTC()
	id := uuid.New().String()
	heldOn := model.Day(m.HeldOn)

	_, err := s.pool.Exec(ctx, sqlInsertMeeting,
		id, m.VideoID, m.MunicipalityID, string(m.MeetingType), heldOn, m.VideoURL, m.Title,
		m.Transcript, m.Summary, m.DurationSeconds, m.ChannelName, m.Description, now, now,
	)
	if db.IsUniqueViolation(err) {
		return eris.Wrapf(ErrDuplicate, "postgres: meeting %s", m.VideoID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: insert meeting %s", m.VideoID)
	}
	m.ID, m.HeldOn, m.CreatedAt, m.UpdatedAt = id, heldOn, now, now
	return nil
}

func (s *PostgresStore) GetMeeting(ctx context.Context, id string) (*model.MeetingWithMunicipality, error) {
	m, err := scanMeetingWithMunicipality(s.pool.QueryRow(ctx,
		`SELECT `+meetingColumns+`, mu.name, mu.slug
		 FROM meetings m JOIN municipalities mu ON mu.id = m.municipality_id
		 WHERE m.id = $1`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: meeting %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get meeting %s", id)
	}
	return m, nil
}

func (s *PostgresStore) GetMeetingByVideoID(ctx context.Context, videoID string) (*model.Meeting, error) {
	m, err := scanMeeting(s.pool.QueryRow(ctx, sqlGetMeetingByVideoID, videoID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: meeting video %s", videoID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get meeting video %s", videoID)
	}
	return m, nil
}

func (s *PostgresStore) UpdateMeeting(ctx context.Context, id string, patch model.MeetingPatch) error {
	if patch.Empty() {
		return nil
	}
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.HeldOn != nil {
		add("held_on", model.Day(*patch.HeldOn))
	}
	if patch.DurationSeconds != nil {
		add("duration_seconds", *patch.DurationSeconds)
	}
	if patch.ChannelName != nil {
		add("channel_name", *patch.ChannelName)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	add("updated_at", time.Now().UTC())
	args = append(args, id)

	query := fmt.Sprintf("UPDATE meetings SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update meeting %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "meeting %s", id)
	}
	return nil
}

func (s *PostgresStore) SetTranscript(ctx context.Context, id, transcript string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE meetings SET transcript = $1, updated_at = $2 WHERE id = $3`,
		transcript, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set transcript %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "meeting %s", id)
	}
	return nil
}

func (s *PostgresStore) SetSummary(ctx context.Context, id, summary string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE meetings SET summary = $1, updated_at = $2 WHERE id = $3`,
		summary, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set summary %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "meeting %s", id)
	}
	return nil
}

func (s *PostgresStore) ListMeetings(ctx context.Context, filter MeetingFilter) ([]model.MeetingWithMunicipality, int, error) {
	filter = filter.Normalize()

	where := ""
	var args []any
	if filter.MunicipalityID != "" {
		args = append(args, filter.MunicipalityID)
		where = " WHERE m.municipality_id = $1"
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM meetings m`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count meetings")
	}

	query := fmt.Sprintf(`SELECT %s, mu.name, mu.slug
		FROM meetings m JOIN municipalities mu ON mu.id = m.municipality_id%s
		ORDER BY %s LIMIT $%d OFFSET $%d`,
		meetingColumns, where, filter.orderBy(), len(args)+1, len(args)+2)
	args = append(args, filter.PerPage, filter.Offset())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list meetings")
	}
	defer rows.Close()

	var out []model.MeetingWithMunicipality
	for rows.Next() {
		m, err := scanMeetingWithMunicipality(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "postgres: scan meeting")
		}
		out = append(out, *m)
	}
	return out, total, eris.Wrap(rows.Err(), "postgres: iterate meetings")
}

func (s *PostgresStore) MeetingsMissingTranscript(ctx context.Context, limit int) ([]model.Meeting, error) {
	return s.queryMeetings(ctx,
		`SELECT `+meetingColumns+` FROM meetings m
		 WHERE m.transcript IS NULL OR btrim(m.transcript) = ''
		 ORDER BY m.held_on DESC, m.id LIMIT $1`,
		limit,
	)
}

func (s *PostgresStore) MeetingsMissingSummary(ctx context.Context, limit int) ([]model.Meeting, error) {
	return s.queryMeetings(ctx,
		`SELECT `+meetingColumns+` FROM meetings m
		 WHERE m.transcript IS NOT NULL AND btrim(m.transcript) <> ''
		   AND (m.summary IS NULL OR btrim(m.summary) = '')
		 ORDER BY m.held_on DESC, m.id LIMIT $1`,
		limit,
	)
}

func (s *PostgresStore) queryMeetings(ctx context.Context, query string, args ...any) ([]model.Meeting, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query meetings")
	}
	defer rows.Close()

	var out []model.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan meeting")
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate meetings")
}

// --- Jobs ---

func (s *PostgresStore) EnqueueJob(ctx context.Context, job *model.Job) (bool, error) {
	now := time.Now().UTC()
	prepareJob(job, uuid.New().String(), now)

	tag, err := s.pool.Exec(ctx, sqlEnqueueJob,
		job.ID, string(job.Kind), job.VideoID, string(job.Status), job.Attempts, job.MaxAttempts,
		job.RunAt.UTC(), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: enqueue %s %s", job.Kind, job.VideoID)
	}
	return tag.RowsAffected() > 0, nil
}

// ClaimJobs marks up to limit due jobs as running. SKIP LOCKED lets several
// workers claim concurrently without handing out the same job twice.
func (s *PostgresStore) ClaimJobs(ctx context.Context, limit int, now time.Time) ([]model.Job, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE jobs SET status = $1, attempts = attempts + 1, updated_at = $2
		 WHERE id IN (
			SELECT id FROM jobs WHERE status = $3 AND run_at <= $2
			ORDER BY run_at, created_at LIMIT $4
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		string(model.JobStatusRunning), now.UTC(), string(model.JobStatusPending), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim jobs")
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		out = append(out, *j)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate jobs")
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, sqlCompleteJob, string(model.JobStatusDone), time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", id)
	}
	return nil
}

// RetryJob puts a claimed job back in the pending state. If another pending
// job of the same kind was enqueued for the meeting meanwhile, this one is
// closed out and the newer job carries the work.
func (s *PostgresStore) RetryJob(ctx context.Context, id, lastErr string, runAt time.Time) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, last_error = $2, run_at = $3, updated_at = $4 WHERE id = $5`,
		string(model.JobStatusPending), lastErr, runAt.UTC(), now, id,
	)
	if db.IsUniqueViolation(err) {
		tag, err = s.pool.Exec(ctx,
			`UPDATE jobs SET status = $1, last_error = $2, updated_at = $3 WHERE id = $4`,
			string(model.JobStatusDone), lastErr, now, id,
		)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: retry job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", id)
	}
	return nil
}

func (s *PostgresStore) ReleaseStaleJobs(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, attempts, max_attempts FROM jobs WHERE status = $1 AND updated_at < $2`,
		string(model.JobStatusRunning), cutoff.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: find stale jobs")
	}
	stale, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (staleJob, error) {
		var j staleJob
		err := row.Scan(&j.id, &j.attempts, &j.maxAttempts)
		return j, err
	})
	if err != nil {
		return 0, eris.Wrap(err, "postgres: scan stale jobs")
	}
	return releaseStale(ctx, s, stale, time.Now().UTC())
}

func (s *PostgresStore) FailJob(ctx context.Context, id, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, last_error = $2, updated_at = $3 WHERE id = $4`,
		string(model.JobStatusFailed), lastErr, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", id)
	}
	return nil
}
