package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/meeting-ingest/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// Connection-scoped settings ride on the DSN so every pooled connection
// gets them.
var sqliteDSNParams = []string{
	"_pragma=foreign_keys(1)",
	"_pragma=busy_timeout(5000)",
	"_txlock=immediate",
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", withDSNParams(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func withDSNParams(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(sqliteDSNParams, "&")
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS municipalities (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	slug         TEXT NOT NULL UNIQUE,
	playlist_url TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS meetings (
	id               TEXT PRIMARY KEY,
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
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_meetings_municipality_id ON meetings(municipality_id);
CREATE INDEX IF NOT EXISTS idx_meetings_held_on ON meetings(held_on);
CREATE INDEX IF NOT EXISTS idx_meetings_meeting_type ON meetings(meeting_type);

CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	video_id     TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 5,
	last_error   TEXT,
	run_at       DATETIME NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_pending_unique ON jobs(kind, video_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_jobs_status_run_at ON jobs(status, run_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Municipalities ---

func (s *SQLiteStore) CreateMunicipality(ctx context.Context, m *model.Municipality) error {
	now := time.Now().UTC()
	id := uuid.New().String()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO municipalities (id, name, slug, playlist_url, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, m.Name, m.Slug, m.PlaylistURL, now, now,
	)
	if isSQLiteUnique(err) {
		return eris.Wrapf(ErrDuplicate, "sqlite: municipality %s", m.Slug)
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: insert municipality")
	}
	m.ID, m.CreatedAt, m.UpdatedAt = id, now, now
	return nil
}

func (s *SQLiteStore) UpsertMunicipalities(ctx context.Context, ms []model.Municipality) (int64, error) {
	if len(ms) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert municipalities: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	var n int64
	for _, m := range ms {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO municipalities (id, name, slug, playlist_url, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (slug) DO UPDATE SET name = excluded.name, playlist_url = excluded.playlist_url, updated_at = excluded.updated_at`,
			uuid.New().String(), m.Name, m.Slug, m.PlaylistURL, now, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert municipality %s", m.Slug)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert municipalities: commit")
	}
	return n, nil
}

func (s *SQLiteStore) ListMunicipalities(ctx context.Context) ([]model.Municipality, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, slug, playlist_url, created_at, updated_at FROM municipalities ORDER BY name, slug`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list municipalities")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Municipality
	for rows.Next() {
		m, err := scanMunicipality(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan municipality")
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate municipalities")
}

func (s *SQLiteStore) GetMunicipalityBySlug(ctx context.Context, slug string) (*model.Municipality, error) {
	m, err := scanMunicipality(s.db.QueryRowContext(ctx,
		`SELECT id, name, slug, playlist_url, created_at, updated_at FROM municipalities WHERE slug = ?`,
		slug,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: municipality %s", slug)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get municipality %s", slug)
	}
	return m, nil
}

func (s *SQLiteStore) DeleteMunicipality(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM municipalities WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete municipality %s", id)
	}
	return checkRowsAffected(res, "municipality", id)
}

// --- Meetings ---

func (s *SQLiteStore) CreateMeeting(ctx context.Context, m *model.Meeting) error {
	now := time.Now().UTC()
	id := uuid.New().String()
	heldOn := model.Day(m.HeldOn)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meetings (id, video_id, municipality_id, meeting_type, held_on, video_url, title,
			transcript, summary, duration_seconds, channel_name, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, m.VideoID, m.MunicipalityID, string(m.MeetingType), heldOn, m.VideoURL, m.Title,
		m.Transcript, m.Summary, m.DurationSeconds, m.ChannelName, m.Description, now, now,
	)
	if isSQLiteUnique(err) {
		return eris.Wrapf(ErrDuplicate, "sqlite: meeting %s", m.VideoID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert meeting %s", m.VideoID)
	}
	m.ID, m.HeldOn, m.CreatedAt, m.UpdatedAt = id, heldOn, now, now
	return nil
}

func (s *SQLiteStore) GetMeeting(ctx context.Context, id string) (*model.MeetingWithMunicipality, error) {
	m, err := scanMeetingWithMunicipality(s.db.QueryRowContext(ctx,
		`SELECT `+meetingColumns+`, mu.name, mu.slug
		 FROM meetings m JOIN municipalities mu ON mu.id = m.municipality_id
		 WHERE m.id = ?`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: meeting %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get meeting %s", id)
	}
	return m, nil
}

func (s *SQLiteStore) GetMeetingByVideoID(ctx context.Context, videoID string) (*model.Meeting, error) {
	m, err := scanMeeting(s.db.QueryRowContext(ctx,
		`SELECT `+meetingColumns+` FROM meetings m WHERE m.video_id = ?`,
		videoID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: meeting video %s", videoID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get meeting video %s", videoID)
	}
	return m, nil
}

func (s *SQLiteStore) UpdateMeeting(ctx context.Context, id string, patch model.MeetingPatch) error {
	if patch.Empty() {
		return nil
	}
	var sets []string
	var args []any
	if patch.HeldOn != nil {
		sets = append(sets, "held_on = ?")
		args = append(args, model.Day(*patch.HeldOn))
	}
	if patch.DurationSeconds != nil {
		sets = append(sets, "duration_seconds = ?")
		args = append(args, *patch.DurationSeconds)
	}
	if patch.ChannelName != nil {
		sets = append(sets, "channel_name = ?")
		args = append(args, *patch.ChannelName)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE meetings SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update meeting %s", id)
	}
	return checkRowsAffected(res, "meeting", id)
}

func (s *SQLiteStore) SetTranscript(ctx context.Context, id, transcript string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE meetings SET transcript = ?, updated_at = ? WHERE id = ?`,
		transcript, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set transcript %s", id)
	}
	return checkRowsAffected(res, "meeting", id)
}

func (s *SQLiteStore) SetSummary(ctx context.Context, id, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE meetings SET summary = ?, updated_at = ? WHERE id = ?`,
		summary, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set summary %s", id)
	}
	return checkRowsAffected(res, "meeting", id)
}

func (s *SQLiteStore) ListMeetings(ctx context.Context, filter MeetingFilter) ([]model.MeetingWithMunicipality, int, error) {
	filter = filter.Normalize()

	where := ""
	var args []any
	if filter.MunicipalityID != "" {
		where = " WHERE m.municipality_id = ?"
		args = append(args, filter.MunicipalityID)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM meetings m`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count meetings")
	}

	query := `SELECT ` + meetingColumns + `, mu.name, mu.slug
		FROM meetings m JOIN municipalities mu ON mu.id = m.municipality_id` + where +
		` ORDER BY ` + filter.orderBy() + ` LIMIT ? OFFSET ?`
	args = append(args, filter.PerPage, filter.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list meetings")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.MeetingWithMunicipality
	for rows.Next() {
		m, err := scanMeetingWithMunicipality(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "sqlite: scan meeting")
		}
		out = append(out, *m)
	}
	return out, total, eris.Wrap(rows.Err(), "sqlite: iterate meetings")
}

func (s *SQLiteStore) MeetingsMissingTranscript(ctx context.Context, limit int) ([]model.Meeting, error) {
	return s.queryMeetings(ctx,
		`SELECT `+meetingColumns+` FROM meetings m
		 WHERE m.transcript IS NULL OR trim(m.transcript) = ''
		 ORDER BY m.held_on DESC, m.id LIMIT ?`,
		limit,
	)
}

func (s *SQLiteStore) MeetingsMissingSummary(ctx context.Context, limit int) ([]model.Meeting, error) {
	return s.queryMeetings(ctx,
		`SELECT `+meetingColumns+` FROM meetings m
		 WHERE m.transcript IS NOT NULL AND trim(m.transcript) <> ''
		   AND (m.summary IS NULL OR trim(m.summary) = '')
		 ORDER BY m.held_on DESC, m.id LIMIT ?`,
		limit,
	)
}

func (s *SQLiteStore) queryMeetings(ctx context.Context, query string, args ...any) ([]model.Meeting, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query meetings")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan meeting")
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate meetings")
}

// --- Jobs ---

func (s *SQLiteStore) EnqueueJob(ctx context.Context, job *model.Job) (bool, error) {
	now := time.Now().UTC()
	prepareJob(job, uuid.New().String(), now)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		job.ID, string(job.Kind), job.VideoID, string(job.Status), job.Attempts, job.MaxAttempts,
		job.RunAt.UTC(), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: enqueue %s %s", job.Kind, job.VideoID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

// ClaimJobs marks up to limit due jobs as running. The DSN requests
// immediate transactions, so concurrent claimers serialize on the write lock.
func (s *SQLiteStore) ClaimJobs(ctx context.Context, limit int, now time.Time) ([]model.Job, error) {
	now = now.UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim jobs: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? AND run_at <= ? ORDER BY run_at, created_at LIMIT ?`,
		string(model.JobStatusPending), now, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim jobs")
	}
	var out []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			rows.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		out = append(out, *j)
	}
	rows.Close() //nolint:errcheck
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate jobs")
	}

	for i := range out {
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, attempts = attempts + 1, updated_at = ? WHERE id = ?`,
			string(model.JobStatusRunning), now, out[i].ID,
		); err != nil {
			return nil, eris.Wrapf(err, "sqlite: claim job %s", out[i].ID)
		}
		out[i].Status = model.JobStatusRunning
		out[i].Attempts++
		out[i].UpdatedAt = now
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: claim jobs: commit")
	}
	return out, nil
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, last_error = NULL, updated_at = ? WHERE id = ?`,
		string(model.JobStatusDone), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", id)
	}
	return checkRowsAffected(res, "job", id)
}

// RetryJob puts a claimed job back in the pending state. If another pending
// job of the same kind was enqueued for the meeting meanwhile, this one is
// closed out and the newer job carries the work.
func (s *SQLiteStore) RetryJob(ctx context.Context, id, lastErr string, runAt time.Time) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, last_error = ?, run_at = ?, updated_at = ? WHERE id = ?`,
		string(model.JobStatusPending), lastErr, runAt.UTC(), now, id,
	)
	if isSQLiteUnique(err) {
		res, err = s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			string(model.JobStatusDone), lastErr, now, id,
		)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: retry job %s", id)
	}
	return checkRowsAffected(res, "job", id)
}

func (s *SQLiteStore) ReleaseStaleJobs(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, attempts, max_attempts FROM jobs WHERE status = ? AND updated_at < ?`,
		string(model.JobStatusRunning), cutoff.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: find stale jobs")
	}
	var stale []staleJob
	for rows.Next() {
		var j staleJob
		if err := rows.Scan(&j.id, &j.attempts, &j.maxAttempts); err != nil {
			rows.Close() //nolint:errcheck
			return 0, eris.Wrap(err, "sqlite: scan stale job")
		}
		stale = append(stale, j)
	}
	rows.Close() //nolint:errcheck
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "sqlite: iterate stale jobs")
	}
	return releaseStale(ctx, s, stale, time.Now().UTC())
}

func (s *SQLiteStore) FailJob(ctx context.Context, id, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(model.JobStatusFailed), lastErr, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", id)
	}
	return checkRowsAffected(res, "job", id)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func isSQLiteUnique(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}
