package model

import "time"

// JobKind identifies the downstream work a job performs.
type JobKind string

const (
	JobKindFetchTranscript JobKind = "fetch_transcript"
	JobKindGenerateSummary JobKind = "generate_summary"
)

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// Job is a unit of asynchronous work against a single meeting.
type Job struct {
	ID          string    `json:"id"`
	Kind        JobKind   `json:"kind"`
	VideoID     string    `json:"video_id"`
	Status      JobStatus `json:"status"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   string    `json:"last_error,omitempty"`
	RunAt       time.Time `json:"run_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CanRetry returns true if this job hasn't used up its attempts.
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}

// IngestStats tallies the outcome of one ingestion pass.
type IngestStats struct {
	Municipalities int `json:"municipalities"`
	PlaylistErrors int `json:"playlist_errors"`
	Videos         int `json:"videos"`
	Created        int `json:"created"`
	Updated        int `json:"updated"`
	Skipped        int `json:"skipped"`
	Failed         int `json:"failed"`
}

// Add accumulates other into s.
func (s *IngestStats) Add(other IngestStats) {
	s.Municipalities += other.Municipalities
	s.PlaylistErrors += other.PlaylistErrors
	s.Videos += other.Videos
	s.Created += other.Created
	s.Updated += other.Updated
	s.Skipped += other.Skipped
	s.Failed += other.Failed
}
