package model

import (
	"strings"
	"time"
)

// MeetingType classifies a meeting by the kind of body that held it.
type MeetingType string

const (
	MeetingTypeCouncil     MeetingType = "council"
	MeetingTypePlanning    MeetingType = "planning"
	MeetingTypeWorkSession MeetingType = "work_session"
	MeetingTypeOther       MeetingType = "other"
)

// Valid reports whether t is one of the known meeting types.
func (t MeetingType) Valid() bool {
	switch t {
	case MeetingTypeCouncil, MeetingTypePlanning, MeetingTypeWorkSession, MeetingTypeOther:
		return true
	}
	return false
}

// Municipality is a city or town whose meetings are published to a video playlist.
type Municipality struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	PlaylistURL string    `json:"playlist_url" yaml:"playlist_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Meeting is a single recorded public meeting, keyed by its video ID.
// Pointer fields are nil until a value has been recorded.
type Meeting struct {
	ID              string      `json:"id"`
	VideoID         string      `json:"video_id"`
	MunicipalityID  string      `json:"municipality_id"`
	MeetingType     MeetingType `json:"meeting_type"`
	HeldOn          time.Time   `json:"held_on"`
	VideoURL        string      `json:"video_url"`
	Title           string      `json:"title"`
	Transcript      *string     `json:"transcript,omitempty"`
	Summary         *string     `json:"summary,omitempty"`
	DurationSeconds *int        `json:"duration_seconds,omitempty"`
	ChannelName     *string     `json:"channel_name,omitempty"`
	Description     *string     `json:"description,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// HasTranscript reports whether a non-blank transcript is stored.
func (m *Meeting) HasTranscript() bool {
	return present(m.Transcript)
}

// HasSummary reports whether a non-blank summary is stored.
func (m *Meeting) HasSummary() bool {
	return present(m.Summary)
}

// MeetingWithMunicipality is a meeting row joined with its owner's display fields.
type MeetingWithMunicipality struct {
	Meeting
	MunicipalityName string `json:"municipality_name"`
	MunicipalitySlug string `json:"municipality_slug"`
}

// MeetingPatch lists the columns a reconciliation pass may change on an
// existing meeting. Nil fields are left untouched.
type MeetingPatch struct {
	HeldOn          *time.Time
	DurationSeconds *int
	ChannelName     *string
	Description     *string
}

// Empty reports whether the patch changes nothing.
func (p MeetingPatch) Empty() bool {
	return p.HeldOn == nil && p.DurationSeconds == nil && p.ChannelName == nil && p.Description == nil
}

// Fields returns the column names the patch touches, for logging.
func (p MeetingPatch) Fields() []string {
	var out []string
	if p.HeldOn != nil {
		out = append(out, "held_on")
	}
	if p.DurationSeconds != nil {
		out = append(out, "duration_seconds")
	}
	if p.ChannelName != nil {
		out = append(out, "channel_name")
	}
	if p.Description != nil {
		out = append(out, "description")
	}
	return out
}

// Apply copies the patch onto m.
func (p MeetingPatch) Apply(m *Meeting) {
	if p.HeldOn != nil {
		m.HeldOn = *p.HeldOn
	}
	if p.DurationSeconds != nil {
		v := *p.DurationSeconds
		m.DurationSeconds = &v
	}
	if p.ChannelName != nil {
		v := *p.ChannelName
		m.ChannelName = &v
	}
	if p.Description != nil {
		v := *p.Description
		m.Description = &v
	}
}

// Day truncates t to a calendar date in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	return Day(a).Equal(Day(b))
}

func present(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}
