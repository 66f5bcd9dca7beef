// Package reconcile decides how a freshly extracted video maps onto the
// meeting catalog: create it, fill in missing fields, or leave it alone.
package reconcile

import (
	"strings"
	"time"

	"github.com/sells-group/meeting-ingest/internal/extract"
	"github.com/sells-group/meeting-ingest/internal/model"
)

// Action is the outcome of reconciling one video.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionSkip   Action = "skip"
)

// DateSource records where a meeting date came from.
type DateSource string

const (
	DateFromPublished DateSource = "published_at"
	DateFromTitle     DateSource = "title"
	DateFromClock     DateSource = "ingested"
)

// Decision is what the caller should write.
type Decision struct {
	Action Action
	// Meeting is the row to insert when Action is ActionCreate.
	Meeting *model.Meeting
	// Patch holds the columns to change when Action is ActionUpdate.
	Patch         model.MeetingPatch
	NeedsMetadata bool
	DateSource    DateSource
}

// Reconciler turns metadata plus the current row into a Decision.
type Reconciler struct {
	now func() time.Time

	// KeepStoredDateOnClockFallback leaves a stored held_on alone when the
	// computed date is only the run day. Off by default, so any differing
	// computed date is written.
	KeepStoredDateOnClockFallback bool
}

// New creates a Reconciler using the wall clock.
func New() *Reconciler {
	return &Reconciler{now: time.Now}
}

// NewWithClock creates a Reconciler with an injected clock.
func NewWithClock(now func() time.Time) *Reconciler {
	return &Reconciler{now: now}
}

// Reconcile decides create, update or skip for md. existing is nil when no
// meeting with md.VideoID is stored. Transcript and summary are never part
// of the decision.
func (r *Reconciler) Reconcile(muni *model.Municipality, md *model.VideoMetadata, existing *model.Meeting) Decision {
	heldOn, source := r.HeldOn(md)

	if existing == nil {
		return Decision{
			Action:     ActionCreate,
			DateSource: source,
			Meeting: &model.Meeting{
				VideoID:         md.VideoID,
				MunicipalityID:  muni.ID,
				MeetingType:     Classify(md.Title),
				HeldOn:          heldOn,
				VideoURL:        videoURL(md),
				Title:           md.Title,
				DurationSeconds: cloneInt(md.DurationSeconds),
				ChannelName:     cloneString(md.ChannelName),
				Description:     cloneString(md.Description),
			},
		}
	}

	d := Decision{Action: ActionSkip, DateSource: source, NeedsMetadata: NeedsMetadata(existing)}

	if d.NeedsMetadata {
		if existing.DurationSeconds == nil && md.DurationSeconds != nil {
			d.Patch.DurationSeconds = cloneInt(md.DurationSeconds)
		}
		if blank(existing.ChannelName) && !blank(md.ChannelName) {
			d.Patch.ChannelName = cloneString(md.ChannelName)
		}
		if existing.Description == nil && md.Description != nil {
			d.Patch.Description = cloneString(md.Description)
		}
	}

	pinned := r.KeepStoredDateOnClockFallback && source == DateFromClock
	if !pinned && !model.SameDay(heldOn, existing.HeldOn) {
		d.Patch.HeldOn = &heldOn
	}

	if !d.Patch.Empty() {
		d.Action = ActionUpdate
	}
	return d
}

// HeldOn picks the meeting date: published date, else a date in the title,
// else today.
func (r *Reconciler) HeldOn(md *model.VideoMetadata) (time.Time, DateSource) {
	if md.PublishedAt != nil {
		return model.Day(*md.PublishedAt), DateFromPublished
	}
	if t := extract.FindDate(md.Title); t != nil {
		return model.Day(*t), DateFromTitle
	}
	return model.Day(r.now()), DateFromClock
}

// NeedsMetadata reports whether a stored meeting is missing any of the
// fields the extractor can supply. Description counts as missing only when
// it was never recorded; an empty description is a recorded value.
func NeedsMetadata(m *model.Meeting) bool {
	return m.DurationSeconds == nil || blank(m.ChannelName) || m.Description == nil
}

// Classify maps a title to a meeting type by keyword.
func Classify(title string) model.MeetingType {
	t := strings.ToLower(title)
	switch {
	case strings.Contains(t, "council"):
		return model.MeetingTypeCouncil
	case strings.Contains(t, "planning"), strings.Contains(t, "zoning"):
		return model.MeetingTypePlanning
	case strings.Contains(t, "work session"), strings.Contains(t, "study session"):
		return model.MeetingTypeWorkSession
	default:
		return model.MeetingTypeOther
	}
}

func videoURL(md *model.VideoMetadata) string {
	if md.VideoURL != "" {
		return md.VideoURL
	}
	return model.WatchURL(md.VideoID)
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
