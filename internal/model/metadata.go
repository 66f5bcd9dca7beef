package model

import (
	"fmt"
	"time"
)

// WatchURLPrefix is the canonical watch-page URL for a video ID.
const WatchURLPrefix = "https://www.youtube.com/watch?v="

// VideoMetadata is what the extraction cascade recovers from a video page.
// Optional fields are nil when the source did not carry them.
type VideoMetadata struct {
	VideoID         string     `json:"video_id"`
	VideoURL        string     `json:"video_url"`
	Title           string     `json:"title"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
	Description     *string    `json:"description,omitempty"`
	ChannelName     *string    `json:"channel_name,omitempty"`
	Source          string     `json:"source,omitempty"`
}

// WatchURL returns the canonical URL for a video ID.
func WatchURL(videoID string) string {
	return WatchURLPrefix + videoID
}

// FallbackTitle is the synthesized title used when no source yields one.
func FallbackTitle(videoID string) string {
	return fmt.Sprintf("Video %s", videoID)
}
