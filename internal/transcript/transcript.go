// Package transcript retrieves the spoken text of a meeting video.
package transcript

import (
	"context"
	"regexp"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/meeting-ingest/internal/fetcher"
	"github.com/sells-group/meeting-ingest/internal/model"
)

// ErrDisabled means the uploader turned captions off. Retrying cannot help.
var ErrDisabled = eris.New("transcript: transcripts are disabled for this video")

// DefaultLanguages is the caption language preference, most preferred first.
var DefaultLanguages = []string{"en", "en-US", "en-GB", "en-AU", "en-CA"}

var videoIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// Fetcher returns the transcript for a video. A nil transcript with a nil
// error means no transcript can be obtained from this environment; it is
// left for a manual upload.
type Fetcher interface {
	Fetch(ctx context.Context, videoID string) (*string, error)
}

// Mode selects the Fetcher implementation.
type Mode string

const (
	ModeCaptions Mode = "captions"
	ModeCommand  Mode = "command"
)

// Options configures New.
type Options struct {
	Enabled        bool
	Mode           Mode
	Languages      []string
	WatchURLPrefix string
	Command        []string
	WorkDir        string
	Timeout        time.Duration
}

// New builds the Fetcher described by opts. When opts.Enabled is false the
// returned Fetcher never reaches out and always reports "unavailable".
func New(opts Options, pages fetcher.PageFetcher) (Fetcher, error) {
	if !opts.Enabled {
		return Unavailable{}, nil
	}
	switch opts.Mode {
	case ModeCaptions, "":
		return NewCaptionFetcher(pages, opts.Languages, opts.WatchURLPrefix), nil
	case ModeCommand:
		return NewCommandFetcher(opts.Command, opts.WorkDir, opts.Timeout)
	default:
		return nil, eris.Errorf("transcript: unknown mode %q", opts.Mode)
	}
}

// Unavailable is the Fetcher used when transcript retrieval is switched off.
type Unavailable struct{}

// Fetch implements Fetcher.
func (Unavailable) Fetch(_ context.Context, videoID string) (*string, error) {
	zap.L().Debug("transcript: retrieval disabled", zap.String("video_id", videoID))
	return nil, nil
}

func validVideoID(id string) error {
	if !videoIDRe.MatchString(id) {
		return eris.Errorf("transcript: invalid video id %q", id)
	}
	return nil
}

func watchURL(prefix, id string) string {
	if prefix == "" {
		return model.WatchURL(id)
	}
	return prefix + id
}
