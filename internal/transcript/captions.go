package transcript

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"html"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/meeting-ingest/internal/extract"
	"github.com/sells-group/meeting-ingest/internal/fetcher"
)

// CaptionFetcher reads caption tracks advertised by the watch page and
// downloads the best one as timedtext XML.
type CaptionFetcher struct {
	pages          fetcher.PageFetcher
	languages      []string
	watchURLPrefix string
}

// NewCaptionFetcher creates a CaptionFetcher. Empty languages fall back to
// DefaultLanguages; an empty prefix uses the public watch URL.
func NewCaptionFetcher(pages fetcher.PageFetcher, languages []string, watchURLPrefix string) *CaptionFetcher {
	if len(languages) == 0 {
		languages = DefaultLanguages
	}
	return &CaptionFetcher{pages: pages, languages: languages, watchURLPrefix: watchURLPrefix}
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"` // "asr" = auto-generated
}

type captionPlayerResponse struct {
	PlayabilityStatus *struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	Captions *struct {
		PlayerCaptionsTracklistRenderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
}

type timedText struct {
	Lines []struct {
		Text string `xml:",chardata"`
	} `xml:"text"`
}

// Fetch implements Fetcher.
func (f *CaptionFetcher) Fetch(ctx context.Context, videoID string) (*string, error) {
	if err := validVideoID(videoID); err != nil {
		return nil, err
	}

	page, err := f.pages.Fetch(ctx, watchURL(f.watchURLPrefix, videoID), nil)
	if err != nil {
		return nil, eris.Wrapf(err, "transcript: fetch watch page %s", videoID)
	}
	blob := extract.PlayerResponseJSON(page)
	if blob == nil {
		return nil, eris.Errorf("transcript: no player response for %s", videoID)
	}
	var pr captionPlayerResponse
	if err := json.Unmarshal(blob, &pr); err != nil {
		return nil, eris.Wrapf(err, "transcript: decode player response %s", videoID)
	}

	var tracks []captionTrack
	if pr.Captions != nil {
		tracks = pr.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks
	}
	if len(tracks) == 0 {
		if pr.PlayabilityStatus != nil && pr.PlayabilityStatus.Status != "" && pr.PlayabilityStatus.Status != "OK" {
			return nil, eris.Errorf("transcript: video %s not playable: %s %s",
				videoID, pr.PlayabilityStatus.Status, pr.PlayabilityStatus.Reason)
		}
		return nil, eris.Wrapf(ErrDisabled, "transcript: %s", videoID)
	}

	track, ok := pickBestTrack(tracks, f.languages)
	if !ok {
		zap.L().Info("transcript: caption tracks need a browser session",
			zap.String("video_id", videoID),
		)
		return nil, nil
	}

	body, err := f.pages.Fetch(ctx, track.BaseURL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "transcript: fetch timedtext %s", videoID)
	}
	text, err := parseTimedText(body)
	if err != nil {
		return nil, eris.Wrapf(err, "transcript: %s", videoID)
	}
	if text == "" {
		return nil, nil
	}

	zap.L().Debug("transcript: fetched captions",
		zap.String("video_id", videoID),
		zap.String("language", track.LanguageCode),
		zap.Bool("auto_generated", track.Kind == "asr"),
		zap.Int("chars", len(text)),
	)
	return &text, nil
}

// needsPoToken reports whether a caption track URL requires a browser-issued
// proof-of-origin token.
func needsPoToken(baseURL string) bool {
	return strings.Contains(baseURL, "&exp=xpe")
}

// pickBestTrack selects a manual track in a preferred language, then an
// auto-generated one, then any English track. ok is false when every track
// needs a PoToken.
func pickBestTrack(tracks []captionTrack, langs []string) (captionTrack, bool) {
	usable := make([]captionTrack, 0, len(tracks))
	for _, t := range tracks {
		if !needsPoToken(t.BaseURL) {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 {
		return captionTrack{}, false
	}
	for _, lang := range langs {
		for _, t := range usable {
			if t.LanguageCode == lang && t.Kind != "asr" {
				return t, true
			}
		}
	}
	for _, lang := range langs {
		for _, t := range usable {
			if t.LanguageCode == lang {
				return t, true
			}
		}
	}
	for _, t := range usable {
		if strings.HasPrefix(t.LanguageCode, "en") {
			return t, true
		}
	}
	return usable[0], true
}

// parseTimedText joins timedtext XML lines into plain text, one caption per
// line. Caption text arrives HTML-escaped inside the XML.
func parseTimedText(body string) (string, error) {
	var tt timedText
	if err := xml.Unmarshal([]byte(body), &tt); err != nil {
		return "", eris.Wrap(err, "parse timedtext")
	}
	lines := make([]string, 0, len(tt.Lines))
	for _, l := range tt.Lines {
		text := strings.TrimSpace(html.UnescapeString(l.Text))
		text = strings.Join(strings.Fields(text), " ")
		if text != "" {
			lines = append(lines, text)
		}
	}
	return strings.Join(lines, "\n"), nil
}
