package extract

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/meeting-ingest/internal/model"
)

// LDJSON reads schema.org structured data from application/ld+json blocks.
type LDJSON struct{}

// Name implements Strategy.
func (LDJSON) Name() string { return "ldjson" }

type ldVideo struct {
	Type        json.RawMessage `json:"@type"`
	Name        string          `json:"name"`
	UploadDate  string          `json:"uploadDate"`
	Duration    string          `json:"duration"`
	Description *string         `json:"description"`
	Author      json.RawMessage `json:"author"`
}

// Extract implements Strategy.
func (LDJSON) Extract(_ context.Context, page *Page) (*model.VideoMetadata, error) {
	doc, err := page.Document()
	if err != nil {
		return nil, err
	}

	var (
		candidates []ldVideo
		lastErr    error
	)
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		v, err := decodeLDBlock(s.Text())
		if err != nil {
			lastErr = err
			return
		}
		if v != nil {
			candidates = append(candidates, *v)
		}
	})

	if len(candidates) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, nil
	}

	// Prefer an explicit VideoObject; otherwise the first block wins.
	pick := candidates[0]
	for _, c := range candidates {
		if typeIs(c.Type, "VideoObject") {
			pick = c
			break
		}
	}

	md := &model.VideoMetadata{
		Title:       pick.Name,
		PublishedAt: ParseDate(pick.UploadDate),
		Description: pick.Description,
		ChannelName: authorName(pick.Author),
	}
	if secs, ok := ParseISODuration(pick.Duration); ok {
		md.DurationSeconds = &secs
	}
	return md, nil
}

// decodeLDBlock parses a block holding either one object or an array of them.
func decodeLDBlock(raw string) (*ldVideo, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "[") {
		var arr []ldVideo
		if err := json.Unmarshal([]byte(raw), &arr); err != nil {
			return nil, eris.Wrap(err, "ldjson: decode array")
		}
		if len(arr) == 0 {
			return nil, nil
		}
		return &arr[0], nil
	}
	var v ldVideo
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, eris.Wrap(err, "ldjson: decode object")
	}
	return &v, nil
}

// typeIs handles "@type" given as a string or a list of strings.
func typeIs(raw json.RawMessage, want string) bool {
	if len(raw) == 0 {
		return false
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return one == want
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, t := range many {
			if t == want {
				return true
			}
		}
	}
	return false
}

// authorName reads author.name from an object, the first of a list, or a
// bare string.
func authorName(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Name != "" {
		return &obj.Name
	}
	var list []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 && list[0].Name != "" {
		return &list[0].Name
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return &s
	}
	return nil
}
