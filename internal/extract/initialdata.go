package extract

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/rotisserie/eris"

	"github.com/sells-group/meeting-ingest/internal/model"
)

var initialDataRe = regexp.MustCompile(`(?:var\s+ytInitialData|window\[["']ytInitialData["']\])\s*=\s*`)

// InitialData reads the primary info renderer from the embedded
// ytInitialData object. Only title and date are recoverable from it.
type InitialData struct{}

// Name implements Strategy.
func (InitialData) Name() string { return "initial_data" }

type primaryInfoRenderer struct {
	Title struct {
		Runs []struct {
			Text string `json:"text"`
		} `json:"runs"`
	} `json:"title"`
	DateText struct {
		SimpleText string `json:"simpleText"`
	} `json:"dateText"`
}

// Extract implements Strategy.
func (InitialData) Extract(_ context.Context, page *Page) (*model.VideoMetadata, error) {
	blob := jsonObjectAfter(page.HTML, initialDataRe)
	if blob == nil {
		return nil, nil
	}
	var root any
	if err := json.Unmarshal(blob, &root); err != nil {
		return nil, eris.Wrap(err, "initial_data: decode")
	}

	raw := findPrimaryInfo(root)
	if raw == nil {
		return nil, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, eris.Wrap(err, "initial_data: re-encode renderer")
	}
	var r primaryInfoRenderer
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, eris.Wrap(err, "initial_data: decode renderer")
	}

	md := &model.VideoMetadata{PublishedAt: ParseDate(r.DateText.SimpleText)}
	if len(r.Title.Runs) > 0 {
		md.Title = r.Title.Runs[0].Text
	}
	return md, nil
}

// findPrimaryInfo follows the usual watch-next layout first and falls back
// to a depth-first search for the renderer key.
func findPrimaryInfo(root any) any {
	contents := dig(root, "contents", "twoColumnWatchNextResults", "results", "results", "contents")
	if items, ok := contents.([]any); ok {
		for _, item := range items {
			if r := dig(item, "videoPrimaryInfoRenderer"); r != nil {
				return r
			}
		}
	}
	return search(root, "videoPrimaryInfoRenderer", 0)
}

func dig(v any, path ...string) any {
	for _, key := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[key]
	}
	return v
}

const maxSearchDepth = 32

func search(v any, key string, depth int) any {
	if depth > maxSearchDepth {
		return nil
	}
	switch t := v.(type) {
	case map[string]any:
		if r, ok := t[key]; ok {
			return r
		}
		for _, child := range t {
			if r := search(child, key, depth+1); r != nil {
				return r
			}
		}
	case []any:
		for _, child := range t {
			if r := search(child, key, depth+1); r != nil {
				return r
			}
		}
	}
	return nil
}
