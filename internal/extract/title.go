package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/sells-group/meeting-ingest/internal/model"
)

var siteSuffixRe = regexp.MustCompile(`(?i)\s*-\s*YouTube\s*$`)

// PageTitle falls back to the document <title>, minus the site suffix.
type PageTitle struct{}

// Name implements Strategy.
func (PageTitle) Name() string { return "page_title" }

// Extract implements Strategy.
func (PageTitle) Extract(_ context.Context, page *Page) (*model.VideoMetadata, error) {
	doc, err := page.Document()
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	title = strings.TrimSpace(siteSuffixRe.ReplaceAllString(title, ""))
	if title == "" {
		return nil, nil
	}
	return &model.VideoMetadata{Title: title}, nil
}
