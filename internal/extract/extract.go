// Package extract recovers video identifiers and per-video metadata from
// upstream playlist and watch pages.
package extract

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/meeting-ingest/internal/model"
)

// Page is a fetched watch page handed to each strategy. The parsed DOM is
// built at most once and shared.
type Page struct {
	HTML string
	URL  string

	once   sync.Once
	doc    *goquery.Document
	docErr error
}

// NewPage wraps raw HTML for extraction.
func NewPage(html, url string) *Page {
	return &Page{HTML: html, URL: url}
}

// Document returns the parsed DOM for the page.
func (p *Page) Document() (*goquery.Document, error) {
	p.once.Do(func() {
		p.doc, p.docErr = goquery.NewDocumentFromReader(strings.NewReader(p.HTML))
		if p.docErr != nil {
			p.docErr = eris.Wrap(p.docErr, "extract: parse html")
		}
	})
	return p.doc, p.docErr
}

// Strategy is one independent way of reading metadata off a page.
// A nil result or a result with an empty title means "nothing found".
type Strategy interface {
	Name() string
	Extract(ctx context.Context, page *Page) (*model.VideoMetadata, error)
}

// Extractor runs strategies in priority order and keeps the first result
// with a non-empty title.
type Extractor struct {
	strategies []Strategy
}

// New creates an Extractor over the given strategies, tried in order.
func New(strategies ...Strategy) *Extractor {
	return &Extractor{strategies: strategies}
}

// Strategies returns the strategy names in evaluation order.
func (e *Extractor) Strategies() []string {
	names := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		names[i] = s.Name()
	}
	return names
}

// Extract never fails. When no strategy yields a title the returned record
// carries only the video ID and URL.
func (e *Extractor) Extract(ctx context.Context, html, videoURL string) *model.VideoMetadata {
	page := NewPage(html, videoURL)
	videoID := VideoIDFromURL(videoURL)

	for _, s := range e.strategies {
		if ctx.Err() != nil {
			break
		}
		md, err := runStrategy(ctx, s, page)
		if err != nil {
			zap.L().Debug("extract: strategy failed, trying next",
				zap.String("strategy", s.Name()),
				zap.String("url", videoURL),
				zap.Error(err),
			)
			continue
		}
		if md == nil || strings.TrimSpace(md.Title) == "" {
			continue
		}
		md.Title = strings.TrimSpace(md.Title)
		md.VideoID = videoID
		md.VideoURL = videoURL
		md.Source = s.Name()
		return md
	}

	zap.L().Debug("extract: no strategy produced a title", zap.String("url", videoURL))
	return &model.VideoMetadata{VideoID: videoID, VideoURL: videoURL}
}

// runStrategy isolates a strategy so a panic inside one parser cannot take
// down the cascade.
func runStrategy(ctx context.Context, s Strategy, page *Page) (md *model.VideoMetadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			md = nil
			err = eris.New(fmt.Sprintf("extract: %s panicked: %v", s.Name(), r))
		}
	}()
	return s.Extract(ctx, page)
}
