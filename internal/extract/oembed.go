package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/meeting-ingest/internal/fetcher"
	"github.com/sells-group/meeting-ingest/internal/model"
	"github.com/sells-group/meeting-ingest/internal/resilience"
)

// DefaultOEmbedEndpoint is YouTube's public oEmbed endpoint.
const DefaultOEmbedEndpoint = "https://www.youtube.com/oembed"

// OEmbed asks the oEmbed endpoint for title and channel. It makes a network
// call, so it belongs at the end of the cascade.
type OEmbed struct {
	fetcher  fetcher.PageFetcher
	endpoint string
	breaker  *resilience.CircuitBreaker
}

// NewOEmbed creates the oEmbed strategy. A nil breaker disables circuit
// breaking.
func NewOEmbed(f fetcher.PageFetcher, endpoint string, breaker *resilience.CircuitBreaker) *OEmbed {
	if endpoint == "" {
		endpoint = DefaultOEmbedEndpoint
	}
	return &OEmbed{fetcher: f, endpoint: endpoint, breaker: breaker}
}

// Name implements Strategy.
func (o *OEmbed) Name() string { return "oembed" }

type oembedResponse struct {
	Title      string `json:"title"`
	AuthorName string `json:"author_name"`
}

// URLFor builds the oEmbed request URL for a video URL.
func (o *OEmbed) URLFor(videoURL string) string {
	sep := "?"
	if strings.Contains(o.endpoint, "?") {
		sep = "&"
	}
	return o.endpoint + sep + "format=json&url=" + url.QueryEscape(videoURL)
}

// Extract implements Strategy.
func (o *OEmbed) Extract(ctx context.Context, page *Page) (*model.VideoMetadata, error) {
	if page.URL == "" {
		return nil, nil
	}
	call := func(ctx context.Context) (string, error) {
		h := http.Header{}
		h.Set("Accept", "application/json")
		return o.fetcher.Fetch(ctx, o.URLFor(page.URL), h)
	}

	var (
		body string
		err  error
	)
	if o.breaker != nil {
		body, err = resilience.ExecuteVal(ctx, o.breaker, call)
	} else {
		body, err = call(ctx)
	}
	if err != nil {
		return nil, eris.Wrap(err, "oembed: fetch")
	}

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil
	}
	var resp oembedResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, eris.Wrap(err, "oembed: decode")
	}

	md := &model.VideoMetadata{Title: resp.Title}
	if resp.AuthorName != "" {
		md.ChannelName = &resp.AuthorName
	}
	return md, nil
}

// Default returns the standard cascade: structured data, player response,
// initial data, page title, then oEmbed.
func Default(f fetcher.PageFetcher, oembedEndpoint string, breaker *resilience.CircuitBreaker) *Extractor {
	return New(
		LDJSON{},
		PlayerResponse{},
		InitialData{},
		PageTitle{},
		NewOEmbed(f, oembedEndpoint, breaker),
	)
}
