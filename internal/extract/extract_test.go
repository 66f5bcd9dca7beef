package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/meeting-ingest/internal/model"
)

// mockStrategy implements Strategy for testing.
type mockStrategy struct {
	name   string
	result *model.VideoMetadata
	err    error
	calls  atomic.Int32
	panics bool
}

func (m *mockStrategy) Name() string { return m.name }

func (m *mockStrategy) Extract(_ context.Context, _ *Page) (*model.VideoMetadata, error) {
	m.calls.Add(1)
	if m.panics {
		panic("boom")
	}
	return m.result, m.err
}

func TestExtractor_FirstNonEmptyTitleWins(t *testing.T) {
	s1 := &mockStrategy{name: "first", err: errors.New("parse error")}
	s2 := &mockStrategy{name: "second", result: &model.VideoMetadata{Title: "   "}}
	s3 := &mockStrategy{name: "third", result: &model.VideoMetadata{Title: " Council "}}
	s4 := &mockStrategy{name: "fourth", result: &model.VideoMetadata{Title: "never"}}

	md := New(s1, s2, s3, s4).Extract(context.Background(), "<html></html>", watchURL)

	assert.Equal(t, "Council", md.Title)
	assert.Equal(t, "third", md.Source)
	assert.Equal(t, "dQw4w9WgXcQ", md.VideoID)
	assert.Equal(t, watchURL, md.VideoURL)
	assert.Equal(t, int32(1), s1.calls.Load())
	assert.Equal(t, int32(1), s2.calls.Load())
	assert.Equal(t, int32(0), s4.calls.Load())
}

func TestExtractor_PanicIsContained(t *testing.T) {
	s1 := &mockStrategy{name: "panicky", panics: true}
	s2 := &mockStrategy{name: "fallback", result: &model.VideoMetadata{Title: "Recovered"}}

	md := New(s1, s2).Extract(context.Background(), "", watchURL)
	assert.Equal(t, "Recovered", md.Title)
}

func TestExtractor_AllEmptyReturnsBareRecord(t *testing.T) {
	s1 := &mockStrategy{name: "a"}
	s2 := &mockStrategy{name: "b", err: errors.New("nope")}

	md := New(s1, s2).Extract(context.Background(), "", watchURL)
	require.NotNil(t, md)
	assert.Empty(t, md.Title)
	assert.Equal(t, "dQw4w9WgXcQ", md.VideoID)
	assert.Nil(t, md.PublishedAt)
}

func TestDefault_StructuredDataShortCircuits(t *testing.T) {
	var oembedHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		oembedHits.Add(1)
		w.Write([]byte(`{"title":"from oembed"}`))
	}))
	defer srv.Close()

	// The page also carries a player response and a <title>; neither may be used.
	html := `<html><head><title>Other - YouTube</title>
<script type="application/ld+json">{"@type":"VideoObject","name":"City Council Meeting"}</script>
<script>var ytInitialPlayerResponse = {"videoDetails":{"title":"Player Title"}};</script>
</head></html>`

	e := Default(newTestPageFetcher(), srv.URL, nil)
	md := e.Extract(context.Background(), html, watchURL)

	assert.Equal(t, "City Council Meeting", md.Title)
	assert.Equal(t, "ldjson", md.Source)
	assert.Equal(t, int32(0), oembedHits.Load())
}

func TestDefault_FallsThroughToPlayerResponse(t *testing.T) {
	html := `<script type="application/ld+json">{not json}</script>
<script>var ytInitialPlayerResponse = {"videoDetails":{"title":"Player Title","author":"Chandler"}};</script>`

	md := Default(newTestPageFetcher(), "http://127.0.0.1:0", nil).Extract(context.Background(), html, watchURL)
	assert.Equal(t, "Player Title", md.Title)
	assert.Equal(t, "player_response", md.Source)
	assert.Equal(t, "Chandler", *md.ChannelName)
}

func TestDefault_OEmbedLastResort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"title":"Town Hall","author_name":"Scottsdale"}`))
	}))
	defer srv.Close()

	md := Default(newTestPageFetcher(), srv.URL, nil).Extract(context.Background(), `<title></title>`, watchURL)
	assert.Equal(t, "Town Hall", md.Title)
	assert.Equal(t, "oembed", md.Source)
}

func TestDefault_NothingAnywhere(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	md := Default(newTestPageFetcher(), srv.URL, nil).Extract(context.Background(), `<html><title></title></html>`, watchURL)
	require.NotNil(t, md)
	assert.Empty(t, md.Title)
	assert.Empty(t, md.Source)
	assert.Nil(t, md.ChannelName)
	assert.Nil(t, md.DurationSeconds)
	assert.Nil(t, md.Description)
	assert.Nil(t, md.PublishedAt)
}

func TestExtractor_Strategies(t *testing.T) {
	e := Default(nil, "", nil)
	assert.Equal(t, []string{"ldjson", "player_response", "initial_data", "page_title", "oembed"}, e.Strategies())
}

func TestMatchBraces(t *testing.T) {
	assert.Equal(t, `{"a":"}"}`, string(matchBraces([]byte(`{"a":"}"};rest`))))
	assert.Equal(t, `{"a":"\"}"}`, string(matchBraces([]byte(`{"a":"\"}"} tail`))))
	assert.Equal(t, `{"a":"\\"}`, string(matchBraces([]byte(`{"a":"\\"}}`))))
	assert.Nil(t, matchBraces([]byte(`{"open":`)))
	assert.Nil(t, matchBraces([]byte(`[1]`)))
}
