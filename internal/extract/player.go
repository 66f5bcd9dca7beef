package extract

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/meeting-ingest/internal/model"
)

// Page layouts assign the player response either with a var declaration or
// directly onto window.
var playerResponsePatterns = []*regexp.Regexp{
	regexp.MustCompile(`var\s+ytInitialPlayerResponse\s*=\s*`),
	regexp.MustCompile(`(?:window\[["']ytInitialPlayerResponse["']\]|ytInitialPlayerResponse)\s*=\s*`),
}

// PlayerResponse reads the embedded ytInitialPlayerResponse object.
type PlayerResponse struct{}

// Name implements Strategy.
func (PlayerResponse) Name() string { return "player_response" }

type playerResponse struct {
	VideoDetails *struct {
		Title            string   `json:"title"`
		LengthSeconds    flexInt  `json:"lengthSeconds"`
		ShortDescription *string  `json:"shortDescription"`
		Author           string   `json:"author"`
		Keywords         []string `json:"keywords"`
	} `json:"videoDetails"`
	Microformat struct {
		PlayerMicroformatRenderer struct {
			PublishDate string `json:"publishDate"`
			UploadDate  string `json:"uploadDate"`
			OwnerName   string `json:"ownerChannelName"`
		} `json:"playerMicroformatRenderer"`
	} `json:"microformat"`
}

// Extract implements Strategy.
func (PlayerResponse) Extract(_ context.Context, page *Page) (*model.VideoMetadata, error) {
	var lastErr error
	for _, re := range playerResponsePatterns {
		blob := jsonObjectAfter(page.HTML, re)
		if blob == nil {
			continue
		}
		var pr playerResponse
		if err := json.Unmarshal(blob, &pr); err != nil {
			lastErr = eris.Wrap(err, "player_response: decode")
			continue
		}
		if pr.VideoDetails == nil {
			continue
		}
		return pr.toMetadata(), nil
	}
	return nil, lastErr
}

// PlayerResponseJSON returns the raw ytInitialPlayerResponse object embedded
// in a watch page, or nil when the page carries none.
func PlayerResponseJSON(html string) []byte {
	for _, re := range playerResponsePatterns {
		if blob := jsonObjectAfter(html, re); blob != nil {
			return blob
		}
	}
	return nil
}

func (pr *playerResponse) toMetadata() *model.VideoMetadata {
	vd := pr.VideoDetails
	md := &model.VideoMetadata{
		Title:       vd.Title,
		Description: vd.ShortDescription,
	}
	if vd.LengthSeconds.set {
		secs := vd.LengthSeconds.n
		md.DurationSeconds = &secs
	}
	channel := vd.Author
	if channel == "" {
		channel = pr.Microformat.PlayerMicroformatRenderer.OwnerName
	}
	if channel != "" {
		md.ChannelName = &channel
	}
	date := pr.Microformat.PlayerMicroformatRenderer.PublishDate
	if date == "" {
		date = pr.Microformat.PlayerMicroformatRenderer.UploadDate
	}
	md.PublishedAt = ParseDate(date)
	return md
}

// flexInt accepts a JSON number or a numeric string.
type flexInt struct {
	n   int
	set bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		// Tolerate junk here rather than failing the whole blob.
		return nil
	}
	f.n, f.set = n, true
	return nil
}
