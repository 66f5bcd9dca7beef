package extract

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	videoIDRe     = regexp.MustCompile(`"videoId":"([A-Za-z0-9_-]{11})"`)
	bareVideoIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
)

// VideoIDs returns every distinct video ID embedded in a playlist page, in
// the order first seen.
func VideoIDs(html string) []string {
	matches := videoIDRe.FindAllStringSubmatch(html, -1)
	seen := make(map[string]struct{}, len(matches))
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		id := m[1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// VideoIDFromURL pulls the video ID out of a watch, short or embed URL.
// Returns "" when none is present.
func VideoIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if v := u.Query().Get("v"); bareVideoIDRe.MatchString(v) {
		return v
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segs) == 0 {
		return ""
	}
	last := segs[len(segs)-1]
	if u.Host == "youtu.be" || (len(segs) >= 2 && (segs[0] == "embed" || segs[0] == "shorts" || segs[0] == "live")) {
		if bareVideoIDRe.MatchString(last) {
			return last
		}
	}
	return ""
}
