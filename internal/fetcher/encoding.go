package fetcher

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// fallbackDecoding is a legacy encoding plus a check that its output is
// plausible text. Single-byte charmaps decode any input, so the check is
// what moves a body on to the next candidate.
type fallbackDecoding struct {
	enc encoding.Encoding
	ok  func(decoded string) bool
}

// fallbackDecodings are tried in order when a body is not valid UTF-8.
// ISO-8859-1 is rejected when it yields C1 controls (0x80-0x9F), which in
// page text almost always means Windows-1252 punctuation. Windows-1252 is
// rejected when it hits one of its five undefined bytes.
var fallbackDecodings = []fallbackDecoding{
	{enc: charmap.ISO8859_1, ok: func(s string) bool { return !strings.ContainsFunc(s, isC1Control) }},
	{enc: charmap.Windows1252, ok: func(s string) bool { return !strings.ContainsRune(s, utf8.RuneError) }},
}

func isC1Control(r rune) bool { return r >= 0x80 && r <= 0x9f }

// NormalizeUTF8 converts body to valid UTF-8 text. Valid UTF-8 passes
// through unchanged; otherwise each fallback encoding is tried, and as a
// last resort invalid sequences become U+FFFD.
func NormalizeUTF8(body []byte) string {
	if utf8.Valid(body) {
		return string(body)
	}
	for _, fb := range fallbackDecodings {
		out, err := fb.enc.NewDecoder().Bytes(body)
		if err != nil || !utf8.Valid(out) {
			continue
		}
		if s := string(out); fb.ok(s) {
			return s
		}
	}
	return strings.ToValidUTF8(string(body), string(utf8.RuneError))
}
