package extract

import (
	"regexp"
)

// jsonObjectAfter returns the JSON object literal that starts at the first
// '{' following a match of re, or nil if none is found. The scan matches
// braces outside of string literals, so trailing script text is ignored.
func jsonObjectAfter(html string, re *regexp.Regexp) []byte {
	loc := re.FindStringIndex(html)
	if loc == nil {
		return nil
	}
	rest := html[loc[1]:]
	start := -1
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if c == '{' {
			start = i
			break
		}
		if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			return nil
		}
	}
	if start < 0 {
		return nil
	}
	return matchBraces([]byte(rest[start:]))
}

// matchBraces returns the prefix of b holding one balanced {...} value.
func matchBraces(b []byte) []byte {
	if len(b) == 0 || b[0] != '{' {
		return nil
	}
	depth := 0
	inStr := false
	escaped := false
	for i, c := range b {
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return b[:i+1]
			}
		}
	}
	return nil
}
