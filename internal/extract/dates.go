package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var (
	isoDateRe     = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	monthDayRe    = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
	dayMonthRe    = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?,?\s+(\d{4})\b`)
	numericDateRe = regexp.MustCompile(`\b(\d{1,2})[/.-](\d{1,2})[/.-](\d{4}|\d{2})\b`)
	durationRe    = regexp.MustCompile(`^P(?:(\d+)D)?T?(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?$`)
)

var monthsByPrefix = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// ParseDate reads a date string in any common format ("2025-01-05",
// "2025-01-05T19:00:00-07:00", "Jan 5, 2025", "Streamed live on Jan 5, 2025").
// Returns nil for empty or unparsable input.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if t, err := dateparse.ParseIn(s, time.UTC); err == nil {
		return &t
	}
	return FindDate(s)
}

// FindDate locates the first recognizable calendar date inside free text
// such as a meeting title. Returns nil when none is found.
func FindDate(text string) *time.Time {
	if m := isoDateRe.FindStringSubmatch(text); m != nil {
		if t, ok := makeDate(m[1], monthNumber(m[2]), m[3]); ok {
			return &t
		}
	}
	if m := monthDayRe.FindStringSubmatch(text); m != nil {
		if t, ok := makeDate(m[3], monthsByPrefix[strings.ToLower(m[1][:3])], m[2]); ok {
			return &t
		}
	}
	if m := dayMonthRe.FindStringSubmatch(text); m != nil {
		if t, ok := makeDate(m[3], monthsByPrefix[strings.ToLower(m[2][:3])], m[1]); ok {
			return &t
		}
	}
	if m := numericDateRe.FindStringSubmatch(text); m != nil {
		year := m[3]
		if len(year) == 2 {
			year = "20" + year
		}
		// Municipal titles are US month/day/year.
		if t, ok := makeDate(year, monthNumber(m[1]), m[2]); ok {
			return &t
		}
	}
	return nil
}

func monthNumber(s string) time.Month {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 12 {
		return 0
	}
	return time.Month(n)
}

// makeDate builds a UTC date, rejecting out-of-range days such as Feb 30.
func makeDate(year string, month time.Month, day string) (time.Time, bool) {
	y, err := strconv.Atoi(year)
	if err != nil || month == 0 {
		return time.Time{}, false
	}
	d, err := strconv.Atoi(day)
	if err != nil || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, month, d, 0, 0, 0, 0, time.UTC)
	if t.Month() != month || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

// ParseISODuration converts an ISO-8601 duration such as "PT1H2M3S" into
// whole seconds.
func ParseISODuration(s string) (int, bool) {
	m := durationRe.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s)))
	if m == nil || (m[1] == "" && m[2] == "" && m[3] == "" && m[4] == "") {
		return 0, false
	}
	days, _ := strconv.Atoi(m[1])
	hours, _ := strconv.Atoi(m[2])
	minutes, _ := strconv.Atoi(m[3])
	secs, _ := strconv.ParseFloat(m[4], 64)
	return days*86400 + hours*3600 + minutes*60 + int(secs), true
}
