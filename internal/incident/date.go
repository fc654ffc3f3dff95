package incident

import (
	"regexp"
	"strings"
	"time"
)

// dateLayouts are tried in order against the normalized input.
var dateLayouts = []string{
	"2 Jan 2006",
	"2 January 2006",
	"2006-01-02",
	"2006-1-2",
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
}

// dayMonthYearRe extracts a "24 Feb 2026" style fragment from longer text,
// e.g. "Tuesday 24 February 2026, 14:30".
var dayMonthYearRe = regexp.MustCompile(`(\d{1,2}\s+[A-Za-z]{3,9}\s+\d{4})`)

// ParseDate extracts the calendar date from free text. It returns midnight
// UTC of that date and true, or false when no supported format matches.
func ParseDate(value string) (time.Time, bool) {
	s := normalizeDate(value)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil(t), true
		}
	}

	if m := dayMonthYearRe.FindString(s); m != "" {
		for _, layout := range dateLayouts[:2] {
			if t, err := time.Parse(layout, m); err == nil {
				return civil(t), true
			}
		}
	}

	return time.Time{}, false
}

// IsRecent reports whether value falls within [today-days, today] in UTC
// calendar days. Unparseable or empty values count as recent.
func IsRecent(value string, days int, now time.Time) bool {
	d, ok := ParseDate(value)
	if !ok {
		return true
	}
	today := civil(now.UTC())
	earliest := today.AddDate(0, 0, -days)
	return !d.Before(earliest) && !d.After(today)
}

func normalizeDate(value string) string {
	s := strings.Join(strings.Fields(value), " ")
	return strings.ReplaceAll(s, " GMT", " +0000")
}

// civil keeps the calendar date as seen in t's own location.
func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
