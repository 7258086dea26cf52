package util

import (
	"fmt"
	"strings"
	"time"
)

// dateLayouts are the accepted textual date formats, tried in order.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"20060102",
	time.RFC3339,
}

// ParseDate parses a date string in any of the accepted layouts
// (YYYY-MM-DD, YYYY/MM/DD, YYYYMMDD, RFC3339) and returns it truncated to
// midnight UTC. An empty string parses to the zero time without error.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// DayString formats a timestamp as YYYY-MM-DD.
func DayString(ts time.Time) string {
	return ts.Format("2006-01-02")
}

// DaysBetween returns the whole calendar days from a to b. Negative when b
// precedes a.
func DaysBetween(a, b time.Time) int {
	a = time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// IsWeekend reports whether ts falls on a Saturday or Sunday.
func IsWeekend(ts time.Time) bool {
	wd := ts.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// PrevBusinessDay returns the latest weekday strictly before ts. Exchange
// holidays are not modelled here; callers needing exact sessions consult the
// market calendar from the data provider.
func PrevBusinessDay(ts time.Time) time.Time {
	d := ts.AddDate(0, 0, -1)
	for IsWeekend(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}
