package core

import (
	"errors"
	"strings"
	"time"
)

const DayLayout = "2006-01-02"

// ParseDay turns an ISO day ("2024-01-05") or an RFC3339 timestamp into
// midnight of that calendar day in loc. Timestamps are first converted to loc.
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	if loc == nil {
		loc = time.UTC
	}
	if len(s) == len(DayLayout) {
		return time.ParseInLocation(DayLayout, s, loc)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
}

// DayKey normalises a date string to YYYY-MM-DD, or "" when it does not parse.
func DayKey(s string, loc *time.Location) string {
	t, err := ParseDay(s, loc)
	if err != nil {
		return ""
	}
	return t.Format(DayLayout)
}

// IsDay reports whether s is a valid YYYY-MM-DD day string.
func IsDay(s string) bool {
	if len(s) != len(DayLayout) {
		return false
	}
	_, err := time.Parse(DayLayout, s)
	return err == nil
}
