// Package aggregate folds income, expense and odometer entries into the
// derived figures shown on dashboards: timeframe windows, daily and monthly
// rollups, category distributions and per-distance ratios.
//
// Everything here is pure and synchronous. Entries whose dates cannot be
// parsed are skipped rather than reported.
package aggregate

import (
	"fmt"
	"time"

	"gigfin/internal/core"
)

const (
	Today        Timeframe = "today"
	Weekly       Timeframe = "weekly"
	Monthly      Timeframe = "monthly"
	YearToDate   Timeframe = "yearToDate"
	Last12Months Timeframe = "last12Months"
	Last30Days   Timeframe = "last30Days"
	Last90Days   Timeframe = "last90Days"
)

// Timeframe is a named window relative to a reference instant.
type Timeframe string

// Timeframes lists every supported key.
var Timeframes = []Timeframe{Today, Weekly, Monthly, YearToDate, Last12Months, Last30Days, Last90Days}

// Range is an inclusive [Start, End] interval.
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the range, bounds included.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// ParseTimeframe validates a timeframe key.
func ParseTimeframe(s string) (Timeframe, error) {
	for _, tf := range Timeframes {
		if string(tf) == s {
			return tf, nil
		}
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}

// Resolve maps a timeframe key and reference instant to its date window.
// "today" shares the trailing seven day window with "weekly".
func Resolve(tf Timeframe, now time.Time) (Range, error) {
	switch tf {
	case Today, Weekly:
		return DayWindow(7, now), nil
	case Last30Days:
		return DayWindow(30, now), nil
	case Last90Days:
		return DayWindow(90, now), nil
	case Monthly:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return Range{Start: start, End: endOfDay(now)}, nil
	case YearToDate:
		start := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
		return Range{Start: start, End: endOfDay(now)}, nil
	case Last12Months:
		start := time.Date(now.Year(), now.Month()-11, 1, 0, 0, 0, 0, now.Location())
		return Range{Start: start, End: endOfDay(now)}, nil
	}
	return Range{}, fmt.Errorf("unknown timeframe %q", tf)
}

// DayWindow covers the last n calendar days, today included.
func DayWindow(n int, now time.Time) Range {
	if n < 1 {
		n = 1
	}
	start := startOfDay(now).AddDate(0, 0, -(n - 1))
	return Range{Start: start, End: endOfDay(now)}
}

// Dated is implemented by every entry kind.
type Dated interface {
	EntryDate() string
}

// FilterByRange keeps entries whose date falls inside r. Dates are read in
// the location of r.Start.
func FilterByRange[T Dated](entries []T, r Range) []T {
	loc := r.Start.Location()
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		d, err := core.ParseDay(e.EntryDate(), loc)
		if err != nil {
			continue
		}
		if r.Contains(d) {
			out = append(out, e)
		}
	}
	return out
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}
