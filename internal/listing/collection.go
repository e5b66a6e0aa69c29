// Package listing derives the visible page of a log view from the full set
// of entries: month filter, category filter, vehicle filter, sort and
// pagination, always in that order.
package listing

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"gigfin/internal/core"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// Query is the view state of one log screen.
type Query struct {
	Month     string // YYYY-MM, empty for all months
	Category  string
	VehicleID int64
	SortBy    string
	Desc      bool
	Page      int
	PageSize  int
}

// Page is the visible slice of a collection.
type Page[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalItems int `json:"totalItems"`
	TotalPages int `json:"totalPages"`
}

// Spec describes how a collection reads its element type. Category and
// Vehicle may be nil when the entity has no such attribute.
type Spec[T any] struct {
	Date     func(T) string
	Category func(T) string
	Vehicle  func(T) *int64
	Sorts    map[string]func(a, b T) int
}

// Collection applies queries to entries of one kind.
type Collection[T any] struct {
	spec     Spec[T]
	loc      *time.Location
	pageSize int
}

func New[T any](spec Spec[T], defaultPageSize int, loc *time.Location) *Collection[T] {
	if defaultPageSize <= 0 || defaultPageSize > MaxPageSize {
		defaultPageSize = DefaultPageSize
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Collection[T]{spec: spec, loc: loc, pageSize: defaultPageSize}
}

// Apply recomputes the page for q from the complete entry list. The input
// slice is not modified.
func (c *Collection[T]) Apply(entries []T, q Query) Page[T] {
	return paginate(c.All(entries, q), q.Page, c.size(q.PageSize))
}

// All filters and sorts entries like Apply but returns every matching row.
func (c *Collection[T]) All(entries []T, q Query) []T {
	rows := make([]T, 0, len(entries))
	for _, e := range entries {
		if c.keep(e, q) {
			rows = append(rows, e)
		}
	}

	compare, ok := c.spec.Sorts[q.SortBy]
	desc := q.Desc
	if !ok {
		compare = c.byDate
		desc = true
	}
	slices.SortStableFunc(rows, func(a, b T) int {
		if desc {
			return compare(b, a)
		}
		return compare(a, b)
	})
	return rows
}

func (c *Collection[T]) keep(e T, q Query) bool {
	if q.Month != "" {
		day := core.DayKey(c.spec.Date(e), c.loc)
		if !strings.HasPrefix(day, q.Month) {
			return false
		}
	}
	if q.Category != "" && c.spec.Category != nil && c.spec.Category(e) != q.Category {
		return false
	}
	if q.VehicleID != 0 && c.spec.Vehicle != nil {
		v := c.spec.Vehicle(e)
		if v == nil || *v != q.VehicleID {
			return false
		}
	}
	return true
}

func (c *Collection[T]) byDate(a, b T) int {
	return CompareDates(c.spec.Date(a), c.spec.Date(b))
}

func (c *Collection[T]) size(n int) int {
	if n <= 0 {
		return c.pageSize
	}
	return min(n, MaxPageSize)
}

func paginate[T any](rows []T, page, size int) Page[T] {
	totalPages := (len(rows) + size - 1) / size
	if totalPages == 0 {
		totalPages = 1
	}
	page = max(1, min(page, totalPages))

	start := min((page-1)*size, len(rows))
	end := min(start+size, len(rows))
	return Page[T]{
		Items:      rows[start:end],
		Page:       page,
		PageSize:   size,
		TotalItems: len(rows),
		TotalPages: totalPages,
	}
}

// CompareDates orders day strings and RFC3339 timestamps chronologically.
// Unparsable values sort before everything else.
func CompareDates(a, b string) int {
	return cmp.Compare(instant(a).UnixNano(), instant(b).UnixNano())
}

func instant(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse(core.DayLayout, s); err == nil {
		return t
	}
	return time.Unix(0, 0).AddDate(-100, 0, 0)
}
