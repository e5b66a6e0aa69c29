package listing

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

var ErrInvalidQuery = errors.New("invalid list query")

// Paged reports whether any view parameter is present. Requests without one
// receive the whole list instead of a page.
func Paged(v url.Values) bool {
	for _, k := range []string{"month", "category", "vehicleId", "sort", "order", "page", "pageSize"} {
		if v.Has(k) {
			return true
		}
	}
	return false
}

// ParseQuery reads a Query from URL parameters:
// month=YYYY-MM, category, vehicleId, sort, order=asc|desc, page, pageSize.
func ParseQuery(v url.Values) (Query, error) {
	q := Query{
		Month:    v.Get("month"),
		Category: v.Get("category"),
		SortBy:   v.Get("sort"),
		Desc:     v.Get("order") != "asc",
		Page:     1,
	}
	if q.Month != "" {
		if _, err := time.Parse("2006-01", q.Month); err != nil {
			return Query{}, fmt.Errorf("%w: month must be YYYY-MM", ErrInvalidQuery)
		}
	}
	if o := v.Get("order"); o != "" && o != "asc" && o != "desc" {
		return Query{}, fmt.Errorf("%w: order must be asc or desc", ErrInvalidQuery)
	}

	var err error
	if q.VehicleID, err = intParam(v, "vehicleId"); err != nil {
		return Query{}, err
	}
	page, err := intParam(v, "page")
	if err != nil {
		return Query{}, err
	}
	if page > 0 {
		q.Page = int(page)
	}
	size, err := intParam(v, "pageSize")
	if err != nil {
		return Query{}, err
	}
	q.PageSize = int(size)
	return q, nil
}

func intParam(v url.Values, key string) (int64, error) {
	s := v.Get(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidQuery, key)
	}
	return n, nil
}
