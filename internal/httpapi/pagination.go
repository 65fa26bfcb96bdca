package httpapi

import (
	"net/http"
	"strconv"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// page is the uniform list response envelope.
type page[T any] struct {
	Items   []T  `json:"items"`
	Total   int  `json:"total"`
	Skip    int  `json:"skip"`
	Limit   int  `json:"limit"`
	HasMore bool `json:"has_more"`
}

func newPage[T any](items []T, total, skip, limit int) page[T] {
	if items == nil {
		items = []T{}
	}
	return page[T]{
		Items:   items,
		Total:   total,
		Skip:    skip,
		Limit:   limit,
		HasMore: skip+len(items) < total,
	}
}

// parsePagination reads skip/limit query parameters, clamping limit into
// [1, 200] with a default of 50 and skip to a non-negative value.
func parsePagination(r *http.Request) (skip, limit int) {
	q := r.URL.Query()
	skip = parseIntDefault(q.Get("skip"), 0)
	if skip < 0 {
		skip = 0
	}
	limit = parseIntDefault(q.Get("limit"), defaultPageLimit)
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return skip, limit
}

func parseIntDefault(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func parseInt64Param(s string) (int64, bool) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
