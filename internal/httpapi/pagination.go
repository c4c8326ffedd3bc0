package httpapi

import (
	"net/http"
	"strconv"
)

// pageParams parses ?limit=&offset= from the query string, returning zero
// values on absence or malformed input so the service layer's own clamping
// (spec.md §5) is the single source of truth for the effective bound.
func pageParams(r *http.Request) (limit, offset int) {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	return limit, offset
}

// sinceCursor parses ?since=&limit= for the change-feed endpoint.
func sinceCursor(r *http.Request) (since int64, limit int) {
	if v := r.URL.Query().Get("since"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			since = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	return since, limit
}
