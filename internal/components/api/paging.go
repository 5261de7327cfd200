package api

import (
	"net/http"
	"strconv"
)

// DefaultPageSize is used when take is absent or invalid.
const DefaultPageSize = 10

// PageInfo describes one page of a listing.
type PageInfo struct {
	Pages    int `json:"pages"`
	PageSize int `json:"pageSize"`
	Results  int `json:"results"`
	Page     int `json:"page"`
}

// Page is a paged listing response.
type Page[T any] struct {
	PageInfo PageInfo `json:"pageInfo"`
	Results  []T      `json:"results"`
}

// NewPageInfo computes paging metadata for total results at skip/take.
func NewPageInfo(total, take, skip int) PageInfo {
	if take <= 0 {
		take = DefaultPageSize
	}
	return PageInfo{
		Pages:    (total + take - 1) / take,
		PageSize: take,
		Results:  total,
		Page:     (skip+take-1)/take + 1,
	}
}

// TakeSkip reads the take and skip query parameters. Invalid or negative
// values fall back to the defaults.
func TakeSkip(r *http.Request) (take, skip int) {
	take = DefaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("take")); err == nil && v > 0 {
		take = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("skip")); err == nil && v > 0 {
		skip = v
	}
	return take, skip
}
