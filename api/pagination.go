package api

import (
	"net/http"
	"net/url"
	"strconv"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// PaginationMeta is embedded in paginated list responses.
type PaginationMeta struct {
	TotalCount int  `json:"total_count"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"has_more"`
}

// parsePagination reads "limit" and "offset". Anything missing, malformed
// or not positive falls back to the default; limit is capped at
// maxPageLimit.
func parsePagination(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit = min(positiveParam(q, "limit", defaultPageLimit), maxPageLimit)
	offset = positiveParam(q, "offset", 0)
	return limit, offset
}

func positiveParam(q url.Values, name string, fallback int) int {
	n, err := strconv.Atoi(q.Get(name))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// pageMeta describes a page of returned items taken at offset out of total.
func pageMeta(total, returned, limit, offset int) PaginationMeta {
	return PaginationMeta{
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
		HasMore:    offset+returned < total,
	}
}
