package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"creditgate/internal/gate"
)

func scopeFrom(r *http.Request) (*gate.Scope, bool) {
	return gate.ScopeFromContext(r.Context())
}

// parsePagination reads limit/offset query parameters with a capped limit.
func parsePagination(r *http.Request, defaultLimit int) (limit, offset int) {
	query := r.URL.Query()

	limit = defaultLimit
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

// parseTimeRange reads from/to query parameters in RFC3339 format. The
// default window is the last 30 days.
func parseTimeRange(r *http.Request) (from, to time.Time, err error) {
	query := r.URL.Query()

	to = time.Now()
	from = to.AddDate(0, 0, -30)

	if raw := query.Get("from"); raw != "" {
		from, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, err
		}
	}
	if raw := query.Get("to"); raw != "" {
		to, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return from, to, err
		}
	}
	return from, to, nil
}
