package client

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseRetryAfter converts a Retry-After header value into a wait duration.
// Numeric values are seconds, clamped at zero. Anything else is parsed as an
// HTTP-date per RFC 7231 (RFC 1123, RFC 850 and ANSI C formats); dates
// without an explicit zone are treated as UTC, and the wait is the distance
// from now, clamped at zero.
//
// Malformed values return a *ParseError. The retry loop treats that as
// "header absent" and falls back to the backoff policy.
//
// now is injected exclusively for testability; pass time.Now in production.
func ParseRetryAfter(value string, now func() time.Time) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, &ParseError{Value: value}
	}

	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		if seconds < 0 {
			seconds = 0
		}
		return time.Duration(seconds * float64(time.Second)), nil
	}

	when, err := http.ParseTime(value)
	if err != nil {
		return 0, &ParseError{Value: value}
	}

	if now == nil {
		now = time.Now
	}
	wait := when.Sub(now())
	if wait < 0 {
		wait = 0
	}
	return wait, nil
}
