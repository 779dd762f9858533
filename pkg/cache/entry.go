// Package cache provides a Redis-backed last-good payload store used as a
// fallback data source when an upstream API is unavailable.
package cache

import (
	"time"
)

// Entry is a cached payload together with provenance.
type Entry struct {
	// Payload is the raw response body as fetched from the upstream.
	Payload []byte `json:"payload"`

	// StoredAt is when the payload was written to the cache.
	StoredAt time.Time `json:"stored_at"`

	// Source is the data source the payload came from (e.g. "chembl").
	Source string `json:"source"`
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age() time.Duration {
	return time.Since(e.StoredAt)
}
