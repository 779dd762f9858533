package cache

import (
	"context"

	"github.com/biorelay/sci-api-client/pkg/fallback"
)

// Provider adapts a cache lookup into a fallback provider so the last good
// payload can stand in for a failed upstream call.
//
//	result, err := fallback.Do(ctx, mgr, fetch, store.Provider(key))
//
// The provider returns ErrMiss when nothing usable is cached, which makes
// fallback.Do propagate the original upstream error.
func (s *Store) Provider(key Key) fallback.Provider[[]byte] {
	return func(ctx context.Context) ([]byte, error) {
		entry, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		return entry.Payload, nil
	}
}
