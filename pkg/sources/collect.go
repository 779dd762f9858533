package sources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/biorelay/sci-api-client/pkg/cache"
	"github.com/biorelay/sci-api-client/pkg/fallback"
	"github.com/biorelay/sci-api-client/pkg/pagination"
)

// Collect runs fetch with last-good write-back and fallback wiring. On
// success the records are stored under key (best effort); on a failure
// matching an enabled fallback strategy the last stored records are served
// instead, flagged as degraded in the Result. A nil manager disables
// fallback, a nil store disables both write-back and the cache provider.
func Collect(ctx context.Context, source string, fb *fallback.Manager, store *cache.Store, key cache.Key, fetch func(context.Context) ([]pagination.Record, error)) (*Result, error) {
	op := func(ctx context.Context) ([]pagination.Record, error) {
		records, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if store != nil && len(records) > 0 {
			payload, merr := json.Marshal(records)
			if merr == nil {
				if serr := store.Set(ctx, key, payload); serr != nil {
					log.Warn().
						Err(serr).
						Str("source", source).
						Msg("Last-good write-back failed")
				}
			}
		}
		return records, nil
	}

	if fb == nil {
		records, err := op(ctx)
		if err != nil {
			return nil, err
		}
		return &Result{Source: source, Records: records}, nil
	}

	var provider fallback.Provider[[]pagination.Record]
	if store != nil {
		provider = recordProvider(store, key)
	}

	res, err := fallback.Do(ctx, fb, op, provider)
	if err != nil {
		return nil, err
	}
	return &Result{
		Source:   source,
		Records:  res.Value,
		Degraded: res.Degraded,
		Err:      res.Cause,
	}, nil
}

// recordProvider adapts a last-good cache lookup into a record-level
// fallback provider.
func recordProvider(store *cache.Store, key cache.Key) fallback.Provider[[]pagination.Record] {
	payloads := store.Provider(key)
	return func(ctx context.Context) ([]pagination.Record, error) {
		payload, err := payloads(ctx)
		if err != nil {
			return nil, err
		}
		var records []pagination.Record
		if err := json.Unmarshal(payload, &records); err != nil {
			return nil, fmt.Errorf("decode cached records: %w", err)
		}
		return records, nil
	}
}
