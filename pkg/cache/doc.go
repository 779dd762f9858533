// Package cache provides a Redis-backed last-good payload store.
//
// The store keeps the most recent successful response per request so that
// a fallback layer can serve stale-but-real data while an upstream API is
// down. Entries carry the payload, the source name and the store time;
// retention is enforced through Redis TTLs.
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	// Create store with the default retention
//	store := cache.NewStore(redisClient, 0)
//
//	// Build a key from the request shape
//	key := cache.Key{
//		Source: "chembl",
//		Path:   "/chembl/api/data/molecule.json",
//		Params: url.Values{"limit": []string{"25"}},
//	}
//
//	// Write back after a successful fetch
//	if err := store.Set(ctx, key, resp.Body); err != nil {
//		return err
//	}
//
//	// Read the last good payload
//	entry, err := store.Get(ctx, key)
//	if err == cache.ErrMiss {
//		// nothing cached for this request
//	}
//
// # Fallback Bridge
//
// Store.Provider adapts a lookup into a fallback.Provider, so a degraded
// request can serve the cached payload:
//
//	result, err := fallback.Do(ctx, mgr, fetch, store.Provider(key))
//	if result.Degraded {
//		// payload came from the cache, result.Cause holds the upstream error
//	}
//
// # Metrics
//
// The store exports Prometheus metrics:
//
//   - sciapi_cache_hits_total{source} - Last-good cache hits
//   - sciapi_cache_misses_total{source} - Last-good cache misses
//   - sciapi_cache_stored_bytes_total - Bytes written to the cache
//   - sciapi_cache_errors_total{operation} - Cache operation errors
package cache
