package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheHits tracks last-good cache hits by source
	cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sciapi_cache_hits_total",
			Help: "Total number of last-good cache hits",
		},
		[]string{"source"},
	)

	// cacheMisses tracks last-good cache misses by source
	cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sciapi_cache_misses_total",
			Help: "Total number of last-good cache misses",
		},
		[]string{"source"},
	)

	// cacheStoredBytes tracks bytes written to the cache
	cacheStoredBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sciapi_cache_stored_bytes_total",
			Help: "Total bytes written to the last-good cache",
		},
	)

	// cacheErrors tracks cache operation errors
	cacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sciapi_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "ttl"
	)
)
