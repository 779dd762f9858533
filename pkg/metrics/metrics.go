// Package metrics provides the centralized Prometheus metrics registry for the
// API client runtime. All metrics are defined in their respective packages
// (client, ratelimit, breaker, fallback, pagination, cache, sources) to
// maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the client runtime.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - sciapi_ratelimit_waits_total{destination} (Counter): Acquisitions that had to sleep
//   - sciapi_ratelimit_wait_seconds{destination} (Histogram): Time spent waiting for a token
//
// Circuit Breaker Metrics (pkg/breaker):
//   - sciapi_breaker_transitions_total{destination, to_state} (Counter): State transitions
//   - sciapi_breaker_rejections_total{destination} (Counter): Calls rejected while open
//   - sciapi_breaker_state{destination} (Gauge): Current state (0=closed, 1=open, 2=half_open)
//
// Request Metrics (pkg/client):
//   - sciapi_requests_total{destination, status} (Counter): Requests by destination and HTTP status
//   - sciapi_request_duration_seconds{destination} (Histogram): Request duration by destination
//   - sciapi_request_errors_total{destination, class} (Counter): Errors by class
//     (connection, timeout, http, decode, circuit_open, cancelled)
//
// Retry Metrics (pkg/client):
//   - sciapi_retries_total{destination, reason} (Counter): Retry attempts by reason
//   - sciapi_retry_delay_seconds{destination} (Histogram): Delay applied before a retry
//   - sciapi_retry_exhausted_total{destination} (Counter): Requests that exhausted all attempts
//
// Fallback Metrics (pkg/fallback):
//   - sciapi_fallbacks_total{strategy} (Counter): Degraded results served by strategy
//     (network, timeout, 5xx)
//
// Pagination Metrics (pkg/pagination):
//   - sciapi_pagination_pages_total{strategy} (Counter): Pages fetched per strategy
//   - sciapi_pagination_records_total{strategy} (Counter): Records collected per strategy
//   - sciapi_pagination_anomalies_total{strategy, kind} (Counter): Anomaly hook invocations
//     (empty_page, invalid_payload, page_limit)
//
// Cache Metrics (pkg/cache):
//   - sciapi_cache_hits_total{source} (Counter): Last-good payload hits
//   - sciapi_cache_misses_total{source} (Counter): Last-good payload misses
//   - sciapi_cache_stored_bytes_total (Counter): Bytes written to the cache
//   - sciapi_cache_errors_total{operation} (Counter): Cache operation errors
//
// Source Metrics (pkg/sources):
//   - sciapi_source_fetches_total{source, outcome} (Counter): Fetches by outcome
//     (ok, degraded, error)
//   - sciapi_source_records_total{source} (Counter): Records returned per source
//   - sciapi_source_fetch_duration_seconds{source} (Histogram): End-to-end fetch duration
//
// Example Prometheus Queries:
//
//   # Retry Rate per Destination
//   sum by (destination) (rate(sciapi_retries_total[5m]))
//
//   # Open Circuits
//   sciapi_breaker_state == 1
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(sciapi_request_duration_seconds_bucket[5m]))
//
//   # Fallback Cache Hit Rate
//   sum(rate(sciapi_cache_hits_total[5m])) /
//   (sum(rate(sciapi_cache_hits_total[5m])) + sum(rate(sciapi_cache_misses_total[5m])))
//
//   # Pagination Anomaly Rate
//   rate(sciapi_pagination_anomalies_total[5m])
//
//   # Degraded Serve Share per Source
//   sum by (source) (rate(sciapi_source_fetches_total{outcome="degraded"}[5m])) /
//   sum by (source) (rate(sciapi_source_fetches_total[5m]))
