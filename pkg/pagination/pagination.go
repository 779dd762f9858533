package pagination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/biorelay/sci-api-client/pkg/client"
)

// Prometheus metrics for pagination flows.
var (
	sciapiPaginationPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sciapi_pagination_pages_total",
		Help: "Total pages fetched by strategy",
	}, []string{"strategy"})

	sciapiPaginationRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sciapi_pagination_records_total",
		Help: "Total records collected by strategy",
	}, []string{"strategy"})

	sciapiPaginationAnomaliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sciapi_pagination_anomalies_total",
		Help: "Total anomaly hook invocations by strategy and kind",
	}, []string{"strategy", "kind"})
)

// DefaultMaxPages bounds every pagination loop that is not given an explicit
// limit. Upstreams occasionally keep announcing further pages forever; the
// guard turns that into a bounded, logged stop instead of an infinite loop.
const DefaultMaxPages = 1000

// Record is one item of a paginated result set.
type Record map[string]any

// Parser maps a raw response payload to its records. Adapters supply one per
// endpoint; DefaultParser covers the common JSON shapes.
type Parser func(body []byte) ([]Record, error)

// Getter is the slice of the unified client pagination depends on.
type Getter interface {
	Get(ctx context.Context, path string, params url.Values) (*client.Response, error)
}

// Strategy is implemented by every pagination variant.
type Strategy interface {
	// FetchAll walks all pages of path and returns the deduplicated records.
	// On cancellation or a mid-walk failure it returns the records collected
	// so far together with the error, never a truncated result without one.
	FetchAll(ctx context.Context, path, uniqueKey string, params url.Values) ([]Record, error)
}

// Hooks receive pagination anomalies. All fields are optional; nil hooks are
// skipped. The matching counters are incremented regardless.
type Hooks struct {
	// OnEmptyPage fires when a fetched page parses to zero records.
	OnEmptyPage func(page int)

	// OnInvalidPayload fires when a page cannot be parsed.
	OnInvalidPayload func(page int, err error)

	// OnPageLimit fires when the page guard stops the walk.
	OnPageLimit func(pages int)
}

func (h Hooks) emptyPage(strategy string, page int) {
	sciapiPaginationAnomaliesTotal.WithLabelValues(strategy, "empty_page").Inc()
	if h.OnEmptyPage != nil {
		h.OnEmptyPage(page)
	}
}

func (h Hooks) invalidPayload(strategy string, page int, err error) {
	sciapiPaginationAnomaliesTotal.WithLabelValues(strategy, "invalid_payload").Inc()
	if h.OnInvalidPayload != nil {
		h.OnInvalidPayload(page, err)
	}
}

func (h Hooks) pageLimit(strategy string, pages int) {
	sciapiPaginationAnomaliesTotal.WithLabelValues(strategy, "page_limit").Inc()
	if h.OnPageLimit != nil {
		h.OnPageLimit(pages)
	}
}

// envelopeKeys are the wrapper fields DefaultParser looks under, in order.
var envelopeKeys = []string{"results", "items", "records", "data"}

// DefaultParser decodes a JSON payload into records. It accepts a bare array
// of objects or an object wrapping one under a common envelope key.
func DefaultParser(body []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	if trimmed[0] == '[' {
		var records []Record
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decode record array: %w", err)
		}
		return records, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	for _, key := range envelopeKeys {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		var records []Record
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("decode %q array: %w", key, err)
		}
		return records, nil
	}
	return nil, fmt.Errorf("no record array under any of %v", envelopeKeys)
}

// dedupIndex keeps the first occurrence of every unique key across pages.
// An empty key disables deduplication.
type dedupIndex struct {
	key  string
	seen map[string]struct{}
}

func newDedupIndex(key string) *dedupIndex {
	return &dedupIndex{key: key, seen: make(map[string]struct{})}
}

// add appends the not-yet-seen records to dst. Records missing the key are
// always kept; there is nothing for them to collide on.
func (d *dedupIndex) add(dst []Record, records []Record) []Record {
	if d.key == "" {
		return append(dst, records...)
	}
	for _, r := range records {
		v, ok := r[d.key]
		if !ok {
			dst = append(dst, r)
			continue
		}
		k := fmt.Sprintf("%v", v)
		if _, dup := d.seen[k]; dup {
			continue
		}
		d.seen[k] = struct{}{}
		dst = append(dst, r)
	}
	return dst
}

// cloneValues copies params so strategies can add their paging parameters
// without mutating the caller's map.
func cloneValues(params url.Values) url.Values {
	cloned := make(url.Values, len(params)+2)
	for k, vs := range params {
		cloned[k] = append([]string(nil), vs...)
	}
	return cloned
}
