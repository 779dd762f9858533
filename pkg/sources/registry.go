package sources

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/biorelay/sci-api-client/pkg/logging"
	"github.com/biorelay/sci-api-client/pkg/pagination"
)

var (
	sciapiSourceFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sciapi_source_fetches_total",
			Help: "Total source fetches by outcome",
		},
		[]string{"source", "outcome"}, // "ok", "degraded", "error"
	)

	sciapiSourceRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sciapi_source_records_total",
			Help: "Total records returned per source",
		},
		[]string{"source"},
	)

	sciapiSourceFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sciapi_source_fetch_duration_seconds",
			Help:    "Source fetch duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"source"},
	)
)

// Provenance fields stamped on every record by the registry.
const (
	// FieldSource names the source a record came from.
	FieldSource = "_source"

	// FieldFetchedAt is when this run obtained the record, RFC 3339 UTC.
	// For degraded results this is the serve time, not the original
	// upstream fetch.
	FieldFetchedAt = "_fetched_at"

	// FieldRunID ties a record to one fan-out run.
	FieldRunID = "_run_id"

	// FieldDegraded marks records served from the last-good cache.
	FieldDegraded = "_degraded"
)

// Registry owns the configured sources and coordinates concurrent fetches.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
	logger  zerolog.Logger
}

// NewRegistry creates an empty source registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]Source),
		logger:  logging.NewLogger("sources"),
	}
}

// Register adds a source. A source with the same name replaces the
// previous one.
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Name()] = s
}

// Get returns a source by name, or nil if not registered.
func (r *Registry) Get(name string) Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[name]
}

// All returns every registered source sorted by name.
func (r *Registry) All() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot(false)
}

// Enabled returns the sources taking part in fan-out, sorted by name.
func (r *Registry) Enabled() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot(true)
}

// snapshot copies the source set. Callers hold at least the read lock.
func (r *Registry) snapshot(enabledOnly bool) []Source {
	out := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		if enabledOnly && !s.Enabled() {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// FetchAll runs the query against every enabled source concurrently and
// returns one Result per source, sorted by source name. Failed sources
// report their error in Result.Err rather than aborting the run.
func (r *Registry) FetchAll(ctx context.Context, q Query) []Result {
	return r.FetchSources(ctx, q, nil)
}

// FetchSources runs the query against the named sources only. Nil or empty
// names selects all enabled sources; unknown names are skipped.
func (r *Registry) FetchSources(ctx context.Context, q Query, names []string) []Result {
	var targets []Source
	if len(names) == 0 {
		targets = r.Enabled()
	} else {
		r.mu.RLock()
		targets = make([]Source, 0, len(names))
		for _, name := range names {
			if s, ok := r.sources[name]; ok {
				targets = append(targets, s)
			}
		}
		r.mu.RUnlock()
	}
	if len(targets) == 0 {
		return nil
	}

	runID := uuid.NewString()
	r.logger.Info().
		Str("run_id", runID).
		Str("term", q.Term).
		Int("sources", len(targets)).
		Msg("Starting source fan-out")

	resultChan := make(chan Result, len(targets))
	var wg sync.WaitGroup

	for _, s := range targets {
		wg.Add(1)
		go func(s Source) {
			defer wg.Done()
			resultChan <- r.fetchOne(ctx, s, q, runID)
		}(s)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make([]Result, 0, len(targets))
	for res := range resultChan {
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Source < results[j].Source })
	return results
}

// fetchOne runs a single source and stamps provenance onto its records.
func (r *Registry) fetchOne(ctx context.Context, s Source, q Query, runID string) Result {
	start := time.Now()
	res, err := s.Fetch(ctx, q)
	elapsed := time.Since(start)

	sciapiSourceFetchDuration.WithLabelValues(s.Name()).Observe(elapsed.Seconds())

	if err != nil {
		sciapiSourceFetchesTotal.WithLabelValues(s.Name(), "error").Inc()
		r.logger.Error().
			Err(err).
			Str("run_id", runID).
			Str("source", s.Name()).
			Dur("elapsed", elapsed).
			Msg("Source fetch failed")
		return Result{Source: s.Name(), Err: err, Elapsed: elapsed}
	}

	out := Result{Source: s.Name()}
	if res != nil {
		out = *res
		out.Source = s.Name()
	}
	out.Elapsed = elapsed
	stampProvenance(out.Records, out.Source, runID, out.Degraded, time.Now().UTC())

	outcome := "ok"
	if out.Degraded {
		outcome = "degraded"
	}
	sciapiSourceFetchesTotal.WithLabelValues(out.Source, outcome).Inc()
	sciapiSourceRecordsTotal.WithLabelValues(out.Source).Add(float64(len(out.Records)))

	r.logger.Info().
		Str("run_id", runID).
		Str("source", out.Source).
		Int("records", len(out.Records)).
		Bool("degraded", out.Degraded).
		Dur("elapsed", elapsed).
		Msg("Source fetch complete")

	return out
}

// stampProvenance marks every record with the run identity, keeping
// degraded results distinguishable from genuine responses downstream.
func stampProvenance(records []pagination.Record, source, runID string, degraded bool, fetchedAt time.Time) {
	stamp := fetchedAt.Format(time.RFC3339)
	for _, rec := range records {
		rec[FieldSource] = source
		rec[FieldFetchedAt] = stamp
		rec[FieldRunID] = runID
		rec[FieldDegraded] = degraded
	}
}
