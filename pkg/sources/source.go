// Package sources defines the data-source abstraction layered on top of the
// client runtime. Adapters implement Source; Registry fans a query out
// across all enabled sources concurrently and stamps provenance onto every
// record it returns.
//
// Example usage:
//
//	registry := sources.NewRegistry()
//	registry.Register(chemblSource)
//	registry.Register(crossrefSource)
//
//	results := registry.FetchAll(ctx, sources.Query{
//		Term:       "aspirin",
//		MaxRecords: 500,
//	})
package sources

import (
	"context"
	"time"

	"github.com/biorelay/sci-api-client/pkg/pagination"
)

// Query describes one acquisition request fanned out to the sources.
type Query struct {
	// Term is the search expression handed to each source. Sources
	// translate it into their own query syntax.
	Term string

	// MaxRecords caps how many records a single source returns. Zero
	// means no cap beyond each source's page guard.
	MaxRecords int
}

// Result is the outcome of one source's fetch.
type Result struct {
	// Source is the reporting source's name.
	Source string

	// Records are the collected records. The registry stamps each with
	// provenance fields before returning.
	Records []pagination.Record

	// Degraded is true when Records came from the last-good cache instead
	// of the upstream.
	Degraded bool

	// Err is the fetch failure, or on degraded results the upstream error
	// the fallback absorbed.
	Err error

	// Elapsed is the wall-clock time the fetch took.
	Elapsed time.Duration
}

// Source is one upstream data source.
type Source interface {
	// Name returns the source identifier used in provenance and logs.
	Name() string

	// Enabled reports whether the source takes part in registry fan-out.
	Enabled() bool

	// Fetch collects records for the query. A source returns either a
	// complete record set, a degraded one flagged in the Result, or an
	// error. Partial pages are never returned unflagged as complete.
	Fetch(ctx context.Context, q Query) (*Result, error)
}
