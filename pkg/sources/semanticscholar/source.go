// Package semanticscholar provides the Semantic Scholar Graph API source.
//
// Semantic Scholar paginates with offset/limit windows and wraps pages in
// a "data" envelope. An API key, sent as the x-api-key header, moves
// requests out of the shared public pool.
package semanticscholar

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/biorelay/sci-api-client/pkg/cache"
	"github.com/biorelay/sci-api-client/pkg/client"
	"github.com/biorelay/sci-api-client/pkg/fallback"
	"github.com/biorelay/sci-api-client/pkg/pagination"
	"github.com/biorelay/sci-api-client/pkg/sources"
)

const (
	// DefaultBaseURL is the base URL for the Semantic Scholar Graph API.
	DefaultBaseURL = "https://api.semanticscholar.org/graph/v1"

	// DefaultPageSize is the limit window per request, the API maximum.
	DefaultPageSize = 100

	// DefaultMaxCalls is the per-period request budget for the shared
	// public pool. Keyed clients can raise it.
	DefaultMaxCalls = 1

	// searchPath is the paper relevance search endpoint.
	searchPath = "/paper/search"

	// paperFields is the field list requested for every paper.
	paperFields = "paperId,externalIds,title,abstract,year,venue,authors,citationCount,isOpenAccess"

	// apiKeyHeader carries the Semantic Scholar API key.
	apiKeyHeader = "x-api-key"

	// uniqueKey identifies a paper across pages.
	uniqueKey = "paperId"

	// sourceName identifies this source in provenance and logs.
	sourceName = "semanticscholar"
)

// Config contains configuration options for the Semantic Scholar source.
type Config struct {
	// BaseURL is the API root. Defaults to DefaultBaseURL if empty.
	BaseURL string

	// APIKey is the optional API key. Keyed requests leave the shared
	// public pool; raise MaxCalls alongside it.
	APIKey string

	// PageSize is the limit window per request.
	// Defaults to DefaultPageSize if zero.
	PageSize int

	// MaxPages bounds the offset walk.
	// Defaults to pagination.DefaultMaxPages if zero.
	MaxPages int

	// MaxCalls is the number of requests allowed per Period.
	// Defaults to DefaultMaxCalls if zero.
	MaxCalls int

	// Period is the rate limit window. Defaults to one second if zero.
	Period time.Duration

	// Retries is the number of retry attempts after a failed request.
	// Negative disables retries; zero selects the client default.
	Retries int

	// BackoffMax caps retry delays and breaker cooldowns.
	// Zero selects the client default.
	BackoffMax time.Duration

	// Enabled reports whether the source takes part in registry fan-out.
	Enabled bool

	// Fallback enables serving last-good data on matching failures.
	Fallback *fallback.Manager

	// Store is the last-good payload store used for write-back and
	// fallback lookups.
	Store *cache.Store
}

// Source fetches paper records from Semantic Scholar with offset pagination.
type Source struct {
	config Config
	client *client.Client
}

// Compile-time check that Source implements sources.Source.
var _ sources.Source = (*Source)(nil)

// New creates a Semantic Scholar source.
func New(cfg Config, reg *client.Registry) (*Source, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = pagination.DefaultMaxPages
	}
	if cfg.MaxCalls == 0 {
		cfg.MaxCalls = DefaultMaxCalls
	}

	ccfg := client.DefaultConfig(cfg.BaseURL)
	ccfg.RateLimit.MaxCalls = cfg.MaxCalls
	if cfg.Period > 0 {
		ccfg.RateLimit.Period = cfg.Period
	}
	if cfg.Retries > 0 {
		ccfg.Retry.Total = cfg.Retries
	} else if cfg.Retries < 0 {
		ccfg.Retry.Total = 0
	}
	if cfg.BackoffMax > 0 {
		ccfg.Retry.BackoffMax = cfg.BackoffMax
	}
	if cfg.APIKey != "" {
		ccfg.DefaultHeaders = map[string]string{apiKeyHeader: cfg.APIKey}
	}

	c, err := client.New(ccfg, reg)
	if err != nil {
		return nil, fmt.Errorf("semanticscholar client: %w", err)
	}

	return &Source{config: cfg, client: c}, nil
}

// Name returns the source identifier.
func (s *Source) Name() string { return sourceName }

// Enabled reports whether the source takes part in fan-out.
func (s *Source) Enabled() bool { return s.config.Enabled }

// Fetch searches papers matching the query term. Pages live under the
// "data" envelope, which the default parser already understands.
func (s *Source) Fetch(ctx context.Context, q sources.Query) (*sources.Result, error) {
	params := url.Values{}
	params.Set("query", q.Term)
	params.Set("fields", paperFields)

	strategy := pagination.NewOffset(s.client, pagination.OffsetConfig{
		PageSize: s.config.PageSize,
		MaxItems: q.MaxRecords,
		MaxPages: s.config.MaxPages,
	})

	key := cache.Key{Source: sourceName, Path: searchPath, Params: params}
	return sources.Collect(ctx, sourceName, s.config.Fallback, s.config.Store, key,
		func(ctx context.Context) ([]pagination.Record, error) {
			return strategy.FetchAll(ctx, searchPath, uniqueKey, params)
		})
}
