// Package openalex provides the OpenAlex works source.
//
// OpenAlex paginates with a 1-indexed page counter and wraps pages in a
// "results" envelope next to "meta". Supplying a contact email joins the
// polite pool.
package openalex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/biorelay/sci-api-client/pkg/cache"
	"github.com/biorelay/sci-api-client/pkg/client"
	"github.com/biorelay/sci-api-client/pkg/fallback"
	"github.com/biorelay/sci-api-client/pkg/pagination"
	"github.com/biorelay/sci-api-client/pkg/sources"
)

const (
	// DefaultBaseURL is the base URL for the OpenAlex API.
	DefaultBaseURL = "https://api.openalex.org"

	// DefaultPageSize is the per-page window per request, matching the
	// API's own default.
	DefaultPageSize = 25

	// DefaultMaxCalls is the per-period request budget for the OpenAlex
	// host. The polite pool allows ten requests per second.
	DefaultMaxCalls = 10

	// worksPath is the works search endpoint.
	worksPath = "/works"

	// uniqueKey identifies a work across pages.
	uniqueKey = "id"

	// sourceName identifies this source in provenance and logs.
	sourceName = "openalex"
)

// Config contains configuration options for the OpenAlex source.
type Config struct {
	// BaseURL is the API root. Defaults to DefaultBaseURL if empty.
	BaseURL string

	// Email is the contact address for the polite pool. Requests carry it
	// as the mailto parameter.
	Email string

	// PageSize is the per-page window per request.
	// Defaults to DefaultPageSize if zero.
	PageSize int

	// MaxPages bounds the page walk.
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

// Source fetches work records from OpenAlex with page-number pagination.
type Source struct {
	config Config
	client *client.Client
}

// Compile-time check that Source implements sources.Source.
var _ sources.Source = (*Source)(nil)

// New creates an OpenAlex source.
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

	c, err := client.New(ccfg, reg)
	if err != nil {
		return nil, fmt.Errorf("openalex client: %w", err)
	}

	return &Source{config: cfg, client: c}, nil
}

// Name returns the source identifier.
func (s *Source) Name() string { return sourceName }

// Enabled reports whether the source takes part in fan-out.
func (s *Source) Enabled() bool { return s.config.Enabled }

// Fetch searches works matching the query term. OpenAlex pages live under
// the "results" envelope, which the default parser already understands.
func (s *Source) Fetch(ctx context.Context, q sources.Query) (*sources.Result, error) {
	params := url.Values{}
	params.Set("search", q.Term)
	params.Set("per-page", strconv.Itoa(s.config.PageSize))
	if s.config.Email != "" {
		params.Set("mailto", s.config.Email)
	}

	maxPages := s.config.MaxPages
	if q.MaxRecords > 0 {
		if pages := (q.MaxRecords + s.config.PageSize - 1) / s.config.PageSize; pages < maxPages {
			maxPages = pages
		}
	}

	strategy := pagination.NewPageNumber(s.client, pagination.PageNumberConfig{
		MaxPages: maxPages,
	})

	key := cache.Key{Source: sourceName, Path: worksPath, Params: params}
	return sources.Collect(ctx, sourceName, s.config.Fallback, s.config.Store, key,
		func(ctx context.Context) ([]pagination.Record, error) {
			records, err := strategy.FetchAll(ctx, worksPath, uniqueKey, params)
			if err != nil {
				return nil, err
			}
			if q.MaxRecords > 0 && len(records) > q.MaxRecords {
				records = records[:q.MaxRecords]
			}
			return records, nil
		})
}
