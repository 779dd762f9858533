// Package chembl provides the ChEMBL molecule search source.
//
// ChEMBL paginates with limit/offset windows and wraps pages in a
// "molecules" envelope next to "page_meta".
package chembl

import (
	"context"
	"encoding/json"
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
	// DefaultBaseURL is the base URL for the ChEMBL REST API.
	DefaultBaseURL = "https://www.ebi.ac.uk"

	// DefaultPageSize is the number of molecules requested per page,
	// matching the API's own default limit.
	DefaultPageSize = 20

	// DefaultMaxCalls is the per-period request budget for the EBI host.
	DefaultMaxCalls = 3

	// searchPath is the molecule full-text search endpoint.
	searchPath = "/chembl/api/data/molecule/search.json"

	// uniqueKey identifies a molecule across pages.
	uniqueKey = "molecule_chembl_id"

	// sourceName identifies this source in provenance and logs.
	sourceName = "chembl"
)

// Config contains configuration options for the ChEMBL source.
type Config struct {
	// BaseURL is the API root. Defaults to DefaultBaseURL if empty.
	BaseURL string

	// PageSize is the offset window size per request.
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

// Source fetches molecule records from ChEMBL with offset pagination.
type Source struct {
	config Config
	client *client.Client
}

// Compile-time check that Source implements sources.Source.
var _ sources.Source = (*Source)(nil)

// New creates a ChEMBL source. Passing a shared client registry keys the
// rate limiter and breaker by the EBI host, so other clients of that host
// stay paced together.
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
		return nil, fmt.Errorf("chembl client: %w", err)
	}

	return &Source{config: cfg, client: c}, nil
}

// Name returns the source identifier.
func (s *Source) Name() string { return sourceName }

// Enabled reports whether the source takes part in fan-out.
func (s *Source) Enabled() bool { return s.config.Enabled }

// Fetch searches molecules matching the query term.
func (s *Source) Fetch(ctx context.Context, q sources.Query) (*sources.Result, error) {
	params := url.Values{}
	params.Set("q", q.Term)

	strategy := pagination.NewOffset(s.client, pagination.OffsetConfig{
		PageSize: s.config.PageSize,
		MaxItems: q.MaxRecords,
		MaxPages: s.config.MaxPages,
		Parser:   parseMolecules,
	})

	key := cache.Key{Source: sourceName, Path: searchPath, Params: params}
	return sources.Collect(ctx, sourceName, s.config.Fallback, s.config.Store, key,
		func(ctx context.Context) ([]pagination.Record, error) {
			return strategy.FetchAll(ctx, searchPath, uniqueKey, params)
		})
}

// parseMolecules extracts the molecules array from a ChEMBL page.
func parseMolecules(body []byte) ([]pagination.Record, error) {
	var page struct {
		Molecules []pagination.Record `json:"molecules"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("parse molecule page: %w", err)
	}
	return page.Molecules, nil
}
