// Package pubmed provides the PubMed E-utilities source.
//
// PubMed parks search results in a history-server session: one esearch
// call fixes (WebEnv, QueryKey, Count), then esummary windows slide
// retstart through the session. An API key raises the request budget NCBI
// grants per key.
package pubmed

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
	// DefaultBaseURL is the base URL for NCBI E-utilities.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov"

	// DefaultBatchSize is the retmax window per esummary request.
	DefaultBatchSize = 200

	// DefaultMaxCalls is the per-period request budget NCBI grants
	// without an API key.
	DefaultMaxCalls = 3

	// searchPath establishes the history-server session.
	searchPath = "/entrez/eutils/esearch.fcgi"

	// summaryPath fetches record windows out of the session.
	summaryPath = "/entrez/eutils/esummary.fcgi"

	// uniqueKey identifies an article across windows.
	uniqueKey = "uid"

	// sourceName identifies this source in provenance and logs.
	sourceName = "pubmed"
)

// Config contains configuration options for the PubMed source.
type Config struct {
	// BaseURL is the API root. Defaults to DefaultBaseURL if empty.
	BaseURL string

	// APIKey is the optional NCBI API key. Keyed requests get a larger
	// request budget; raise MaxCalls alongside it.
	APIKey string

	// BatchSize is the retmax window per esummary request.
	// Defaults to DefaultBatchSize if zero.
	BatchSize int

	// MaxPages bounds the window walk.
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

// Source fetches article summaries from PubMed through a WebEnv session.
type Source struct {
	config Config
	client *client.Client
}

// Compile-time check that Source implements sources.Source.
var _ sources.Source = (*Source)(nil)

// New creates a PubMed source.
func New(cfg Config, reg *client.Registry) (*Source, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
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
		return nil, fmt.Errorf("pubmed client: %w", err)
	}

	return &Source{config: cfg, client: c}, nil
}

// Name returns the source identifier.
func (s *Source) Name() string { return sourceName }

// Enabled reports whether the source takes part in fan-out.
func (s *Source) Enabled() bool { return s.config.Enabled }

// Fetch searches articles matching the query term.
func (s *Source) Fetch(ctx context.Context, q sources.Query) (*sources.Result, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", q.Term)
	params.Set("retmode", "json")
	if s.config.APIKey != "" {
		params.Set("api_key", s.config.APIKey)
	}

	maxPages := s.config.MaxPages
	if q.MaxRecords > 0 {
		if pages := (q.MaxRecords + s.config.BatchSize - 1) / s.config.BatchSize; pages < maxPages {
			maxPages = pages
		}
	}

	strategy := pagination.NewToken(s.client, pagination.TokenConfig{
		SearchPath: searchPath,
		BatchSize:  s.config.BatchSize,
		MaxPages:   maxPages,
		Parser:     parseSummaries,
	})

	key := cache.Key{Source: sourceName, Path: summaryPath, Params: params}
	return sources.Collect(ctx, sourceName, s.config.Fallback, s.config.Store, key,
		func(ctx context.Context) ([]pagination.Record, error) {
			records, err := strategy.FetchAll(ctx, summaryPath, uniqueKey, params)
			if err != nil {
				return nil, err
			}
			if q.MaxRecords > 0 && len(records) > q.MaxRecords {
				records = records[:q.MaxRecords]
			}
			return records, nil
		})
}

// parseSummaries flattens an esummary result set. The payload maps each
// uid to its summary object next to the "uids" index array.
func parseSummaries(body []byte) ([]pagination.Record, error) {
	var page struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("parse summary page: %w", err)
	}

	var uids []string
	if raw, ok := page.Result["uids"]; ok {
		if err := json.Unmarshal(raw, &uids); err != nil {
			return nil, fmt.Errorf("parse summary uids: %w", err)
		}
	}

	records := make([]pagination.Record, 0, len(uids))
	for _, uid := range uids {
		raw, ok := page.Result[uid]
		if !ok {
			continue
		}
		var rec pagination.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("parse summary %s: %w", uid, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
