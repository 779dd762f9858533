package pagination

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const pageNumberStrategy = "page_number"

// PageNumberConfig configures page-counter pagination.
type PageNumberConfig struct {
	// Param is the query parameter carrying the page number.
	// Defaults to "page".
	Param string

	// Start is the first page number. Defaults to 1.
	Start int

	// MaxPages bounds the walk. Defaults to DefaultMaxPages.
	MaxPages int

	// Parser maps a page payload to records. Defaults to DefaultParser.
	Parser Parser

	Hooks Hooks
}

// PageNumber pages through an endpoint by incrementing a page counter until
// a page comes back empty. Some upstreams repeat trailing records when the
// set shifts underneath the walk, so records are deduplicated by uniqueKey.
type PageNumber struct {
	client Getter
	config PageNumberConfig
}

var _ Strategy = (*PageNumber)(nil)

// NewPageNumber creates a page-counter strategy over client.
func NewPageNumber(client Getter, cfg PageNumberConfig) *PageNumber {
	if cfg.Param == "" {
		cfg.Param = "page"
	}
	if cfg.Start <= 0 {
		cfg.Start = 1
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.Parser == nil {
		cfg.Parser = DefaultParser
	}
	return &PageNumber{client: client, config: cfg}
}

// FetchAll increments the page counter until an empty page or the page guard
// ends the walk.
func (p *PageNumber) FetchAll(ctx context.Context, path, uniqueKey string, params url.Values) ([]Record, error) {
	start := time.Now()
	index := newDedupIndex(uniqueKey)

	var all []Record

	for fetched := 1; ; fetched++ {
		if err := ctx.Err(); err != nil {
			return all, err
		}

		page := p.config.Start + fetched - 1
		pageParams := cloneValues(params)
		pageParams.Set(p.config.Param, strconv.Itoa(page))

		resp, err := p.client.Get(ctx, path, pageParams)
		if err != nil {
			return all, fmt.Errorf("fetch page %d: %w", page, err)
		}
		sciapiPaginationPagesTotal.WithLabelValues(pageNumberStrategy).Inc()

		records, err := p.config.Parser(resp.Body)
		if err != nil {
			p.config.Hooks.invalidPayload(pageNumberStrategy, page, err)
			return all, fmt.Errorf("parse page %d: %w", page, err)
		}

		if len(records) == 0 {
			p.config.Hooks.emptyPage(pageNumberStrategy, page)
			break
		}

		all = index.add(all, records)
		sciapiPaginationRecordsTotal.WithLabelValues(pageNumberStrategy).Add(float64(len(records)))

		if fetched >= p.config.MaxPages {
			p.config.Hooks.pageLimit(pageNumberStrategy, fetched)
			log.Warn().
				Str("path", path).
				Int("pages", fetched).
				Msg("Page-number pagination stopped by page guard")
			break
		}
	}

	log.Info().
		Str("path", path).
		Int("records", len(all)).
		Dur("duration", time.Since(start)).
		Msg("Page-number pagination complete")

	return all, nil
}
