package pagination

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const offsetStrategy = "offset"

// OffsetConfig configures offset/limit pagination.
type OffsetConfig struct {
	// OffsetParam is the query parameter for the window start.
	// Defaults to "offset".
	OffsetParam string

	// LimitParam is the query parameter for the window size.
	// Defaults to "limit".
	LimitParam string

	// PageSize is the window size per request. Defaults to 25.
	PageSize int

	// MaxItems caps the total records returned. Zero means no cap.
	MaxItems int

	// MaxPages bounds the walk. Defaults to DefaultMaxPages.
	MaxPages int

	// Parser maps a page payload to records. Defaults to DefaultParser.
	Parser Parser

	Hooks Hooks
}

// Offset pages through an endpoint by sliding a fixed-size window. Offsets
// guarantee disjoint ranges, so records are kept positionally without
// deduplication.
type Offset struct {
	client Getter
	config OffsetConfig
}

var _ Strategy = (*Offset)(nil)

// NewOffset creates an offset strategy over client.
func NewOffset(client Getter, cfg OffsetConfig) *Offset {
	if cfg.OffsetParam == "" {
		cfg.OffsetParam = "offset"
	}
	if cfg.LimitParam == "" {
		cfg.LimitParam = "limit"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 25
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.Parser == nil {
		cfg.Parser = DefaultParser
	}
	return &Offset{client: client, config: cfg}
}

// FetchAll slides the window until a short page, the item cap, or the page
// guard ends the walk. uniqueKey is accepted for interface symmetry and
// ignored.
func (o *Offset) FetchAll(ctx context.Context, path, uniqueKey string, params url.Values) ([]Record, error) {
	start := time.Now()

	var all []Record
	offset := 0

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return all, err
		}

		pageParams := cloneValues(params)
		pageParams.Set(o.config.LimitParam, strconv.Itoa(o.config.PageSize))
		pageParams.Set(o.config.OffsetParam, strconv.Itoa(offset))

		resp, err := o.client.Get(ctx, path, pageParams)
		if err != nil {
			return all, fmt.Errorf("fetch page %d: %w", page, err)
		}
		sciapiPaginationPagesTotal.WithLabelValues(offsetStrategy).Inc()

		records, err := o.config.Parser(resp.Body)
		if err != nil {
			o.config.Hooks.invalidPayload(offsetStrategy, page, err)
			return all, fmt.Errorf("parse page %d: %w", page, err)
		}

		if len(records) == 0 {
			o.config.Hooks.emptyPage(offsetStrategy, page)
			break
		}

		all = append(all, records...)
		sciapiPaginationRecordsTotal.WithLabelValues(offsetStrategy).Add(float64(len(records)))

		if o.config.MaxItems > 0 && len(all) >= o.config.MaxItems {
			all = all[:o.config.MaxItems]
			break
		}

		// A short page means the upstream ran out of items.
		if len(records) < o.config.PageSize {
			break
		}

		if page >= o.config.MaxPages {
			o.config.Hooks.pageLimit(offsetStrategy, page)
			log.Warn().
				Str("path", path).
				Int("pages", page).
				Msg("Offset pagination stopped by page guard")
			break
		}

		offset += o.config.PageSize
	}

	log.Info().
		Str("path", path).
		Int("records", len(all)).
		Dur("duration", time.Since(start)).
		Msg("Offset pagination complete")

	return all, nil
}
