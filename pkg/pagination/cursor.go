package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

const cursorStrategy = "cursor"

// CursorConfig configures cursor-chained pagination.
type CursorConfig struct {
	// Param is the query parameter carrying the cursor. Defaults to "cursor".
	Param string

	// Initial is the cursor sent on the first request. Defaults to "*",
	// the convention Crossref and OpenAlex share for "start of the set".
	Initial string

	// MaxPages bounds the walk. Defaults to DefaultMaxPages.
	MaxPages int

	// Parser maps a page payload to records. Defaults to DefaultParser.
	Parser Parser

	Hooks Hooks
}

// Cursor pages through an endpoint by following the opaque continuation
// cursor each response carries. The walk stops when the cursor disappears,
// a page comes back empty, or the page guard trips.
type Cursor struct {
	client Getter
	config CursorConfig
}

var _ Strategy = (*Cursor)(nil)

// NewCursor creates a cursor strategy over client.
func NewCursor(client Getter, cfg CursorConfig) *Cursor {
	if cfg.Param == "" {
		cfg.Param = "cursor"
	}
	if cfg.Initial == "" {
		cfg.Initial = "*"
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.Parser == nil {
		cfg.Parser = DefaultParser
	}
	return &Cursor{client: client, config: cfg}
}

// FetchAll walks the cursor chain sequentially: page N+1 is never requested
// before page N's cursor is known.
func (c *Cursor) FetchAll(ctx context.Context, path, uniqueKey string, params url.Values) ([]Record, error) {
	start := time.Now()
	index := newDedupIndex(uniqueKey)

	var all []Record
	cursor := c.config.Initial

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return all, err
		}

		pageParams := cloneValues(params)
		pageParams.Set(c.config.Param, cursor)

		resp, err := c.client.Get(ctx, path, pageParams)
		if err != nil {
			return all, fmt.Errorf("fetch page %d: %w", page, err)
		}
		sciapiPaginationPagesTotal.WithLabelValues(cursorStrategy).Inc()

		records, err := c.config.Parser(resp.Body)
		if err != nil {
			c.config.Hooks.invalidPayload(cursorStrategy, page, err)
			return all, fmt.Errorf("parse page %d: %w", page, err)
		}

		if len(records) == 0 {
			c.config.Hooks.emptyPage(cursorStrategy, page)
			break
		}

		all = index.add(all, records)
		sciapiPaginationRecordsTotal.WithLabelValues(cursorStrategy).Add(float64(len(records)))

		cursor = extractCursor(resp.Body)
		if cursor == "" {
			break
		}

		if page >= c.config.MaxPages {
			c.config.Hooks.pageLimit(cursorStrategy, page)
			log.Warn().
				Str("path", path).
				Int("pages", page).
				Msg("Cursor pagination stopped by page guard")
			break
		}
	}

	log.Info().
		Str("path", path).
		Int("records", len(all)).
		Dur("duration", time.Since(start)).
		Msg("Cursor pagination complete")

	return all, nil
}

// extractCursor digs the continuation cursor out of a payload. Upstreams
// disagree on both key and nesting: OpenAlex returns meta.next_cursor,
// Crossref returns message.next-cursor. A missing or null cursor ends the
// walk.
func extractCursor(body []byte) string {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	if c := cursorIn(doc); c != "" {
		return c
	}
	for _, nest := range []string{"meta", "message"} {
		if sub, ok := doc[nest].(map[string]any); ok {
			if c := cursorIn(sub); c != "" {
				return c
			}
		}
	}
	return ""
}

func cursorIn(m map[string]any) string {
	for _, key := range []string{"next_cursor", "next-cursor"} {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
