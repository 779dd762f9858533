package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const tokenStrategy = "token"

// Session is a stored search context on the upstream, as returned by the
// E-utilities history server: a WebEnv handle, the query key within it, and
// the total number of matching records.
type Session struct {
	WebEnv   string
	QueryKey string
	Count    int
}

// SearchParser maps the initial search response to a Session.
type SearchParser func(body []byte) (Session, error)

// TokenConfig configures WebEnv/QueryKey session pagination.
type TokenConfig struct {
	// SearchPath is the endpoint that establishes the session,
	// e.g. "esearch.fcgi". Required.
	SearchPath string

	// SearchParser maps the search response to a Session. Defaults to
	// DefaultSearchParser, which reads the E-utilities JSON shape.
	SearchParser SearchParser

	// BatchSize is the retmax window per fetch. Defaults to 200.
	BatchSize int

	// MaxPages bounds the fetch loop. Defaults to DefaultMaxPages.
	MaxPages int

	// Parser maps a fetch payload to records. Defaults to DefaultParser.
	Parser Parser

	Hooks Hooks
}

// Token pages through an upstream that parks search results in a server-side
// session. One search call fixes (WebEnv, QueryKey, Count); fetches then
// slide retstart through the session until Count is reached. Ranges are
// disjoint, so records are kept positionally.
type Token struct {
	client Getter
	config TokenConfig
}

var _ Strategy = (*Token)(nil)

// NewToken creates a session strategy over client.
func NewToken(client Getter, cfg TokenConfig) *Token {
	if cfg.SearchParser == nil {
		cfg.SearchParser = DefaultSearchParser
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.Parser == nil {
		cfg.Parser = DefaultParser
	}
	return &Token{client: client, config: cfg}
}

// FetchAll establishes the session via SearchPath, then walks path with
// retstart/retmax windows until the session's Count is exhausted. uniqueKey
// is accepted for interface symmetry and ignored.
func (t *Token) FetchAll(ctx context.Context, path, uniqueKey string, params url.Values) ([]Record, error) {
	if t.config.SearchPath == "" {
		return nil, fmt.Errorf("token pagination requires a search path")
	}

	start := time.Now()

	searchParams := cloneValues(params)
	searchParams.Set("usehistory", "y")

	searchResp, err := t.client.Get(ctx, t.config.SearchPath, searchParams)
	if err != nil {
		return nil, fmt.Errorf("establish search session: %w", err)
	}

	session, err := t.config.SearchParser(searchResp.Body)
	if err != nil {
		t.config.Hooks.invalidPayload(tokenStrategy, 0, err)
		return nil, fmt.Errorf("parse search session: %w", err)
	}

	log.Debug().
		Str("path", path).
		Str("web_env", session.WebEnv).
		Str("query_key", session.QueryKey).
		Int("count", session.Count).
		Msg("Search session established")

	if session.Count == 0 {
		return nil, nil
	}

	var all []Record

	page := 0
	for retstart := 0; retstart < session.Count; retstart += t.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return all, err
		}

		page++
		pageParams := cloneValues(params)
		pageParams.Set("WebEnv", session.WebEnv)
		pageParams.Set("query_key", session.QueryKey)
		pageParams.Set("retstart", strconv.Itoa(retstart))
		pageParams.Set("retmax", strconv.Itoa(t.config.BatchSize))

		resp, err := t.client.Get(ctx, path, pageParams)
		if err != nil {
			return all, fmt.Errorf("fetch window at %d: %w", retstart, err)
		}
		sciapiPaginationPagesTotal.WithLabelValues(tokenStrategy).Inc()

		records, err := t.config.Parser(resp.Body)
		if err != nil {
			t.config.Hooks.invalidPayload(tokenStrategy, page, err)
			return all, fmt.Errorf("parse window at %d: %w", retstart, err)
		}

		// The session promised more records; an empty window means it
		// expired or shrank underneath the walk.
		if len(records) == 0 {
			t.config.Hooks.emptyPage(tokenStrategy, page)
			break
		}

		all = append(all, records...)
		sciapiPaginationRecordsTotal.WithLabelValues(tokenStrategy).Add(float64(len(records)))

		if page >= t.config.MaxPages {
			t.config.Hooks.pageLimit(tokenStrategy, page)
			log.Warn().
				Str("path", path).
				Int("pages", page).
				Msg("Token pagination stopped by page guard")
			break
		}
	}

	log.Info().
		Str("path", path).
		Int("records", len(all)).
		Int("count", session.Count).
		Dur("duration", time.Since(start)).
		Msg("Token pagination complete")

	return all, nil
}

// DefaultSearchParser reads the E-utilities esearch JSON shape, in which
// count and querykey arrive as strings.
func DefaultSearchParser(body []byte) (Session, error) {
	var doc struct {
		Result struct {
			Count    string `json:"count"`
			QueryKey string `json:"querykey"`
			WebEnv   string `json:"webenv"`
		} `json:"esearchresult"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return Session{}, fmt.Errorf("decode search response: %w", err)
	}
	if doc.Result.WebEnv == "" {
		return Session{}, fmt.Errorf("search response carries no WebEnv")
	}

	count, err := strconv.Atoi(doc.Result.Count)
	if err != nil {
		return Session{}, fmt.Errorf("parse result count %q: %w", doc.Result.Count, err)
	}

	return Session{
		WebEnv:   doc.Result.WebEnv,
		QueryKey: doc.Result.QueryKey,
		Count:    count,
	}, nil
}
