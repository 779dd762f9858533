// Package main provides the sciapi-fetch command line tool. It fans search
// terms out across the configured scientific data sources and writes every
// collected record as one JSON line on stdout, with logs on stderr.
//
// Terms come from the command line arguments, or one per line on stdin when
// no arguments are given:
//
//	sciapi-fetch aspirin imatinib
//	cat terms.txt | sciapi-fetch -sources chembl,pubmed
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/biorelay/sci-api-client/internal/runcfg"
	"github.com/biorelay/sci-api-client/pkg/cache"
	"github.com/biorelay/sci-api-client/pkg/client"
	"github.com/biorelay/sci-api-client/pkg/fallback"
	"github.com/biorelay/sci-api-client/pkg/logging"
	"github.com/biorelay/sci-api-client/pkg/sources"
	"github.com/biorelay/sci-api-client/pkg/sources/chembl"
	"github.com/biorelay/sci-api-client/pkg/sources/crossref"
	"github.com/biorelay/sci-api-client/pkg/sources/openalex"
	"github.com/biorelay/sci-api-client/pkg/sources/pubmed"
	"github.com/biorelay/sci-api-client/pkg/sources/semanticscholar"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var sourceFlag string
	flag.StringVar(&sourceFlag, "sources", "", "comma-separated source names to query (default: all enabled)")
	flag.Parse()

	cfg, err := runcfg.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Format == "console",
		Output: os.Stderr,
	})
	logger = logger.With().Str("component", "sciapi-fetch").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	terms, err := readTerms(flag.Args(), os.Stdin)
	if err != nil {
		return err
	}
	if len(terms) == 0 {
		return fmt.Errorf("no search terms: pass them as arguments or one per line on stdin")
	}

	var store *cache.Store
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		defer rdb.Close()
		store = cache.NewStore(rdb, cfg.Redis.TTL)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Last-good store connected")
	}

	var fb *fallback.Manager
	if cfg.Fallback.Enabled {
		fb = fallback.NewManager(cfg.Fallback.StrategySet()...)
	}

	registry, err := buildRegistry(cfg, fb, store)
	if err != nil {
		return err
	}

	names := splitNames(sourceFlag)
	logger.Info().
		Int("terms", len(terms)).
		Int("workers", cfg.Fetch.Workers).
		Int("enabled_sources", len(registry.Enabled())).
		Msg("Starting acquisition")

	// The limiter paces fan-out submission. Per-destination token buckets
	// inside the client pace the individual sources underneath it.
	limiter := rate.NewLimiter(rate.Limit(cfg.Pacing.RPS), cfg.Pacing.Burst)

	stats := fetchTerms(ctx, registry, limiter, cfg.Fetch, names, terms, os.Stdout, logger)

	logger.Info().
		Int("terms", stats.Terms).
		Int("records", stats.Records).
		Int("degraded", stats.Degraded).
		Int("failures", stats.Failures).
		Msg("Acquisition complete")

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// buildRegistry registers every configured source against one shared client
// registry, so adapters hitting the same host stay paced together. Sources
// are always registered; the per-source Enabled switch only gates fan-out.
func buildRegistry(cfg *runcfg.Config, fb *fallback.Manager, store *cache.Store) (*sources.Registry, error) {
	clients := client.NewRegistry()
	registry := sources.NewRegistry()

	chemblSrc, err := chembl.New(chembl.Config{
		BaseURL:  cfg.Sources.ChEMBL.BaseURL,
		PageSize: cfg.Sources.ChEMBL.PageSize,
		MaxCalls: cfg.Sources.ChEMBL.MaxCalls,
		Retries:  cfg.Sources.ChEMBL.Retries,
		Enabled:  cfg.Sources.ChEMBL.Enabled,
		Fallback: fb,
		Store:    store,
	}, clients)
	if err != nil {
		return nil, err
	}
	registry.Register(chemblSrc)

	crossrefSrc, err := crossref.New(crossref.Config{
		BaseURL:  cfg.Sources.Crossref.BaseURL,
		Email:    cfg.Sources.Crossref.Email,
		PageSize: cfg.Sources.Crossref.PageSize,
		MaxCalls: cfg.Sources.Crossref.MaxCalls,
		Retries:  cfg.Sources.Crossref.Retries,
		Enabled:  cfg.Sources.Crossref.Enabled,
		Fallback: fb,
		Store:    store,
	}, clients)
	if err != nil {
		return nil, err
	}
	registry.Register(crossrefSrc)

	openalexSrc, err := openalex.New(openalex.Config{
		BaseURL:  cfg.Sources.OpenAlex.BaseURL,
		Email:    cfg.Sources.OpenAlex.Email,
		PageSize: cfg.Sources.OpenAlex.PageSize,
		MaxCalls: cfg.Sources.OpenAlex.MaxCalls,
		Retries:  cfg.Sources.OpenAlex.Retries,
		Enabled:  cfg.Sources.OpenAlex.Enabled,
		Fallback: fb,
		Store:    store,
	}, clients)
	if err != nil {
		return nil, err
	}
	registry.Register(openalexSrc)

	pubmedSrc, err := pubmed.New(pubmed.Config{
		BaseURL:   cfg.Sources.PubMed.BaseURL,
		APIKey:    cfg.Sources.PubMed.APIKey,
		BatchSize: cfg.Sources.PubMed.PageSize,
		MaxCalls:  cfg.Sources.PubMed.MaxCalls,
		Retries:   cfg.Sources.PubMed.Retries,
		Enabled:   cfg.Sources.PubMed.Enabled,
		Fallback:  fb,
		Store:     store,
	}, clients)
	if err != nil {
		return nil, err
	}
	registry.Register(pubmedSrc)

	s2Src, err := semanticscholar.New(semanticscholar.Config{
		BaseURL:  cfg.Sources.SemanticScholar.BaseURL,
		APIKey:   cfg.Sources.SemanticScholar.APIKey,
		PageSize: cfg.Sources.SemanticScholar.PageSize,
		MaxCalls: cfg.Sources.SemanticScholar.MaxCalls,
		Retries:  cfg.Sources.SemanticScholar.Retries,
		Enabled:  cfg.Sources.SemanticScholar.Enabled,
		Fallback: fb,
		Store:    store,
	}, clients)
	if err != nil {
		return nil, err
	}
	registry.Register(s2Src)

	return registry, nil
}

// runStats accumulates counters across the term pool.
type runStats struct {
	// Terms is the number of terms fully fanned out.
	Terms int

	// Records is the total record count written to the output.
	Records int

	// Degraded counts source results served from the last-good cache.
	Degraded int

	// Failures counts source results that returned an error.
	Failures int
}

// fetchTerms runs the term pool. Each worker waits for a limiter token,
// fans the term out across the sources, and appends the records to out as
// JSON lines. Output and counters share one mutex so lines never interleave.
func fetchTerms(ctx context.Context, registry *sources.Registry, limiter *rate.Limiter, fetchCfg runcfg.FetchConfig, names, terms []string, out io.Writer, logger zerolog.Logger) runStats {
	jobs := make(chan string)

	var mu sync.Mutex
	enc := json.NewEncoder(out)
	var stats runStats

	var wg sync.WaitGroup
	for i := 0; i < fetchCfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for term := range jobs {
				if err := limiter.Wait(ctx); err != nil {
					return
				}

				fetchCtx, cancel := context.WithTimeout(ctx, fetchCfg.Timeout)
				results := registry.FetchSources(fetchCtx, sources.Query{
					Term:       term,
					MaxRecords: fetchCfg.MaxRecords,
				}, names)
				cancel()

				mu.Lock()
				stats.Terms++
				for _, res := range results {
					if res.Err != nil && !res.Degraded {
						stats.Failures++
						continue
					}
					if res.Degraded {
						stats.Degraded++
					}
					stats.Records += len(res.Records)
					for _, rec := range res.Records {
						if err := enc.Encode(rec); err != nil {
							logger.Error().Err(err).Str("term", term).Msg("Write record failed")
						}
					}
				}
				mu.Unlock()
			}
		}()
	}

send:
	for _, term := range terms {
		select {
		case jobs <- term:
		case <-ctx.Done():
			break send
		}
	}
	close(jobs)
	wg.Wait()

	return stats
}

// readTerms returns the search terms from args, or reads one term per line
// from r when no args are given. Blank lines and #-comments are skipped.
func readTerms(args []string, r io.Reader) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}

	var terms []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		term := strings.TrimSpace(scanner.Text())
		if term == "" || strings.HasPrefix(term, "#") {
			continue
		}
		terms = append(terms, term)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read terms: %w", err)
	}
	return terms, nil
}

// splitNames parses the comma-separated -sources flag value.
func splitNames(v string) []string {
	if v == "" {
		return nil
	}
	var names []string
	for _, name := range strings.Split(v, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}
