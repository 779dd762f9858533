// Package runcfg loads configuration for the sciapi-fetch binary from
// defaults, an optional yaml file, and SCIAPI_-prefixed environment
// variables. Secrets come from the environment only.
package runcfg

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/biorelay/sci-api-client/pkg/fallback"
)

// Config holds all configuration for the sciapi-fetch binary.
type Config struct {
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Fetch contains run-level fetch settings.
	Fetch FetchConfig `mapstructure:"fetch"`
	// Pacing contains the process-wide submission limiter settings.
	Pacing PacingConfig `mapstructure:"pacing"`
	// Redis contains last-good cache store settings.
	Redis RedisConfig `mapstructure:"redis"`
	// Fallback contains degraded-serve settings.
	Fallback FallbackConfig `mapstructure:"fallback"`
	// Sources contains per-upstream adapter settings.
	Sources SourcesConfig `mapstructure:"sources"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
}

// FetchConfig holds run-level fetch settings.
type FetchConfig struct {
	// MaxRecords caps the records fetched per source per term.
	// Zero means no cap.
	MaxRecords int `mapstructure:"max_records"`
	// Timeout bounds one term's fan-out across all sources.
	Timeout time.Duration `mapstructure:"timeout"`
	// Workers is the number of terms processed concurrently.
	Workers int `mapstructure:"workers"`
}

// PacingConfig holds the process-wide pacing limiter settings. The limiter
// gates fan-out submission; per-destination token buckets pace individual
// requests underneath it.
type PacingConfig struct {
	// RPS is the global fan-out submission rate per second.
	RPS float64 `mapstructure:"rps"`
	// Burst is the number of submissions allowed to proceed at once.
	Burst int `mapstructure:"burst"`
}

// RedisConfig holds last-good cache store settings.
type RedisConfig struct {
	// Enabled controls whether last-good caching and degraded serves are
	// available. Disabled, failures propagate without fallback data.
	Enabled bool `mapstructure:"enabled"`
	// Addr is the Redis server address.
	Addr string `mapstructure:"addr"`
	// Password is the Redis password (loaded from SCIAPI_REDIS_PASSWORD).
	Password string `mapstructure:"-"`
	// DB is the Redis database number.
	DB int `mapstructure:"db"`
	// TTL is the last-good payload retention. Zero selects the store
	// default.
	TTL time.Duration `mapstructure:"ttl"`
}

// FallbackConfig holds degraded-serve settings.
type FallbackConfig struct {
	// Enabled controls whether matching failures are answered from the
	// last-good store.
	Enabled bool `mapstructure:"enabled"`
	// Strategies names the failure shapes that may be served degraded
	// (network, timeout, 5xx).
	Strategies []string `mapstructure:"strategies"`
}

// StrategySet maps the configured strategy names onto fallback strategies.
func (c FallbackConfig) StrategySet() []fallback.Strategy {
	set := make([]fallback.Strategy, 0, len(c.Strategies))
	for _, name := range c.Strategies {
		set = append(set, fallback.Strategy(name))
	}
	return set
}

// SourcesConfig holds configuration for all upstream adapters.
type SourcesConfig struct {
	// ChEMBL contains ChEMBL molecule search settings.
	ChEMBL SourceConfig `mapstructure:"chembl"`
	// Crossref contains Crossref works settings.
	Crossref SourceConfig `mapstructure:"crossref"`
	// OpenAlex contains OpenAlex works settings.
	OpenAlex SourceConfig `mapstructure:"openalex"`
	// PubMed contains PubMed E-utilities settings.
	PubMed SourceConfig `mapstructure:"pubmed"`
	// SemanticScholar contains Semantic Scholar Graph API settings.
	SemanticScholar SourceConfig `mapstructure:"semanticscholar"`
}

// SourceConfig holds configuration for a single upstream adapter. Zero
// values select the adapter's own defaults.
type SourceConfig struct {
	// Enabled controls whether this source takes part in fan-out.
	Enabled bool `mapstructure:"enabled"`
	// BaseURL overrides the adapter's API root.
	BaseURL string `mapstructure:"base_url"`
	// APIKey is the source API key (loaded from the environment, e.g.
	// SCIAPI_SOURCES_PUBMED_API_KEY). Only PubMed and Semantic Scholar
	// read it.
	APIKey string `mapstructure:"-"`
	// Email is the polite-pool contact address. Only Crossref and
	// OpenAlex read it.
	Email string `mapstructure:"email"`
	// PageSize overrides the adapter's window size per request.
	PageSize int `mapstructure:"page_size"`
	// MaxCalls overrides the adapter's per-second request budget.
	MaxCalls int `mapstructure:"max_calls"`
	// Retries overrides the retry attempt count. Negative disables
	// retries.
	Retries int `mapstructure:"retries"`
}

// Load loads configuration from defaults, an optional config file, and
// environment variables.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SCIAPI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/sciapi")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// No config file is fine; defaults and env vars cover everything.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment
// variables. These fields carry mapstructure:"-" so config files cannot
// set them.
func loadSecrets(cfg *Config) {
	cfg.Redis.Password = os.Getenv("SCIAPI_REDIS_PASSWORD")

	cfg.Sources.PubMed.APIKey = os.Getenv("SCIAPI_SOURCES_PUBMED_API_KEY")
	cfg.Sources.SemanticScholar.APIKey = os.Getenv("SCIAPI_SOURCES_SEMANTICSCHOLAR_API_KEY")
}

// setDefaults sets default configuration values. Every key needs a default
// here for its environment variable to bind.
func setDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Fetch defaults
	v.SetDefault("fetch.max_records", 100)
	v.SetDefault("fetch.timeout", "2m")
	v.SetDefault("fetch.workers", 2)

	// Pacing defaults
	v.SetDefault("pacing.rps", 2.0)
	v.SetDefault("pacing.burst", 1)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "24h")

	// Fallback defaults
	v.SetDefault("fallback.enabled", true)
	v.SetDefault("fallback.strategies", []string{"network", "timeout", "5xx"})

	// Source defaults. Empty base URLs, zero page sizes and zero call
	// budgets select each adapter's own defaults.
	for _, source := range []string{"chembl", "crossref", "openalex", "pubmed", "semanticscholar"} {
		v.SetDefault("sources."+source+".enabled", true)
		v.SetDefault("sources."+source+".base_url", "")
		v.SetDefault("sources."+source+".email", "")
		v.SetDefault("sources."+source+".page_size", 0)
		v.SetDefault("sources."+source+".max_calls", 0)
		v.SetDefault("sources."+source+".retries", 0)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Fetch.Workers < 1 {
		return fmt.Errorf("fetch workers must be at least 1, got %d", c.Fetch.Workers)
	}
	if c.Fetch.MaxRecords < 0 {
		return fmt.Errorf("fetch max_records cannot be negative, got %d", c.Fetch.MaxRecords)
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive, got %v", c.Fetch.Timeout)
	}

	if c.Pacing.RPS <= 0 {
		return fmt.Errorf("pacing rps must be positive, got %v", c.Pacing.RPS)
	}
	if c.Pacing.Burst < 1 {
		return fmt.Errorf("pacing burst must be at least 1, got %d", c.Pacing.Burst)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when redis is enabled")
	}
	if c.Redis.TTL < 0 {
		return fmt.Errorf("redis ttl cannot be negative, got %v", c.Redis.TTL)
	}

	known := make(map[string]bool, len(fallback.AllStrategies))
	for _, s := range fallback.AllStrategies {
		known[string(s)] = true
	}
	for _, name := range c.Fallback.Strategies {
		if !known[name] {
			return fmt.Errorf("unknown fallback strategy: %s", name)
		}
	}

	return nil
}
