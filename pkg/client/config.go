package client

import (
	"fmt"
	"net/url"
	"time"
)

// Default configuration values applied by DefaultConfig and for zero fields
// in New.
const (
	DefaultMaxCalls          = 5
	DefaultPeriod            = time.Second
	DefaultRetryTotal        = 3
	DefaultBackoffMultiplier = 2.0
	DefaultBackoffMax        = 30 * time.Second
	DefaultConnectTimeout    = 5 * time.Second
	DefaultReadTimeout       = 30 * time.Second
	DefaultFailureThreshold  = 5
	DefaultUserAgent         = "sci-api-client/1.0 (+https://github.com/biorelay/sci-api-client)"
)

// RateLimitConfig paces requests to one destination.
type RateLimitConfig struct {
	// MaxCalls is the number of grants per Period.
	MaxCalls int

	// Period is the refill window.
	Period time.Duration

	// Jitter extends computed waits by up to 10% to spread concurrent
	// wake-ups.
	Jitter bool
}

// RetryConfig bounds the retry loop.
type RetryConfig struct {
	// Total is the number of retries after the initial attempt.
	Total int

	// BackoffMultiplier is the exponential base in seconds. Must be >= 1.
	BackoffMultiplier float64

	// BackoffMax caps every retry delay and breaker cooldown.
	BackoffMax time.Duration
}

// TimeoutConfig carries the transport timeouts.
type TimeoutConfig struct {
	// Connect bounds dialing and the TLS handshake.
	Connect time.Duration

	// Read bounds waiting for response headers; Connect+Read bounds the
	// whole exchange.
	Read time.Duration
}

// BreakerConfig tunes the per-destination circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker.
	FailureThreshold int
}

// Config is the immutable per-destination client configuration. Adapters
// construct one per upstream and pass it to New; the client never mutates it.
type Config struct {
	// BaseURL is the upstream root every request path is joined to.
	BaseURL string

	// DefaultHeaders are set on every request. Per-call headers override.
	DefaultHeaders map[string]string

	// UserAgent is applied when neither DefaultHeaders nor the call set one.
	UserAgent string

	RateLimit RateLimitConfig
	Retry     RetryConfig
	Timeout   TimeoutConfig
	Breaker   BreakerConfig
}

// DefaultConfig returns a safe configuration for the given upstream.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: DefaultUserAgent,
		RateLimit: RateLimitConfig{
			MaxCalls: DefaultMaxCalls,
			Period:   DefaultPeriod,
		},
		Retry: RetryConfig{
			Total:             DefaultRetryTotal,
			BackoffMultiplier: DefaultBackoffMultiplier,
			BackoffMax:        DefaultBackoffMax,
		},
		Timeout: TimeoutConfig{
			Connect: DefaultConnectTimeout,
			Read:    DefaultReadTimeout,
		},
		Breaker: BreakerConfig{
			FailureThreshold: DefaultFailureThreshold,
		},
	}
}

// validate checks the configuration and fills defaults for zero values.
// Invalid (as opposed to unset) values are rejected.
func (c *Config) validate() (*url.URL, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base URL %q has no host", c.BaseURL)
	}

	if c.RateLimit.MaxCalls < 0 {
		return nil, fmt.Errorf("rate limit max_calls must be >= 0 (got %d)", c.RateLimit.MaxCalls)
	}
	if c.RateLimit.MaxCalls == 0 {
		c.RateLimit.MaxCalls = DefaultMaxCalls
	}
	if c.RateLimit.Period <= 0 {
		c.RateLimit.Period = DefaultPeriod
	}

	if c.Retry.Total < 0 {
		return nil, fmt.Errorf("retry total must be >= 0 (got %d)", c.Retry.Total)
	}
	if c.Retry.BackoffMultiplier == 0 {
		c.Retry.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if c.Retry.BackoffMultiplier < 1 {
		return nil, fmt.Errorf("backoff multiplier must be >= 1 (got %g)", c.Retry.BackoffMultiplier)
	}
	if c.Retry.BackoffMax <= 0 {
		c.Retry.BackoffMax = DefaultBackoffMax
	}

	if c.Timeout.Connect <= 0 {
		c.Timeout.Connect = DefaultConnectTimeout
	}
	if c.Timeout.Read <= 0 {
		c.Timeout.Read = DefaultReadTimeout
	}

	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = DefaultFailureThreshold
	}

	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}

	return base, nil
}
