// Package ratelimit implements token-bucket pacing for outgoing API calls.
// Each upstream destination gets one bucket admitting at most capacity grants
// per period. Refill and grant arithmetic run under a single mutex; waiting
// happens outside it, so concurrent callers compute their own waits
// independently instead of queueing behind each other's sleeps.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for rate limiting.
var (
	sciapiRatelimitWaitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sciapi_ratelimit_waits_total",
		Help: "Total number of acquisitions that had to wait for a token",
	}, []string{"destination"})

	sciapiRatelimitWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sciapi_ratelimit_wait_seconds",
		Help:    "Time spent waiting for a rate limit token",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"destination"})
)

// jitterFraction bounds the random extension of a computed wait.
const jitterFraction = 0.1

// Bucket is a token-bucket rate limiter. Tokens refill continuously at
// capacity per period and each grant consumes one token. A fresh bucket
// starts full so a new destination serves its first burst without delay.
type Bucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	period     time.Duration
	lastRefill time.Time

	name   string
	jitter bool
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Bucket.
type Option func(*Bucket)

// WithJitter enables random extension of computed waits by up to 10%,
// spreading the wake-ups of concurrent waiters.
func WithJitter(enabled bool) Option {
	return func(b *Bucket) {
		b.jitter = enabled
	}
}

// WithName sets the destination name used in logs and metric labels.
func WithName(name string) Option {
	return func(b *Bucket) {
		b.name = name
	}
}

// WithClock replaces the time source. Intended for tests only.
func WithClock(now func() time.Time) Option {
	return func(b *Bucket) {
		b.now = now
	}
}

// WithLogger sets the logger used for wait events.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bucket) {
		b.logger = logger
	}
}

// New creates a bucket admitting at most maxCalls grants per period.
// Invalid values are clamped to a 1-call-per-second floor.
func New(maxCalls int, period time.Duration, opts ...Option) *Bucket {
	if maxCalls < 1 {
		maxCalls = 1
	}
	if period <= 0 {
		period = time.Second
	}

	b := &Bucket{
		capacity: float64(maxCalls),
		tokens:   float64(maxCalls),
		period:   period,
		name:     "default",
		now:      time.Now,
		logger:   log.With().Str("component", "ratelimit").Logger(),
	}

	for _, opt := range opts {
		opt(b)
	}

	b.lastRefill = b.now()
	return b
}

// Acquire blocks until a token is granted or ctx is done. On cancellation
// the pending wait is aborted and the context's error is returned.
func (b *Bucket) Acquire(ctx context.Context) error {
	var waited time.Duration

	for {
		b.mu.Lock()
		b.refillLocked()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			if waited > 0 {
				sciapiRatelimitWaitSeconds.WithLabelValues(b.name).Observe(waited.Seconds())
			}
			return nil
		}

		wait := time.Duration((1 - b.tokens) * float64(b.period) / b.capacity)
		if b.jitter && wait > 0 {
			wait += time.Duration(rand.Float64() * float64(wait) * jitterFraction)
		}
		b.mu.Unlock()

		sciapiRatelimitWaitsTotal.WithLabelValues(b.name).Inc()
		b.logger.Debug().
			Str("destination", b.name).
			Dur("wait", wait).
			Msg("Rate limit reached, waiting for token")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			waited += wait
		}
		// Another caller may have taken the refilled token; loop and
		// recompute rather than assuming the wait was sufficient.
	}
}

// refillLocked adds tokens for the time elapsed since the last refill,
// clamping at capacity. Callers must hold b.mu.
func (b *Bucket) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed.Seconds() / b.period.Seconds() * b.capacity
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// Tokens reports the current token level after applying pending refill.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

// Capacity reports the maximum number of tokens the bucket holds.
func (b *Bucket) Capacity() int {
	return int(b.capacity)
}
