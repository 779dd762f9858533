package client

import (
	"sort"
	"sync"
	"time"

	"github.com/biorelay/sci-api-client/pkg/breaker"
	"github.com/biorelay/sci-api-client/pkg/ratelimit"
)

// destination bundles the rate limiter and circuit breaker shared by every
// client talking to one host.
type destination struct {
	limiter *ratelimit.Bucket
	breaker *breaker.Breaker
}

// Registry holds one limiter/breaker pair per destination host. Clients for
// the same upstream share a Registry so concurrent workers observe one
// combined call rate and one breaker state. There is no package-level
// instance; callers create a Registry and pass it to New.
type Registry struct {
	mu    sync.RWMutex
	pairs map[string]*destination
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{pairs: make(map[string]*destination)}
}

// pair returns the limiter/breaker pair for host, creating it on first use
// from cfg. The first client to reach a host fixes its pacing and breaker
// settings; later clients with different settings share the existing pair.
func (r *Registry) pair(host string, cfg Config) *destination {
	r.mu.RLock()
	d, ok := r.pairs[host]
	r.mu.RUnlock()
	if ok {
		return d
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.pairs[host]; ok {
		return d
	}

	opts := []ratelimit.Option{
		ratelimit.WithName(host),
		ratelimit.WithJitter(cfg.RateLimit.Jitter),
	}

	policy := BackoffPolicy{
		Multiplier: cfg.Retry.BackoffMultiplier,
		Max:        cfg.Retry.BackoffMax,
	}
	d = &destination{
		limiter: ratelimit.New(cfg.RateLimit.MaxCalls, cfg.RateLimit.Period, opts...),
		breaker: breaker.New(host, breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Cooldown: func(consecutiveOpens int) time.Duration {
				return policy.DelayFor(consecutiveOpens - 1)
			},
		}),
	}
	r.pairs[host] = d
	return d
}

// Destinations returns the hosts the registry currently tracks, sorted.
func (r *Registry) Destinations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hosts := make([]string, 0, len(r.pairs))
	for host := range r.pairs {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

// BreakerSnapshot reports the breaker state for host, if tracked.
func (r *Registry) BreakerSnapshot(host string) (breaker.Snapshot, bool) {
	r.mu.RLock()
	d, ok := r.pairs[host]
	r.mu.RUnlock()
	if !ok {
		return breaker.Snapshot{}, false
	}
	return d.breaker.Snapshot(), true
}
