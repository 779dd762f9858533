// Package breaker implements a consecutive-failure circuit breaker guarding
// one upstream destination. The breaker fails fast while the destination is
// known to be unhealthy instead of letting every caller rediscover the outage
// through timeouts and retries.
//
// State machine: Closed admits everything and counts consecutive failures;
// reaching the failure threshold opens the breaker. Open rejects everything
// until a cooldown elapses, then HalfOpen admits exactly one trial call.
// A successful trial closes the breaker; a failed trial reopens it with a
// longer cooldown. Open never transitions directly to Closed.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for circuit breaker state.
var (
	sciapiBreakerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sciapi_breaker_transitions_total",
		Help: "Total number of circuit breaker state transitions",
	}, []string{"destination", "to_state"})

	sciapiBreakerRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sciapi_breaker_rejections_total",
		Help: "Total number of calls rejected while the breaker was open",
	}, []string{"destination"})

	sciapiBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sciapi_breaker_state",
		Help: "Current circuit breaker state (0=closed, 1=open, 2=half_open)",
	}, []string{"destination"})
)

// ErrOpen is returned by Execute when the breaker rejects a call.
var ErrOpen = errors.New("circuit breaker open")

// State identifies the breaker's position in its lifecycle.
type State int

const (
	// StateClosed admits all calls and counts consecutive failures.
	StateClosed State = iota

	// StateOpen rejects all calls until the cooldown elapses.
	StateOpen

	// StateHalfOpen admits exactly one trial call.
	StateHalfOpen
)

// String returns the state name used in logs and metric labels.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Rejection reasons reported by Allow.
const (
	// ReasonOpen means the breaker is open and the cooldown has not elapsed.
	ReasonOpen = "open"

	// ReasonTrialInFlight means another caller holds the half-open trial slot.
	ReasonTrialInFlight = "trial_in_flight"
)

// Decision reports whether a call may proceed and, if not, why.
type Decision struct {
	Allowed bool
	State   State
	Reason  string
}

// Snapshot is a point-in-time copy of the breaker's mutable state.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	OpenedAt            *time.Time
	TrialInFlight       bool
}

// Config holds the tunable parameters of a breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker.
	FailureThreshold int

	// Cooldown computes how long the breaker stays open from the number of
	// consecutive opens (1-based). Repeated opens should yield longer holds.
	Cooldown func(consecutiveOpens int) time.Duration
}

// DefaultConfig returns a conservative breaker configuration: five
// consecutive failures open the breaker, cooldowns double from 30s up to 5m.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         defaultCooldown,
	}
}

func defaultCooldown(consecutiveOpens int) time.Duration {
	cooldown := 30 * time.Second
	for i := 1; i < consecutiveOpens; i++ {
		cooldown *= 2
		if cooldown >= 5*time.Minute {
			return 5 * time.Minute
		}
	}
	return cooldown
}

// Breaker tracks the health of one destination. All mutable state is guarded
// by a single mutex; no I/O happens under the lock.
type Breaker struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	opens               int
	trialInFlight       bool

	destination string
	threshold   int
	cooldown    func(int) time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

// New creates a closed breaker for the given destination. Zero config values
// fall back to DefaultConfig.
func New(destination string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Cooldown == nil {
		cfg.Cooldown = defaultCooldown
	}

	b := &Breaker{
		state:       StateClosed,
		destination: destination,
		threshold:   cfg.FailureThreshold,
		cooldown:    cfg.Cooldown,
		now:         time.Now,
		logger: log.With().
			Str("component", "breaker").
			Str("destination", destination).
			Logger(),
	}
	sciapiBreakerState.WithLabelValues(destination).Set(float64(StateClosed))
	return b
}

// SetClock replaces the time source. Intended for tests only.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Allow reports whether a call may proceed. In the half-open state the first
// allowed caller claims the single trial slot; concurrent callers are
// rejected until the trial outcome is recorded.
func (b *Breaker) Allow() Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advanceLocked()

	switch b.state {
	case StateOpen:
		sciapiBreakerRejectionsTotal.WithLabelValues(b.destination).Inc()
		return Decision{Allowed: false, State: StateOpen, Reason: ReasonOpen}
	case StateHalfOpen:
		if b.trialInFlight {
			sciapiBreakerRejectionsTotal.WithLabelValues(b.destination).Inc()
			return Decision{Allowed: false, State: StateHalfOpen, Reason: ReasonTrialInFlight}
		}
		b.trialInFlight = true
		return Decision{Allowed: true, State: StateHalfOpen}
	default:
		return Decision{Allowed: true, State: StateClosed}
	}
}

// RecordSuccess reports a successful call. A successful half-open trial
// closes the breaker and resets all counters.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.trialInFlight = false
		b.consecutiveFailures = 0
		b.opens = 0
		b.transitionLocked(StateClosed)
	case StateClosed:
		b.consecutiveFailures = 0
	}
	// A success reported while open belongs to a call admitted before the
	// breaker opened; the cooldown still applies.
}

// RecordFailure reports a failed call. Reaching the failure threshold in the
// closed state, or failing the half-open trial, opens the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.threshold {
			b.openLocked()
		}
	case StateHalfOpen:
		b.trialInFlight = false
		b.openLocked()
	}
}

// State returns the current state, applying a pending Open -> HalfOpen
// transition first.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()
	return b.state
}

// Snapshot returns a copy of the breaker's state for introspection.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()

	snap := Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		TrialInFlight:       b.trialInFlight,
	}
	if !b.openedAt.IsZero() {
		openedAt := b.openedAt
		snap.OpenedAt = &openedAt
	}
	return snap
}

// Execute runs fn under the breaker's admission control and records the
// outcome. Rejected calls return ErrOpen without running fn.
func (b *Breaker) Execute(fn func() error) error {
	if decision := b.Allow(); !decision.Allowed {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// advanceLocked flips Open to HalfOpen once the cooldown has elapsed.
// Callers must hold b.mu.
func (b *Breaker) advanceLocked() {
	if b.state != StateOpen {
		return
	}
	if b.now().Sub(b.openedAt) >= b.cooldown(b.opens) {
		b.trialInFlight = false
		b.transitionLocked(StateHalfOpen)
	}
}

// openLocked moves to Open with a fresh opened_at and an incremented
// consecutive-open count. Callers must hold b.mu.
func (b *Breaker) openLocked() {
	b.openedAt = b.now()
	b.opens++
	b.transitionLocked(StateOpen)
}

// transitionLocked applies a state change and emits the transition event.
// Callers must hold b.mu.
func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	sciapiBreakerTransitionsTotal.WithLabelValues(b.destination, to.String()).Inc()
	sciapiBreakerState.WithLabelValues(b.destination).Set(float64(to))

	event := b.logger.Info()
	if to == StateOpen {
		event = b.logger.Warn()
	}
	event.
		Str("from", from.String()).
		Str("to", to.String()).
		Int("consecutive_failures", b.consecutiveFailures).
		Int("consecutive_opens", b.opens).
		Msg("Circuit breaker state transition")
}
