// Package fallback decides whether a failed operation may be answered from a
// degraded source, such as a last-good cache snapshot or a static payload.
// It is a pure decision layer: retries and pacing belong to the client.
package fallback

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/biorelay/sci-api-client/pkg/client"
)

// Prometheus metrics for fallback decisions.
var (
	sciapiFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sciapi_fallbacks_total",
		Help: "Total degraded results served by strategy",
	}, []string{"strategy"})
)

// Strategy names a failure shape that may be answered with a fallback.
type Strategy string

const (
	// StrategyNetwork matches connection failures.
	StrategyNetwork Strategy = "network"

	// StrategyTimeout matches connect and read timeouts.
	StrategyTimeout Strategy = "timeout"

	// StrategyServerError matches HTTP 5xx responses.
	StrategyServerError Strategy = "5xx"
)

// AllStrategies enables every failure shape.
var AllStrategies = []Strategy{StrategyNetwork, StrategyTimeout, StrategyServerError}

// Provider supplies the degraded value once a strategy has matched.
type Provider[T any] func(ctx context.Context) (T, error)

// Static returns a provider that always serves value.
func Static[T any](value T) Provider[T] {
	return func(context.Context) (T, error) {
		return value, nil
	}
}

// Result carries the operation outcome. Degraded marks values served by a
// provider instead of the upstream; Cause then holds the original failure.
type Result[T any] struct {
	Value    T
	Degraded bool
	Cause    error
}

// Manager holds the enabled strategy set.
type Manager struct {
	strategies map[Strategy]bool
	logger     zerolog.Logger
}

// NewManager creates a manager with the given strategies enabled. With none
// enabled every failure propagates unchanged.
func NewManager(strategies ...Strategy) *Manager {
	enabled := make(map[Strategy]bool, len(strategies))
	for _, s := range strategies {
		enabled[s] = true
	}
	return &Manager{
		strategies: enabled,
		logger:     log.With().Str("component", "fallback").Logger(),
	}
}

// Enabled reports whether the strategy is part of the enabled set.
func (m *Manager) Enabled(s Strategy) bool {
	return m.strategies[s]
}

// ShouldFallback matches err against the enabled strategies. Cancellation,
// decode failures, open breakers, and 4xx responses never match; those
// failures carry information the caller must see.
func (m *Manager) ShouldFallback(err error) (Strategy, bool) {
	if err == nil {
		return "", false
	}

	switch {
	case client.IsConnection(err):
		if m.strategies[StrategyNetwork] {
			return StrategyNetwork, true
		}
	case client.IsTimeout(err):
		if m.strategies[StrategyTimeout] {
			return StrategyTimeout, true
		}
	default:
		if code, ok := client.StatusCode(err); ok && code >= 500 {
			if m.strategies[StrategyServerError] {
				return StrategyServerError, true
			}
		}
	}
	return "", false
}

// Do runs op and, when it fails with a matching shape, serves the provider's
// value instead. The original error is never swallowed silently: unmatched
// failures propagate unchanged, matched ones are logged and surface in
// Result.Cause. A provider failure also propagates the original error.
func Do[T any](ctx context.Context, m *Manager, op func(context.Context) (T, error), provider Provider[T]) (Result[T], error) {
	value, err := op(ctx)
	if err == nil {
		return Result[T]{Value: value}, nil
	}

	strategy, ok := m.ShouldFallback(err)
	if !ok || provider == nil {
		return Result[T]{}, err
	}

	fallbackValue, perr := provider(ctx)
	if perr != nil {
		m.logger.Warn().
			Err(err).
			AnErr("provider_error", perr).
			Str("strategy", string(strategy)).
			Msg("Fallback provider failed, propagating original error")
		return Result[T]{}, err
	}

	sciapiFallbacksTotal.WithLabelValues(string(strategy)).Inc()
	m.logger.Warn().
		Err(err).
		Str("strategy", string(strategy)).
		Msg("Serving degraded result")

	return Result[T]{Value: fallbackValue, Degraded: true, Cause: err}, nil
}
