package client

import (
	"math"
	"time"
)

// BackoffPolicy computes retry delays as an exponential sequence capped at
// Max: delay(attempt) = min(Multiplier^attempt, Max) seconds, attempt
// 0-based. The policy is pure; jitter, where wanted, is the caller's job.
//
// The same schedule drives circuit breaker cooldowns, keyed by the number of
// consecutive opens instead of the attempt index.
type BackoffPolicy struct {
	// Multiplier is the exponential base in seconds. Must be >= 1 for the
	// schedule to be non-decreasing; config validation enforces this.
	Multiplier float64

	// Max caps every computed delay.
	Max time.Duration
}

// DelayFor returns the delay to apply before retrying the given 0-based
// attempt. Negative attempts are treated as 0.
func (p BackoffPolicy) DelayFor(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	seconds := math.Pow(p.Multiplier, float64(attempt))
	// Compare in float space so large exponents cannot overflow Duration.
	if seconds >= p.Max.Seconds() {
		return p.Max
	}
	return time.Duration(seconds * float64(time.Second))
}
