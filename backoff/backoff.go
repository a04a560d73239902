// Package backoff provides pluggable retry delay strategies for tool
// execution. All strategies are safe for concurrent use (they are stateless).
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Fixed
// ──────────────────────────────────────────────────

// Fixed always returns the same delay regardless of attempt number.
type Fixed struct {
	Interval time.Duration
}

// NewFixed creates a fixed backoff strategy.
func NewFixed(interval time.Duration) *Fixed {
	return &Fixed{Interval: interval}
}

// Delay returns the fixed interval.
func (f *Fixed) Delay(_ int) time.Duration {
	return f.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear increases the delay linearly with the attempt number.
// Delay = min(Initial * attempt, Max).
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	d := l.Initial * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential grows the delay geometrically.
// Delay = min(Initial * Multiplier^(attempt-1), Max).
type Exponential struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// NewExponential creates an exponential backoff strategy with the default
// multiplier of 2.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Multiplier: 2, Max: maxDelay}
}

// Delay returns Initial * Multiplier^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	m := e.Multiplier
	if m <= 0 {
		m = 2
	}
	d := time.Duration(float64(e.Initial) * math.Pow(m, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Jitter
// ──────────────────────────────────────────────────

// Jitter wraps another strategy and multiplies each delay by a factor
// drawn uniformly from [0.5, 1.5), preventing thundering herd when many
// retries fire simultaneously. The wrapped strategy's Max cap (if any)
// still bounds the result because Jitter re-caps against it.
type Jitter struct {
	Inner Strategy

	// Max re-caps the jittered delay. Zero means no cap.
	Max time.Duration
}

// NewJitter wraps inner with [0.5, 1.5) multiplicative jitter capped at maxDelay.
func NewJitter(inner Strategy, maxDelay time.Duration) *Jitter {
	return &Jitter{Inner: inner, Max: maxDelay}
}

// Delay returns the inner delay scaled by a random factor in [0.5, 1.5).
func (j *Jitter) Delay(attempt int) time.Duration {
	base := float64(j.Inner.Delay(attempt))
	d := time.Duration(base * (0.5 + rand.Float64())) //nolint:gosec // jitter intentionally uses non-crypto rand
	if j.Max > 0 && d > j.Max {
		return j.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the default backoff used by the retry manager:
// exponential (1s initial, doubling) with [0.5, 1.5) jitter and a 1m cap.
func DefaultStrategy() Strategy {
	return NewJitter(NewExponential(1*time.Second, 1*time.Minute), 1*time.Minute)
}
