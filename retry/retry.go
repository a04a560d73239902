// Package retry re-runs a failed call according to a backoff strategy.
// Only errors the classifier deems retriable are retried; everything else
// surfaces immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/floodgate"
	"github.com/xraph/floodgate/backoff"
)

// Policy controls the retry loop.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Strategy computes the delay before each re-attempt.
	// Defaults to backoff.DefaultStrategy.
	Strategy backoff.Strategy

	// Retriable decides whether an attempt error warrants another try.
	// Defaults to floodgate.IsRetriable.
	Retriable func(error) bool
}

// DefaultPolicy returns a Policy with three attempts and jittered
// exponential backoff.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3}
}

// ExhaustedError reports that every permitted attempt failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: %d attempts exhausted: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Manager runs functions under a Policy.
type Manager struct {
	policy Policy
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for attempt diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a Manager, filling policy defaults.
func New(policy Policy, opts ...Option) *Manager {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.Strategy == nil {
		policy.Strategy = backoff.DefaultStrategy()
	}
	if policy.Retriable == nil {
		policy.Retriable = floodgate.IsRetriable
	}
	m := &Manager{policy: policy, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Do invokes fn until it succeeds, the policy is exhausted, a
// non-retriable error occurs, or ctx ends. The attempt number passed to
// fn starts at 1. When all attempts fail the returned error is an
// *ExhaustedError wrapping the last attempt's error.
func (m *Manager) Do(ctx context.Context, name string, fn func(ctx context.Context, attempt int) error) error {
	var last error
	for attempt := 1; attempt <= m.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return floodgate.WithKind(floodgate.KindTimeout, err)
		}

		last = fn(ctx, attempt)
		if last == nil {
			return nil
		}
		if !m.policy.Retriable(last) {
			return last
		}
		if attempt == m.policy.MaxAttempts {
			break
		}

		delay := m.policy.Strategy.Delay(attempt)
		m.logger.Debug("retrying after failure",
			"name", name,
			"attempt", attempt,
			"delay", delay,
			"error", last)

		if err := sleep(ctx, delay); err != nil {
			return floodgate.WithKind(floodgate.KindTimeout, err)
		}
	}
	return &ExhaustedError{Attempts: m.policy.MaxAttempts, Last: last}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Exhausted reports whether err is an exhausted-attempts error.
func Exhausted(err error) bool {
	var e *ExhaustedError
	return errors.As(err, &e)
}
