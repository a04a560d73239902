// Package bulkhead bounds concurrent calls to one downstream tool so a
// slow or failing dependency cannot absorb every worker in the process.
// Waiting for a permit is bounded: past MaxWait the call is rejected with
// floodgate.ErrBulkheadTimeout instead of queuing indefinitely.
package bulkhead

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/xraph/floodgate"
)

// Config holds the bulkhead bounds.
type Config struct {
	// MaxConcurrentCalls is the permit pool size.
	MaxConcurrentCalls int

	// MaxWait bounds how long a caller waits for a permit.
	// Zero means reject immediately when the pool is exhausted.
	MaxWait time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentCalls: 10,
		MaxWait:            500 * time.Millisecond,
	}
}

// Bulkhead is a bounded permit pool guarding one tool.
// Safe for concurrent use.
type Bulkhead struct {
	tool    string
	sem     *semaphore.Weighted
	maxWait time.Duration

	active   atomic.Int64
	rejected atomic.Int64
}

// New creates a Bulkhead for the named tool.
func New(tool string, cfg Config) *Bulkhead {
	max := cfg.MaxConcurrentCalls
	if max <= 0 {
		max = 1
	}
	return &Bulkhead{
		tool:    tool,
		sem:     semaphore.NewWeighted(int64(max)),
		maxWait: cfg.MaxWait,
	}
}

// Acquire takes a permit, waiting up to MaxWait. The caller must Release
// the permit when the call completes. Returns floodgate.ErrBulkheadTimeout
// when the wait bound is exceeded, or the context's error if the caller's
// context ends first.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	if b.maxWait <= 0 {
		if !b.sem.TryAcquire(1) {
			b.rejected.Add(1)
			return fmt.Errorf("%w: tool %q", floodgate.ErrBulkheadTimeout, b.tool)
		}
		b.active.Add(1)
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, b.maxWait)
	defer cancel()

	if err := b.sem.Acquire(waitCtx, 1); err != nil {
		b.rejected.Add(1)
		if ctx.Err() != nil {
			return floodgate.WithKind(floodgate.KindTimeout, ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: tool %q after %v", floodgate.ErrBulkheadTimeout, b.tool, b.maxWait)
		}
		return fmt.Errorf("bulkhead %q: acquire: %w", b.tool, err)
	}
	b.active.Add(1)
	return nil
}

// Release returns a permit.
func (b *Bulkhead) Release() {
	b.active.Add(-1)
	b.sem.Release(1)
}

// Stats reports the bulkhead's counters.
type Stats struct {
	Active   int64 `json:"active"`
	Rejected int64 `json:"rejected"`
}

// Stats returns current active and cumulative rejected call counts.
func (b *Bulkhead) Stats() Stats {
	return Stats{
		Active:   b.active.Load(),
		Rejected: b.rejected.Load(),
	}
}
