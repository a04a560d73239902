// Package toolkit executes calls against downstream tools with the full
// resilience stack applied: idempotency, write-ahead logging, bulkhead
// isolation, circuit breaking, and retries with backoff. Each registered
// tool gets its own breaker and bulkhead so one failing dependency
// cannot poison the others.
package toolkit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xraph/floodgate/backoff"
	"github.com/xraph/floodgate/breaker"
	"github.com/xraph/floodgate/bulkhead"
	"github.com/xraph/floodgate/retry"
)

// Adapter is a downstream tool integration. Execute performs an
// operation; Compensate undoes a previously recorded result where the
// tool supports it.
type Adapter interface {
	// Name returns the unique tool name.
	Name() string

	// Execute performs the operation with the given parameters.
	Execute(ctx context.Context, operation string, params json.RawMessage) (json.RawMessage, error)

	// Compensate undoes the side effects of a previous Execute, given
	// its recorded result. Adapters without undo semantics return nil.
	Compensate(ctx context.Context, operation string, result json.RawMessage) error
}

// ToolConfig tunes the resilience stack for one tool.
type ToolConfig struct {
	// Timeout bounds each execution attempt. Zero disables the bound.
	Timeout time.Duration

	// MaxAttempts is the retry budget including the first attempt.
	MaxAttempts int

	// Backoff is the delay strategy between attempts.
	// Defaults to jittered exponential backoff.
	Backoff backoff.Strategy

	// Breaker configures the tool's circuit breaker.
	Breaker breaker.Config

	// Bulkhead configures the tool's concurrency isolation.
	Bulkhead bulkhead.Config

	// Idempotent marks operations whose results may be cached and
	// replayed. Only idempotent tools participate in deduplication.
	Idempotent bool
}

// DefaultToolConfig returns a ToolConfig with sensible defaults.
func DefaultToolConfig() ToolConfig {
	return ToolConfig{
		Timeout:     10 * time.Second,
		MaxAttempts: 3,
		Breaker:     breaker.DefaultConfig(),
		Bulkhead:    bulkhead.DefaultConfig(),
	}
}

// tool bundles an adapter with its per-tool resilience components.
type tool struct {
	adapter  Adapter
	cfg      ToolConfig
	breaker  *breaker.Breaker
	bulkhead *bulkhead.Bulkhead
	retrier  *retry.Manager
}
