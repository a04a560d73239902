// Package ext defines the extension system for Floodgate.
// Extensions are notified of lifecycle events (request admitted, saga
// compensated, breaker opened, etc.) and can react to them — auditing,
// metrics, alerting.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/floodgate/breaker"
	"github.com/xraph/floodgate/intervention"
	"github.com/xraph/floodgate/saga"
	"github.com/xraph/floodgate/wal"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Admission lifecycle hooks
// ──────────────────────────────────────────────────

// RequestAdmitted is called after a request passes the admission chain.
type RequestAdmitted interface {
	OnRequestAdmitted(ctx context.Context, tenantID string) error
}

// RequestQueued is called when a request parks in the fair scheduler.
type RequestQueued interface {
	OnRequestQueued(ctx context.Context, tenantID, requestID string) error
}

// RequestRejected is called when the admission chain rejects a request.
type RequestRejected interface {
	OnRequestRejected(ctx context.Context, tenantID, reason string) error
}

// TokenReclaimed is called when the sweep reclaims an expired
// concurrency lease.
type TokenReclaimed interface {
	OnTokenReclaimed(ctx context.Context, tenantID, tokenID string) error
}

// ──────────────────────────────────────────────────
// Tool call lifecycle hooks
// ──────────────────────────────────────────────────

// ToolCallCompleted is called after a tool call settles successfully.
type ToolCallCompleted interface {
	OnToolCallCompleted(ctx context.Context, entry *wal.Entry, elapsed time.Duration) error
}

// ToolCallFailed is called when a tool call settles with a terminal error.
type ToolCallFailed interface {
	OnToolCallFailed(ctx context.Context, entry *wal.Entry, err error) error
}

// BreakerStateChanged is called when a tool's circuit breaker moves
// between states.
type BreakerStateChanged interface {
	OnBreakerStateChanged(ctx context.Context, tool string, from, to breaker.State) error
}

// ──────────────────────────────────────────────────
// Saga lifecycle hooks
// ──────────────────────────────────────────────────

// SagaStarted is called when a saga execution begins.
type SagaStarted interface {
	OnSagaStarted(ctx context.Context, exec *saga.Execution) error
}

// SagaCompleted is called after a saga finishes with every step done.
type SagaCompleted interface {
	OnSagaCompleted(ctx context.Context, exec *saga.Execution, elapsed time.Duration) error
}

// SagaCompensated is called after a failed saga finishes undoing its
// completed steps.
type SagaCompensated interface {
	OnSagaCompensated(ctx context.Context, exec *saga.Execution) error
}

// SagaFailed is called when a saga fails terminally, including when
// compensation itself gave up.
type SagaFailed interface {
	OnSagaFailed(ctx context.Context, exec *saga.Execution, err error) error
}

// InterventionQueued is called when a compensation failure lands in the
// manual intervention queue.
type InterventionQueued interface {
	OnInterventionQueued(ctx context.Context, entry *intervention.Entry) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
