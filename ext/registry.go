package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/floodgate/breaker"
	"github.com/xraph/floodgate/intervention"
	"github.com/xraph/floodgate/saga"
	"github.com/xraph/floodgate/wal"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type requestAdmittedEntry struct {
	name string
	hook RequestAdmitted
}

type requestQueuedEntry struct {
	name string
	hook RequestQueued
}

type requestRejectedEntry struct {
	name string
	hook RequestRejected
}

type tokenReclaimedEntry struct {
	name string
	hook TokenReclaimed
}

type toolCallCompletedEntry struct {
	name string
	hook ToolCallCompleted
}

type toolCallFailedEntry struct {
	name string
	hook ToolCallFailed
}

type breakerStateChangedEntry struct {
	name string
	hook BreakerStateChanged
}

type sagaStartedEntry struct {
	name string
	hook SagaStarted
}

type sagaCompletedEntry struct {
	name string
	hook SagaCompleted
}

type sagaCompensatedEntry struct {
	name string
	hook SagaCompensated
}

type sagaFailedEntry struct {
	name string
	hook SagaFailed
}

type interventionQueuedEntry struct {
	name string
	hook InterventionQueued
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	requestAdmitted     []requestAdmittedEntry
	requestQueued       []requestQueuedEntry
	requestRejected     []requestRejectedEntry
	tokenReclaimed      []tokenReclaimedEntry
	toolCallCompleted   []toolCallCompletedEntry
	toolCallFailed      []toolCallFailedEntry
	breakerStateChanged []breakerStateChangedEntry
	sagaStarted         []sagaStartedEntry
	sagaCompleted       []sagaCompletedEntry
	sagaCompensated     []sagaCompensatedEntry
	sagaFailed          []sagaFailedEntry
	interventionQueued  []interventionQueuedEntry
	shutdown            []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(RequestAdmitted); ok {
		r.requestAdmitted = append(r.requestAdmitted, requestAdmittedEntry{name, h})
	}
	if h, ok := e.(RequestQueued); ok {
		r.requestQueued = append(r.requestQueued, requestQueuedEntry{name, h})
	}
	if h, ok := e.(RequestRejected); ok {
		r.requestRejected = append(r.requestRejected, requestRejectedEntry{name, h})
	}
	if h, ok := e.(TokenReclaimed); ok {
		r.tokenReclaimed = append(r.tokenReclaimed, tokenReclaimedEntry{name, h})
	}
	if h, ok := e.(ToolCallCompleted); ok {
		r.toolCallCompleted = append(r.toolCallCompleted, toolCallCompletedEntry{name, h})
	}
	if h, ok := e.(ToolCallFailed); ok {
		r.toolCallFailed = append(r.toolCallFailed, toolCallFailedEntry{name, h})
	}
	if h, ok := e.(BreakerStateChanged); ok {
		r.breakerStateChanged = append(r.breakerStateChanged, breakerStateChangedEntry{name, h})
	}
	if h, ok := e.(SagaStarted); ok {
		r.sagaStarted = append(r.sagaStarted, sagaStartedEntry{name, h})
	}
	if h, ok := e.(SagaCompleted); ok {
		r.sagaCompleted = append(r.sagaCompleted, sagaCompletedEntry{name, h})
	}
	if h, ok := e.(SagaCompensated); ok {
		r.sagaCompensated = append(r.sagaCompensated, sagaCompensatedEntry{name, h})
	}
	if h, ok := e.(SagaFailed); ok {
		r.sagaFailed = append(r.sagaFailed, sagaFailedEntry{name, h})
	}
	if h, ok := e.(InterventionQueued); ok {
		r.interventionQueued = append(r.interventionQueued, interventionQueuedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Admission event emitters
// ──────────────────────────────────────────────────

// EmitAdmitted notifies all extensions that implement RequestAdmitted.
// The pipeline calls this through its Emitter interface.
func (r *Registry) EmitAdmitted(ctx context.Context, tenantID string) {
	for _, e := range r.requestAdmitted {
		if err := e.hook.OnRequestAdmitted(ctx, tenantID); err != nil {
			r.logHookError("OnRequestAdmitted", e.name, err)
		}
	}
}

// EmitQueued notifies all extensions that implement RequestQueued.
func (r *Registry) EmitQueued(ctx context.Context, tenantID, requestID string) {
	for _, e := range r.requestQueued {
		if err := e.hook.OnRequestQueued(ctx, tenantID, requestID); err != nil {
			r.logHookError("OnRequestQueued", e.name, err)
		}
	}
}

// EmitRejected notifies all extensions that implement RequestRejected.
func (r *Registry) EmitRejected(ctx context.Context, tenantID, reason string) {
	for _, e := range r.requestRejected {
		if err := e.hook.OnRequestRejected(ctx, tenantID, reason); err != nil {
			r.logHookError("OnRequestRejected", e.name, err)
		}
	}
}

// EmitTokenReclaimed notifies all extensions that implement TokenReclaimed.
// The admission sweep calls this through its Emitter interface.
func (r *Registry) EmitTokenReclaimed(ctx context.Context, tenantID, tokenID string) {
	for _, e := range r.tokenReclaimed {
		if err := e.hook.OnTokenReclaimed(ctx, tenantID, tokenID); err != nil {
			r.logHookError("OnTokenReclaimed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Tool call event emitters
// ──────────────────────────────────────────────────

// EmitToolCallCompleted notifies all extensions that implement ToolCallCompleted.
func (r *Registry) EmitToolCallCompleted(ctx context.Context, entry *wal.Entry, elapsed time.Duration) {
	for _, e := range r.toolCallCompleted {
		if err := e.hook.OnToolCallCompleted(ctx, entry, elapsed); err != nil {
			r.logHookError("OnToolCallCompleted", e.name, err)
		}
	}
}

// EmitToolCallFailed notifies all extensions that implement ToolCallFailed.
func (r *Registry) EmitToolCallFailed(ctx context.Context, entry *wal.Entry, callErr error) {
	for _, e := range r.toolCallFailed {
		if err := e.hook.OnToolCallFailed(ctx, entry, callErr); err != nil {
			r.logHookError("OnToolCallFailed", e.name, err)
		}
	}
}

// EmitBreakerStateChanged notifies all extensions that implement
// BreakerStateChanged. Circuit breakers call this through their Emitter
// interface.
func (r *Registry) EmitBreakerStateChanged(ctx context.Context, tool string, from, to breaker.State) {
	for _, e := range r.breakerStateChanged {
		if err := e.hook.OnBreakerStateChanged(ctx, tool, from, to); err != nil {
			r.logHookError("OnBreakerStateChanged", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Saga event emitters
// ──────────────────────────────────────────────────

// EmitSagaStarted notifies all extensions that implement SagaStarted.
func (r *Registry) EmitSagaStarted(ctx context.Context, exec *saga.Execution) {
	for _, e := range r.sagaStarted {
		if err := e.hook.OnSagaStarted(ctx, exec); err != nil {
			r.logHookError("OnSagaStarted", e.name, err)
		}
	}
}

// EmitSagaCompleted notifies all extensions that implement SagaCompleted.
func (r *Registry) EmitSagaCompleted(ctx context.Context, exec *saga.Execution, elapsed time.Duration) {
	for _, e := range r.sagaCompleted {
		if err := e.hook.OnSagaCompleted(ctx, exec, elapsed); err != nil {
			r.logHookError("OnSagaCompleted", e.name, err)
		}
	}
}

// EmitSagaCompensated notifies all extensions that implement SagaCompensated.
func (r *Registry) EmitSagaCompensated(ctx context.Context, exec *saga.Execution) {
	for _, e := range r.sagaCompensated {
		if err := e.hook.OnSagaCompensated(ctx, exec); err != nil {
			r.logHookError("OnSagaCompensated", e.name, err)
		}
	}
}

// EmitSagaFailed notifies all extensions that implement SagaFailed.
func (r *Registry) EmitSagaFailed(ctx context.Context, exec *saga.Execution, execErr error) {
	for _, e := range r.sagaFailed {
		if err := e.hook.OnSagaFailed(ctx, exec, execErr); err != nil {
			r.logHookError("OnSagaFailed", e.name, err)
		}
	}
}

// EmitInterventionQueued notifies all extensions that implement InterventionQueued.
func (r *Registry) EmitInterventionQueued(ctx context.Context, entry *intervention.Entry) {
	for _, e := range r.interventionQueued {
		if err := e.hook.OnInterventionQueued(ctx, entry); err != nil {
			r.logHookError("OnInterventionQueued", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block admission.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
