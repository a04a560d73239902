package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/floodgate/breaker"
	"github.com/xraph/floodgate/ext"
	"github.com/xraph/floodgate/intervention"
	"github.com/xraph/floodgate/saga"
	"github.com/xraph/floodgate/wal"
)

// Compile-time interface checks.
var (
	_ ext.Extension           = (*Extension)(nil)
	_ ext.RequestAdmitted     = (*Extension)(nil)
	_ ext.RequestQueued       = (*Extension)(nil)
	_ ext.RequestRejected     = (*Extension)(nil)
	_ ext.TokenReclaimed      = (*Extension)(nil)
	_ ext.ToolCallCompleted   = (*Extension)(nil)
	_ ext.ToolCallFailed      = (*Extension)(nil)
	_ ext.BreakerStateChanged = (*Extension)(nil)
	_ ext.SagaStarted         = (*Extension)(nil)
	_ ext.SagaCompleted       = (*Extension)(nil)
	_ ext.SagaCompensated     = (*Extension)(nil)
	_ ext.SagaFailed          = (*Extension)(nil)
	_ ext.InterventionQueued  = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement. It is
// defined locally so this package carries no dependency on any concrete
// audit system — callers inject their backend at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges Floodgate lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Admission lifecycle hooks ───────────────────────

// OnRequestAdmitted implements ext.RequestAdmitted.
func (e *Extension) OnRequestAdmitted(ctx context.Context, tenantID string) error {
	return e.record(ctx, ActionRequestAdmitted, SeverityInfo, OutcomeSuccess,
		ResourceRequest, "", CategoryAdmission, tenantID, nil)
}

// OnRequestQueued implements ext.RequestQueued.
func (e *Extension) OnRequestQueued(ctx context.Context, tenantID, requestID string) error {
	return e.record(ctx, ActionRequestQueued, SeverityInfo, OutcomeSuccess,
		ResourceRequest, requestID, CategoryAdmission, tenantID, nil)
}

// OnRequestRejected implements ext.RequestRejected.
func (e *Extension) OnRequestRejected(ctx context.Context, tenantID, reason string) error {
	return e.record(ctx, ActionRequestRejected, SeverityWarning, OutcomeFailure,
		ResourceRequest, "", CategoryAdmission, tenantID, nil,
		"reject_reason", reason,
	)
}

// OnTokenReclaimed implements ext.TokenReclaimed.
func (e *Extension) OnTokenReclaimed(ctx context.Context, tenantID, tokenID string) error {
	return e.record(ctx, ActionTokenReclaimed, SeverityWarning, OutcomeSuccess,
		ResourceToken, tokenID, CategoryAdmission, tenantID, nil)
}

// ── Tool call lifecycle hooks ───────────────────────

// OnToolCallCompleted implements ext.ToolCallCompleted.
func (e *Extension) OnToolCallCompleted(ctx context.Context, entry *wal.Entry, elapsed time.Duration) error {
	return e.record(ctx, ActionToolCallCompleted, SeverityInfo, OutcomeSuccess,
		ResourceToolCall, entry.ID.String(), CategoryTool, entry.TenantID, nil,
		"tool", entry.Tool,
		"operation", entry.Operation,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnToolCallFailed implements ext.ToolCallFailed.
func (e *Extension) OnToolCallFailed(ctx context.Context, entry *wal.Entry, callErr error) error {
	return e.record(ctx, ActionToolCallFailed, SeverityCritical, OutcomeFailure,
		ResourceToolCall, entry.ID.String(), CategoryTool, entry.TenantID, callErr,
		"tool", entry.Tool,
		"operation", entry.Operation,
	)
}

// OnBreakerStateChanged implements ext.BreakerStateChanged.
func (e *Extension) OnBreakerStateChanged(ctx context.Context, tool string, from, to breaker.State) error {
	severity := SeverityInfo
	if to == breaker.StateOpen {
		severity = SeverityCritical
	}
	return e.record(ctx, ActionBreakerStateChanged, severity, OutcomeSuccess,
		ResourceBreaker, tool, CategoryTool, "", nil,
		"from", string(from),
		"to", string(to),
	)
}

// ── Saga lifecycle hooks ────────────────────────────

// OnSagaStarted implements ext.SagaStarted.
func (e *Extension) OnSagaStarted(ctx context.Context, exec *saga.Execution) error {
	return e.record(ctx, ActionSagaStarted, SeverityInfo, OutcomeSuccess,
		ResourceSaga, exec.ID.String(), CategorySaga, exec.TenantID, nil,
		"saga_name", exec.Name,
	)
}

// OnSagaCompleted implements ext.SagaCompleted.
func (e *Extension) OnSagaCompleted(ctx context.Context, exec *saga.Execution, elapsed time.Duration) error {
	return e.record(ctx, ActionSagaCompleted, SeverityInfo, OutcomeSuccess,
		ResourceSaga, exec.ID.String(), CategorySaga, exec.TenantID, nil,
		"saga_name", exec.Name,
		"steps", len(exec.Steps),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnSagaCompensated implements ext.SagaCompensated.
func (e *Extension) OnSagaCompensated(ctx context.Context, exec *saga.Execution) error {
	return e.record(ctx, ActionSagaCompensated, SeverityWarning, OutcomeFailure,
		ResourceSaga, exec.ID.String(), CategorySaga, exec.TenantID, nil,
		"saga_name", exec.Name,
		"cancel_reason", exec.CancelReason,
	)
}

// OnSagaFailed implements ext.SagaFailed.
func (e *Extension) OnSagaFailed(ctx context.Context, exec *saga.Execution, execErr error) error {
	return e.record(ctx, ActionSagaFailed, SeverityCritical, OutcomeFailure,
		ResourceSaga, exec.ID.String(), CategorySaga, exec.TenantID, execErr,
		"saga_name", exec.Name,
	)
}

// OnInterventionQueued implements ext.InterventionQueued.
func (e *Extension) OnInterventionQueued(ctx context.Context, entry *intervention.Entry) error {
	return e.record(ctx, ActionInterventionQueued, SeverityCritical, OutcomeFailure,
		ResourceIntervention, entry.ID.String(), CategorySaga, entry.TenantID, nil,
		"saga_name", entry.SagaName,
		"step_name", entry.StepName,
		"attempts", entry.Attempts,
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category, tenantID string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		TenantID:   tenantID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audithook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
