package audithook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/floodgate/audithook"
	"github.com/xraph/floodgate/breaker"
	"github.com/xraph/floodgate/ext"
	"github.com/xraph/floodgate/id"
	"github.com/xraph/floodgate/intervention"
	"github.com/xraph/floodgate/saga"
	"github.com/xraph/floodgate/wal"
)

type captureRecorder struct {
	events []*audithook.AuditEvent
	err    error
}

func (r *captureRecorder) Record(_ context.Context, evt *audithook.AuditEvent) error {
	r.events = append(r.events, evt)
	return r.err
}

func (r *captureRecorder) last(t *testing.T) *audithook.AuditEvent {
	t.Helper()
	if len(r.events) == 0 {
		t.Fatal("no audit events recorded")
	}
	return r.events[len(r.events)-1]
}

func TestRequestLifecycleEvents(t *testing.T) {
	rec := &captureRecorder{}
	hook := audithook.New(rec)
	ctx := context.Background()

	if err := hook.OnRequestAdmitted(ctx, "acme"); err != nil {
		t.Fatalf("OnRequestAdmitted() error = %v", err)
	}
	evt := rec.last(t)
	if evt.Action != audithook.ActionRequestAdmitted {
		t.Fatalf("Action = %q", evt.Action)
	}
	if evt.TenantID != "acme" || evt.Outcome != audithook.OutcomeSuccess {
		t.Fatalf("unexpected event: %+v", evt)
	}

	if err := hook.OnRequestRejected(ctx, "acme", "quota_exceeded"); err != nil {
		t.Fatalf("OnRequestRejected() error = %v", err)
	}
	evt = rec.last(t)
	if evt.Severity != audithook.SeverityWarning || evt.Outcome != audithook.OutcomeFailure {
		t.Fatalf("unexpected rejection event: %+v", evt)
	}
	if evt.Metadata["reject_reason"] != "quota_exceeded" {
		t.Fatalf("Metadata = %v", evt.Metadata)
	}
}

func TestToolCallEvents(t *testing.T) {
	rec := &captureRecorder{}
	hook := audithook.New(rec)
	ctx := context.Background()
	entry := wal.NewEntry("acme", "payments", "charge", nil)

	if err := hook.OnToolCallCompleted(ctx, entry, 42*time.Millisecond); err != nil {
		t.Fatalf("OnToolCallCompleted() error = %v", err)
	}
	evt := rec.last(t)
	if evt.Category != audithook.CategoryTool || evt.ResourceID != entry.ID.String() {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if evt.Metadata["elapsed_ms"] != int64(42) {
		t.Fatalf("elapsed_ms = %v", evt.Metadata["elapsed_ms"])
	}

	if err := hook.OnToolCallFailed(ctx, entry, errors.New("charge declined")); err != nil {
		t.Fatalf("OnToolCallFailed() error = %v", err)
	}
	evt = rec.last(t)
	if evt.Severity != audithook.SeverityCritical || evt.Reason != "charge declined" {
		t.Fatalf("unexpected failure event: %+v", evt)
	}
}

func TestBreakerOpenIsCritical(t *testing.T) {
	rec := &captureRecorder{}
	hook := audithook.New(rec)
	ctx := context.Background()

	if err := hook.OnBreakerStateChanged(ctx, "payments", breaker.StateClosed, breaker.StateOpen); err != nil {
		t.Fatalf("OnBreakerStateChanged() error = %v", err)
	}
	if evt := rec.last(t); evt.Severity != audithook.SeverityCritical {
		t.Fatalf("Severity = %q, want critical for an opening breaker", evt.Severity)
	}

	if err := hook.OnBreakerStateChanged(ctx, "payments", breaker.StateHalfOpen, breaker.StateClosed); err != nil {
		t.Fatalf("OnBreakerStateChanged() error = %v", err)
	}
	if evt := rec.last(t); evt.Severity != audithook.SeverityInfo {
		t.Fatalf("Severity = %q, want info for a closing breaker", evt.Severity)
	}
}

func TestSagaEvents(t *testing.T) {
	rec := &captureRecorder{}
	hook := audithook.New(rec)
	ctx := context.Background()
	exec := &saga.Execution{ID: id.NewSagaID(), Name: "checkout", TenantID: "acme"}

	if err := hook.OnSagaFailed(ctx, exec, errors.New("compensation gave up")); err != nil {
		t.Fatalf("OnSagaFailed() error = %v", err)
	}
	evt := rec.last(t)
	if evt.Action != audithook.ActionSagaFailed || evt.Reason != "compensation gave up" {
		t.Fatalf("unexpected event: %+v", evt)
	}

	ivn := &intervention.Entry{
		ID:       id.NewInterventionID(),
		SagaName: "checkout",
		TenantID: "acme",
		StepName: "charge-payment",
		Attempts: 3,
	}
	if err := hook.OnInterventionQueued(ctx, ivn); err != nil {
		t.Fatalf("OnInterventionQueued() error = %v", err)
	}
	evt = rec.last(t)
	if evt.Metadata["step_name"] != "charge-payment" || evt.Metadata["attempts"] != 3 {
		t.Fatalf("Metadata = %v", evt.Metadata)
	}
}

func TestWithActionsFilters(t *testing.T) {
	rec := &captureRecorder{}
	hook := audithook.New(rec, audithook.WithActions(audithook.ActionRequestRejected))
	ctx := context.Background()

	if err := hook.OnRequestAdmitted(ctx, "acme"); err != nil {
		t.Fatalf("OnRequestAdmitted() error = %v", err)
	}
	if len(rec.events) != 0 {
		t.Fatalf("filtered action was recorded: %+v", rec.events)
	}

	if err := hook.OnRequestRejected(ctx, "acme", "budget_exceeded"); err != nil {
		t.Fatalf("OnRequestRejected() error = %v", err)
	}
	if len(rec.events) != 1 {
		t.Fatalf("enabled action not recorded")
	}
}

func TestRecorderErrorIsSwallowed(t *testing.T) {
	rec := &captureRecorder{err: errors.New("audit backend down")}
	hook := audithook.New(rec, audithook.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	if err := hook.OnRequestAdmitted(context.Background(), "acme"); err != nil {
		t.Fatalf("OnRequestAdmitted() error = %v, want nil despite recorder failure", err)
	}
}

func TestRegistryIntegration(t *testing.T) {
	rec := &captureRecorder{}
	registry := ext.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	registry.Register(audithook.New(rec))

	registry.EmitAdmitted(context.Background(), "acme")
	if len(rec.events) != 1 || rec.events[0].Action != audithook.ActionRequestAdmitted {
		t.Fatalf("events = %+v", rec.events)
	}
}

func TestAllActionsCoversEveryConstant(t *testing.T) {
	if got := len(audithook.AllActions()); got != 12 {
		t.Fatalf("AllActions() length = %d, want 12", got)
	}
}
