package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/xraph/floodgate/admission"
	"github.com/xraph/floodgate/pipeline"
	"github.com/xraph/floodgate/sched"
	"github.com/xraph/floodgate/statestore/memory"
	"github.com/xraph/floodgate/tenant"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeQuota struct {
	allowed bool
	reason  string
	err     error
	reports atomic.Int64
}

func (q *fakeQuota) CheckQuota(context.Context, string, pipeline.Request) (bool, string, error) {
	return q.allowed, q.reason, q.err
}

func (q *fakeQuota) ReportUsage(context.Context, string, pipeline.Usage) error {
	q.reports.Add(1)
	return nil
}

type fakeBudget struct {
	allowed bool
	reason  string
	err     error
	reports atomic.Int64
}

func (b *fakeBudget) CheckBudget(context.Context, string, pipeline.Request) (bool, string, error) {
	return b.allowed, b.reason, b.err
}

func (b *fakeBudget) ReportSpend(context.Context, string, pipeline.Usage) error {
	b.reports.Add(1)
	return nil
}

type testEnv struct {
	counter *admission.Counter
	sched   *sched.Scheduler
	tenants *tenant.StaticSource
	pipe    *pipeline.Pipeline
}

func setup(t *testing.T, cfg pipeline.Config, opts ...pipeline.Option) *testEnv {
	t.Helper()
	env := &testEnv{
		counter: admission.NewCounter(memory.New(), admission.WithLogger(discard())),
		sched:   sched.New(sched.WithLogger(discard())),
		tenants: tenant.NewStaticSource(),
	}
	opts = append([]pipeline.Option{pipeline.WithLogger(discard())}, opts...)
	env.pipe = pipeline.New(env.counter, env.sched, env.tenants, cfg, opts...)
	return env
}

func limits(tenantID string, maxConc, maxQueue int) tenant.Limits {
	return tenant.Limits{
		TenantID:        tenantID,
		Plan:            "pro",
		MaxConcurrency:  maxConc,
		MaxQueueDepth:   maxQueue,
		FairShareWeight: 1.0,
	}
}

func TestAdmitAndComplete(t *testing.T) {
	quota := &fakeQuota{allowed: true}
	budget := &fakeBudget{allowed: true}
	env := setup(t, pipeline.DefaultConfig(), pipeline.WithQuota(quota), pipeline.WithBudget(budget))
	env.tenants.Set(limits("acme", 2, 5))
	ctx := context.Background()

	d, err := env.pipe.Admit(ctx, pipeline.Request{TenantID: "acme"})
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if d.Outcome != pipeline.OutcomeAdmitted {
		t.Fatalf("Outcome = %q, want admitted", d.Outcome)
	}
	if d.Token == nil {
		t.Fatal("admitted decision has no token")
	}
	if active, _ := env.counter.Active(ctx, "acme"); active != 1 {
		t.Fatalf("Active() = %d, want 1", active)
	}

	env.pipe.Complete(ctx, d, pipeline.Usage{Cost: 0.5})
	env.pipe.Complete(ctx, d, pipeline.Usage{Cost: 0.5})

	if active, _ := env.counter.Active(ctx, "acme"); active != 0 {
		t.Fatalf("Active() after Complete = %d, want 0", active)
	}
	if got := quota.reports.Load(); got != 1 {
		t.Fatalf("quota reports = %d, want exactly 1", got)
	}
	if got := budget.reports.Load(); got != 1 {
		t.Fatalf("budget reports = %d, want exactly 1", got)
	}
}

func TestConcurrencyDenialQueues(t *testing.T) {
	env := setup(t, pipeline.DefaultConfig())
	env.tenants.Set(limits("acme", 1, 5))
	ctx := context.Background()

	first, err := env.pipe.Admit(ctx, pipeline.Request{TenantID: "acme"})
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if first.Outcome != pipeline.OutcomeAdmitted {
		t.Fatalf("first Outcome = %q, want admitted", first.Outcome)
	}

	second, err := env.pipe.Admit(ctx, pipeline.Request{TenantID: "acme", Priority: sched.PriorityHigh})
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if second.Outcome != pipeline.OutcomeQueued {
		t.Fatalf("second Outcome = %q, want queued", second.Outcome)
	}
	if second.Queued == nil || second.Queued.ID.IsNil() {
		t.Fatal("queued decision has no scheduler entry")
	}
	if depth := env.sched.QueueDepth("acme"); depth != 1 {
		t.Fatalf("QueueDepth() = %d, want 1", depth)
	}
}

func TestQueueFullRejects(t *testing.T) {
	env := setup(t, pipeline.DefaultConfig())
	env.tenants.Set(limits("acme", 1, 1))
	ctx := context.Background()

	if _, err := env.pipe.Admit(ctx, pipeline.Request{TenantID: "acme"}); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if _, err := env.pipe.Admit(ctx, pipeline.Request{TenantID: "acme"}); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}

	d, err := env.pipe.Admit(ctx, pipeline.Request{TenantID: "acme"})
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if d.Outcome != pipeline.OutcomeRejected {
		t.Fatalf("Outcome = %q, want rejected", d.Outcome)
	}
	if d.Reason != pipeline.ReasonConcurrency {
		t.Fatalf("Reason = %q, want %q", d.Reason, pipeline.ReasonConcurrency)
	}
	if !d.Retriable {
		t.Fatal("concurrency rejection should be retriable")
	}
}

func TestQuotaDeniedReleasesToken(t *testing.T) {
	quota := &fakeQuota{allowed: false, reason: "monthly cap reached"}
	env := setup(t, pipeline.DefaultConfig(), pipeline.WithQuota(quota))
	env.tenants.Set(limits("acme", 2, 5))
	ctx := context.Background()

	d, err := env.pipe.Admit(ctx, pipeline.Request{TenantID: "acme"})
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if d.Reason != pipeline.ReasonQuota {
		t.Fatalf("Reason = %q, want %q", d.Reason, pipeline.ReasonQuota)
	}
	if d.Detail != "monthly cap reached" {
		t.Fatalf("Detail = %q", d.Detail)
	}
	if !d.Retriable {
		t.Fatal("quota rejection should be retriable")
	}
	if active, _ := env.counter.Active(ctx, "acme"); active != 0 {
		t.Fatalf("Active() = %d, want 0 after quota rejection", active)
	}
}

func TestBudgetDeniedNotRetriable(t *testing.T) {
	budget := &fakeBudget{allowed: false, reason: "budget spent"}
	env := setup(t, pipeline.DefaultConfig(), pipeline.WithBudget(budget))
	env.tenants.Set(limits("acme", 2, 5))

	d, err := env.pipe.Admit(context.Background(), pipeline.Request{TenantID: "acme"})
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if d.Reason != pipeline.ReasonBudget {
		t.Fatalf("Reason = %q, want %q", d.Reason, pipeline.ReasonBudget)
	}
	if d.Retriable {
		t.Fatal("budget rejection must not be retriable")
	}
}

func TestCollaboratorErrorFailsOpen(t *testing.T) {
	quota := &fakeQuota{err: errors.New("quota service down")}
	env := setup(t, pipeline.DefaultConfig(), pipeline.WithQuota(quota))
	env.tenants.Set(limits("acme", 2, 5))

	d, err := env.pipe.Admit(context.Background(), pipeline.Request{TenantID: "acme"})
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if d.Outcome != pipeline.OutcomeAdmitted {
		t.Fatalf("Outcome = %q, want admitted on collaborator error", d.Outcome)
	}
	if d.Token == nil {
		t.Fatal("fail-open admission should keep its token")
	}
}

func TestFailClosedRejects(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	cfg.FailOpen.Quota = false
	quota := &fakeQuota{err: errors.New("quota service down")}
	env := setup(t, cfg, pipeline.WithQuota(quota))
	env.tenants.Set(limits("acme", 2, 5))

	d, err := env.pipe.Admit(context.Background(), pipeline.Request{TenantID: "acme"})
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if d.Outcome != pipeline.OutcomeRejected || d.Reason != pipeline.ReasonQuota {
		t.Fatalf("got %q/%q, want rejected/quota_exceeded", d.Outcome, d.Reason)
	}
}

func TestSystemOverload(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	cfg.MaxSystemActive = 1
	env := setup(t, cfg)
	env.tenants.Set(limits("acme", 5, 5))
	env.tenants.Set(limits("beta", 5, 5))
	ctx := context.Background()

	if _, err := env.pipe.Admit(ctx, pipeline.Request{TenantID: "acme"}); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}

	d, err := env.pipe.Admit(ctx, pipeline.Request{TenantID: "beta"})
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if d.Reason != pipeline.ReasonOverload {
		t.Fatalf("Reason = %q, want %q", d.Reason, pipeline.ReasonOverload)
	}
	if !d.Retriable || d.RetryAfter <= 0 {
		t.Fatalf("overload rejection should carry a retry hint, got retriable=%v after=%v", d.Retriable, d.RetryAfter)
	}
}

func TestRateLimit(t *testing.T) {
	env := setup(t, pipeline.DefaultConfig())
	l := limits("acme", 5, 5)
	l.RateLimit = tenant.RateLimit{Capacity: 1, RefillPerSec: 0.01}
	env.tenants.Set(l)
	ctx := context.Background()

	first, err := env.pipe.Admit(ctx, pipeline.Request{TenantID: "acme"})
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if first.Outcome != pipeline.OutcomeAdmitted {
		t.Fatalf("first Outcome = %q, want admitted", first.Outcome)
	}

	second, err := env.pipe.Admit(ctx, pipeline.Request{TenantID: "acme"})
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if second.Reason != pipeline.ReasonRateLimited {
		t.Fatalf("Reason = %q, want %q", second.Reason, pipeline.ReasonRateLimited)
	}
	if second.RetryAfter <= 0 {
		t.Fatal("rate limit rejection should carry a retry hint")
	}
}

func TestResumeAfterCompletion(t *testing.T) {
	env := setup(t, pipeline.DefaultConfig())
	env.tenants.Set(limits("acme", 1, 5))
	ctx := context.Background()

	first, err := env.pipe.Admit(ctx, pipeline.Request{TenantID: "acme"})
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	queued, err := env.pipe.Admit(ctx, pipeline.Request{TenantID: "acme", Payload: "deferred"})
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if queued.Outcome != pipeline.OutcomeQueued {
		t.Fatalf("Outcome = %q, want queued", queued.Outcome)
	}

	// Still at the concurrency limit: the request goes back to its queue.
	if d, ready, err := env.pipe.Resume(ctx); err != nil || ready || d != nil {
		t.Fatalf("Resume() at limit = (%v, %v, %v), want not ready", d, ready, err)
	}
	if depth := env.sched.QueueDepth("acme"); depth != 1 {
		t.Fatalf("QueueDepth() = %d, want 1 after requeue", depth)
	}

	env.pipe.Complete(ctx, first, pipeline.Usage{})

	d, ready, err := env.pipe.Resume(ctx)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if !ready || d == nil {
		t.Fatal("Resume() should produce a decision once capacity frees up")
	}
	if d.Outcome != pipeline.OutcomeAdmitted {
		t.Fatalf("Outcome = %q, want admitted", d.Outcome)
	}
	if d.Queued == nil || d.Queued.Payload != "deferred" {
		t.Fatal("resumed decision should carry the original queue entry")
	}
	env.pipe.Complete(ctx, d, pipeline.Usage{})
}

func TestResumeEmptyQueue(t *testing.T) {
	env := setup(t, pipeline.DefaultConfig())
	d, ready, err := env.pipe.Resume(context.Background())
	if err != nil || ready || d != nil {
		t.Fatalf("Resume() on empty queue = (%v, %v, %v), want (nil, false, nil)", d, ready, err)
	}
}

func TestEmitterSeesOutcomes(t *testing.T) {
	em := &recordingEmitter{}
	env := setup(t, pipeline.DefaultConfig(), pipeline.WithEmitter(em))
	env.tenants.Set(limits("acme", 1, 1))
	ctx := context.Background()

	_, _ = env.pipe.Admit(ctx, pipeline.Request{TenantID: "acme"})
	_, _ = env.pipe.Admit(ctx, pipeline.Request{TenantID: "acme"})
	_, _ = env.pipe.Admit(ctx, pipeline.Request{TenantID: "acme"})

	if em.admitted != 1 || em.queuedN != 1 || em.rejected != 1 {
		t.Fatalf("emitter saw admitted=%d queued=%d rejected=%d, want 1/1/1",
			em.admitted, em.queuedN, em.rejected)
	}
	if em.lastReason != string(pipeline.ReasonConcurrency) {
		t.Fatalf("lastReason = %q", em.lastReason)
	}
}

type recordingEmitter struct {
	admitted   int
	queuedN    int
	rejected   int
	lastReason string
}

func (e *recordingEmitter) EmitAdmitted(context.Context, string) { e.admitted++ }

func (e *recordingEmitter) EmitQueued(context.Context, string, string) { e.queuedN++ }

func (e *recordingEmitter) EmitRejected(_ context.Context, _ string, reason string) {
	e.rejected++
	e.lastReason = reason
}

