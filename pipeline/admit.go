package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/floodgate/admission"
	"github.com/xraph/floodgate/sched"
	"github.com/xraph/floodgate/tenant"
)

// FailOpen controls which collaborator checks admit on error instead of
// rejecting. Concurrency is always fail-open: a broken state store must
// not take the gateway down with it.
type FailOpen struct {
	Quota  bool `json:"quota"`
	Budget bool `json:"budget"`
	Load   bool `json:"load"`
}

// Config holds system-wide pipeline settings.
type Config struct {
	// MaxSystemActive is the load-shedding ceiling on total in-flight
	// requests across all tenants. Zero disables the check.
	MaxSystemActive int64

	// MaxSystemQueued is the ceiling on total queued requests. Zero
	// disables the check.
	MaxSystemQueued int

	// OverloadRetryAfter is the backoff hint attached to
	// system_overloaded rejections.
	OverloadRetryAfter time.Duration

	FailOpen FailOpen
}

// DefaultConfig returns the default pipeline settings: fail open on every
// collaborator, shed load above 10k in-flight or queued.
func DefaultConfig() Config {
	return Config{
		MaxSystemActive:    10_000,
		MaxSystemQueued:    10_000,
		OverloadRetryAfter: 5 * time.Second,
		FailOpen:           FailOpen{Quota: true, Budget: true, Load: true},
	}
}

// Emitter is notified of admission outcomes. The ext registry satisfies
// this interface.
type Emitter interface {
	EmitAdmitted(ctx context.Context, tenantID string)
	EmitQueued(ctx context.Context, tenantID, requestID string)
	EmitRejected(ctx context.Context, tenantID string, reason string)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithQuota wires the quota collaborator.
func WithQuota(q QuotaChecker) Option {
	return func(p *Pipeline) { p.quota = q }
}

// WithBudget wires the budget collaborator.
func WithBudget(b BudgetChecker) Option {
	return func(p *Pipeline) { p.budget = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithEmitter sets the lifecycle emitter.
func WithEmitter(e Emitter) Option {
	return func(p *Pipeline) { p.emitter = e }
}

// Pipeline runs the admission check chain.
type Pipeline struct {
	counter *admission.Counter
	sched   *sched.Scheduler
	tenants tenant.Source
	quota   QuotaChecker
	budget  BudgetChecker
	emitter Emitter
	cfg     Config
	logger  *slog.Logger
	rates   *limiters
}

// New creates a Pipeline over the admission counter, the fair scheduler
// and the tenant plan source. Quota and budget collaborators are optional;
// their checks are skipped when absent.
func New(counter *admission.Counter, sch *sched.Scheduler, tenants tenant.Source, cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		counter: counter,
		sched:   sch,
		tenants: tenants,
		cfg:     cfg,
		logger:  slog.Default(),
		rates:   newLimiters(),
	}
	if p.cfg.OverloadRetryAfter <= 0 {
		p.cfg.OverloadRetryAfter = 5 * time.Second
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Admit runs the check chain for one request. The chain stops at the
// first rejecting check; a concurrency denial enqueues the request
// instead when the tenant's queue has room. Collaborator errors admit
// per the FailOpen config and are logged, never surfaced to the caller.
//
// Admitted decisions hold a concurrency token; the caller must invoke
// Complete exactly once when the request finishes, on every path.
func (p *Pipeline) Admit(ctx context.Context, req Request) (*Decision, error) {
	limits, err := p.tenants.Limits(ctx, req.TenantID)
	if err != nil {
		p.logger.Warn("plan lookup failed, using defaults",
			slog.String("tenant_id", req.TenantID),
			slog.Any("error", err))
		limits = tenant.DefaultLimits(req.TenantID)
	}

	if d := p.checkRate(req.TenantID, limits.RateLimit); d != nil {
		return p.finish(ctx, d), nil
	}

	tok, ok, err := p.counter.Acquire(ctx, limits)
	if err != nil {
		// Fail open without a token: the request proceeds but does not
		// count against the tenant's concurrency allowance.
		p.logger.Error("concurrency check failed, admitting without token",
			slog.String("tenant_id", req.TenantID),
			slog.Any("error", err))
		return p.finish(ctx, &Decision{Outcome: OutcomeAdmitted, tenantID: req.TenantID}), nil
	}
	if !ok {
		return p.finish(ctx, p.enqueue(req, limits)), nil
	}

	if d := p.checkCollaborators(ctx, req, limits); d != nil {
		p.release(ctx, tok)
		return p.finish(ctx, d), nil
	}

	return p.finish(ctx, &Decision{Outcome: OutcomeAdmitted, Token: tok, tenantID: req.TenantID}), nil
}

// Resume pops the next queued request and takes it through the chain
// again. Returns (nil, false, nil) when the queue is empty. A request
// still blocked on concurrency goes back to its queue and Resume reports
// not-ready; rejected and admitted outcomes are returned as decisions
// with the originating queue entry attached.
func (p *Pipeline) Resume(ctx context.Context) (*Decision, bool, error) {
	qr, ok := p.sched.Dequeue()
	if !ok {
		return nil, false, nil
	}

	limits, err := p.tenants.Limits(ctx, qr.TenantID)
	if err != nil {
		limits = tenant.DefaultLimits(qr.TenantID)
	}

	tok, acquired, err := p.counter.Acquire(ctx, limits)
	if err != nil {
		p.logger.Error("concurrency check failed, admitting without token",
			slog.String("tenant_id", qr.TenantID),
			slog.Any("error", err))
		d := &Decision{Outcome: OutcomeAdmitted, Queued: qr, tenantID: qr.TenantID}
		return p.finish(ctx, d), true, nil
	}
	if !acquired {
		if err := p.sched.Enqueue(qr, limits); err != nil {
			p.logger.Warn("requeue failed, dropping request",
				slog.String("tenant_id", qr.TenantID),
				slog.String("request_id", qr.ID.String()),
				slog.Any("error", err))
		}
		return nil, false, nil
	}

	req := Request{TenantID: qr.TenantID, Priority: qr.Priority, Payload: qr.Payload}
	if d := p.checkCollaborators(ctx, req, limits); d != nil {
		p.release(ctx, tok)
		d.Queued = qr
		return p.finish(ctx, d), true, nil
	}

	d := &Decision{Outcome: OutcomeAdmitted, Token: tok, Queued: qr, tenantID: qr.TenantID}
	return p.finish(ctx, d), true, nil
}

// Complete settles an admitted request: the concurrency token is released
// and usage is reported to the quota and budget collaborators. Safe to
// call from multiple paths; only the first call acts.
func (p *Pipeline) Complete(ctx context.Context, d *Decision, usage Usage) {
	if d == nil || d.Outcome != OutcomeAdmitted {
		return
	}
	d.once.Do(func() {
		if d.Token != nil {
			p.release(ctx, d.Token)
		}
		if p.quota != nil {
			if err := p.quota.ReportUsage(ctx, d.tenantID, usage); err != nil {
				p.logger.Warn("quota usage report failed",
					slog.String("tenant_id", d.tenantID),
					slog.Any("error", err))
			}
		}
		if p.budget != nil {
			if err := p.budget.ReportSpend(ctx, d.tenantID, usage); err != nil {
				p.logger.Warn("budget spend report failed",
					slog.String("tenant_id", d.tenantID),
					slog.Any("error", err))
			}
		}
	})
}

// ──────────────────────────────────────────────────
// checks
// ──────────────────────────────────────────────────

// checkRate consumes one token from the tenant's bucket. Returns a
// rejection when the bucket is empty, nil otherwise.
func (p *Pipeline) checkRate(tenantID string, rl tenant.RateLimit) *Decision {
	if rl.RefillPerSec <= 0 {
		return nil
	}
	res := p.rates.get(tenantID, rl).Reserve()
	if !res.OK() {
		return rejected(tenantID, ReasonRateLimited, "", true, time.Second)
	}
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return rejected(tenantID, ReasonRateLimited, "", true, delay)
	}
	return nil
}

// checkCollaborators runs the quota, budget and load checks in order,
// returning the first rejection or nil when all pass.
func (p *Pipeline) checkCollaborators(ctx context.Context, req Request, limits tenant.Limits) *Decision {
	if p.quota != nil {
		allowed, reason, err := p.quota.CheckQuota(ctx, req.TenantID, req)
		switch {
		case err != nil:
			if !p.cfg.FailOpen.Quota {
				return rejected(req.TenantID, ReasonQuota, err.Error(), true, 0)
			}
			p.logger.Warn("quota check failed, admitting",
				slog.String("tenant_id", req.TenantID),
				slog.Any("error", err))
		case !allowed:
			return rejected(req.TenantID, ReasonQuota, reason, true, 0)
		}
	}

	if p.budget != nil {
		allowed, reason, err := p.budget.CheckBudget(ctx, req.TenantID, req)
		switch {
		case err != nil:
			if !p.cfg.FailOpen.Budget {
				return rejected(req.TenantID, ReasonBudget, err.Error(), false, 0)
			}
			p.logger.Warn("budget check failed, admitting",
				slog.String("tenant_id", req.TenantID),
				slog.Any("error", err))
		case !allowed:
			// Budget exhaustion does not resolve by waiting, so the
			// rejection is terminal for this billing window.
			return rejected(req.TenantID, ReasonBudget, reason, false, 0)
		}
	}

	return p.checkLoad(ctx, req.TenantID)
}

// checkLoad sheds the request when system-wide in-flight or queued counts
// exceed their ceilings.
func (p *Pipeline) checkLoad(ctx context.Context, tenantID string) *Decision {
	if p.cfg.MaxSystemActive > 0 {
		active, err := p.counter.TotalActive(ctx)
		if err != nil {
			if !p.cfg.FailOpen.Load {
				return rejected(tenantID, ReasonOverload, err.Error(), true, p.cfg.OverloadRetryAfter)
			}
			p.logger.Warn("load check failed, admitting", slog.Any("error", err))
			return nil
		}
		if active >= p.cfg.MaxSystemActive {
			return rejected(tenantID, ReasonOverload, "active ceiling reached", true, p.cfg.OverloadRetryAfter)
		}
	}
	if p.cfg.MaxSystemQueued > 0 && p.sched.SystemStats().Queued >= p.cfg.MaxSystemQueued {
		return rejected(tenantID, ReasonOverload, "queue ceiling reached", true, p.cfg.OverloadRetryAfter)
	}
	return nil
}

// enqueue converts a concurrency denial into a queued decision, or a
// concurrency rejection when the tenant's queue is full.
func (p *Pipeline) enqueue(req Request, limits tenant.Limits) *Decision {
	qr := &sched.Request{
		TenantID: req.TenantID,
		Priority: req.Priority,
		Payload:  req.Payload,
	}
	if err := p.sched.Enqueue(qr, limits); err != nil {
		return rejected(req.TenantID, ReasonConcurrency, "queue full", true, 0)
	}
	return &Decision{Outcome: OutcomeQueued, Queued: qr, tenantID: req.TenantID}
}

// release returns a token to the counter, logging instead of failing.
func (p *Pipeline) release(ctx context.Context, tok *admission.Token) {
	if err := p.counter.Release(ctx, tok); err != nil {
		p.logger.Warn("token release failed",
			slog.String("tenant_id", tok.TenantID),
			slog.String("token_id", tok.ID.String()),
			slog.Any("error", err))
	}
}

// finish emits the lifecycle event for a decision and returns it.
func (p *Pipeline) finish(ctx context.Context, d *Decision) *Decision {
	if p.emitter == nil {
		return d
	}
	switch d.Outcome {
	case OutcomeAdmitted:
		p.emitter.EmitAdmitted(ctx, d.tenantID)
	case OutcomeQueued:
		p.emitter.EmitQueued(ctx, d.tenantID, d.Queued.ID.String())
	case OutcomeRejected:
		p.emitter.EmitRejected(ctx, d.tenantID, string(d.Reason))
	}
	return d
}
