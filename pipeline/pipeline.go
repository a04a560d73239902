// Package pipeline is the per-request admission decision. Each inbound
// request flows through a fixed check chain (rate, concurrency, quota,
// budget, load) before any downstream work starts. Checks short-circuit
// on the first policy rejection. A concurrency denial falls back to the
// fair scheduler's queue when the tenant has room. Collaborator faults
// never reject a request: the pipeline fails open and logs, trading
// strict enforcement for availability.
package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/floodgate/admission"
	"github.com/xraph/floodgate/sched"
	"github.com/xraph/floodgate/tenant"
)

// Outcome is the caller-visible admission result.
type Outcome string

const (
	// OutcomeAdmitted means the request may proceed immediately.
	OutcomeAdmitted Outcome = "admitted"
	// OutcomeQueued means the request waits in the fair scheduler.
	OutcomeQueued Outcome = "queued"
	// OutcomeRejected means the request was denied.
	OutcomeRejected Outcome = "rejected"
)

// Reason identifies why a request was rejected.
type Reason string

const (
	// ReasonRateLimited means the tenant's token bucket is empty.
	ReasonRateLimited Reason = "rate_limited"
	// ReasonConcurrency means the tenant is at max concurrency and its
	// queue is full.
	ReasonConcurrency Reason = "concurrency_limit_exceeded"
	// ReasonQuota means the quota collaborator denied the request.
	ReasonQuota Reason = "quota_exceeded"
	// ReasonBudget means the budget collaborator denied the request.
	ReasonBudget Reason = "budget_exceeded"
	// ReasonOverload means the whole system is above its load ceiling.
	ReasonOverload Reason = "system_overloaded"
)

// Request is one inbound request presented for admission.
type Request struct {
	// TenantID is the calling tenant.
	TenantID string
	// Priority orders the request within its tenant's queue.
	Priority sched.Priority
	// EstimatedCost is the request's expected spend, passed through to
	// the quota and budget collaborators.
	EstimatedCost float64
	// Payload is an opaque reference carried into the queue.
	Payload any
}

// Usage is reported to the quota and budget collaborators when an
// admitted request completes.
type Usage struct {
	// Cost is the request's actual spend.
	Cost float64
	// Err is the terminal error of the request, nil on success.
	Err error
}

// QuotaChecker is the external quota collaborator.
type QuotaChecker interface {
	// CheckQuota reports whether the tenant has quota for the request.
	CheckQuota(ctx context.Context, tenantID string, req Request) (allowed bool, reason string, err error)

	// ReportUsage records consumed quota for a completed request.
	ReportUsage(ctx context.Context, tenantID string, usage Usage) error
}

// BudgetChecker is the external budget collaborator.
type BudgetChecker interface {
	// CheckBudget reports whether the tenant has budget for the request.
	CheckBudget(ctx context.Context, tenantID string, req Request) (allowed bool, reason string, err error)

	// ReportSpend records actual spend for a completed request.
	ReportSpend(ctx context.Context, tenantID string, usage Usage) error
}

// Decision is the pipeline's answer for one request. Admitted decisions
// carry the admission token and must be completed exactly once via
// Pipeline.Complete.
type Decision struct {
	Outcome Outcome

	// Token is the admission token. Set for admitted decisions, and nil
	// when the concurrency check itself failed open.
	Token *admission.Token

	// Queued is the scheduler entry for queued decisions.
	Queued *sched.Request

	// Reason is set for rejected decisions.
	Reason Reason
	// Detail carries the collaborator's reason text, if any.
	Detail string
	// Retriable reports whether the caller may retry later.
	Retriable bool
	// RetryAfter suggests how long to wait before retrying.
	RetryAfter time.Duration

	tenantID string
	once     sync.Once
}

// rejected builds a rejection decision.
func rejected(tenantID string, reason Reason, detail string, retriable bool, after time.Duration) *Decision {
	return &Decision{
		Outcome:    OutcomeRejected,
		Reason:     reason,
		Detail:     detail,
		Retriable:  retriable,
		RetryAfter: after,
		tenantID:   tenantID,
	}
}

// limiters tracks one token bucket per tenant.
type limiters struct {
	mu sync.Mutex
	m  map[string]*rate.Limiter
}

func newLimiters() *limiters {
	return &limiters{m: make(map[string]*rate.Limiter)}
}

// get returns the tenant's limiter, rebuilding it when the plan's rate
// settings changed.
func (l *limiters) get(tenantID string, rl tenant.RateLimit) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.m[tenantID]
	if !ok || lim.Limit() != rate.Limit(rl.RefillPerSec) || lim.Burst() != rl.Capacity {
		lim = rate.NewLimiter(rate.Limit(rl.RefillPerSec), rl.Capacity)
		l.m[tenantID] = lim
	}
	return lim
}
