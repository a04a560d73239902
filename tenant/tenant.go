// Package tenant defines per-tenant plan limits and the source interface
// through which the plan service supplies them. Limits are read-only to
// floodgate and may change between requests, so callers re-read them from
// the Source on every admission decision instead of caching.
package tenant

import (
	"context"
	"sync"
)

// RateLimit describes a token bucket: Capacity is the burst size and
// RefillPerSec the sustained request rate. A zero RefillPerSec disables
// rate limiting.
type RateLimit struct {
	Capacity     int     `json:"capacity"`
	RefillPerSec float64 `json:"refill_per_sec"`
}

// Limits holds the plan-derived ceilings for one tenant.
type Limits struct {
	TenantID string `json:"tenant_id"`
	Plan     string `json:"plan"`

	// MaxConcurrency caps simultaneous in-flight requests for the tenant.
	MaxConcurrency int `json:"max_concurrency"`

	// MaxQueueDepth caps requests waiting in the fair scheduler.
	MaxQueueDepth int `json:"max_queue_depth"`

	// FairShareWeight sets the tenant's long-run throughput share under
	// weighted fair queuing. Must be positive; 1.0 is the baseline.
	FairShareWeight float64 `json:"fair_share_weight"`

	RateLimit RateLimit `json:"rate_limit"`
}

// DefaultLimits returns conservative limits applied when the plan source
// has no record for a tenant.
func DefaultLimits(tenantID string) Limits {
	return Limits{
		TenantID:        tenantID,
		Plan:            "free",
		MaxConcurrency:  5,
		MaxQueueDepth:   20,
		FairShareWeight: 1.0,
		RateLimit:       RateLimit{Capacity: 10, RefillPerSec: 5},
	}
}

// Source supplies the current limits for a tenant. Implementations are
// the plan/billing collaborator; floodgate only consumes this interface.
type Source interface {
	Limits(ctx context.Context, tenantID string) (Limits, error)
}

// StaticSource is an in-memory Source for tests and single-node setups.
// Tenants without an explicit entry get DefaultLimits.
type StaticSource struct {
	mu     sync.RWMutex
	limits map[string]Limits
}

// NewStaticSource creates a StaticSource from the given limits.
func NewStaticSource(limits ...Limits) *StaticSource {
	s := &StaticSource{limits: make(map[string]Limits, len(limits))}
	for _, l := range limits {
		s.limits[l.TenantID] = l
	}
	return s
}

// Set adds or replaces the limits for a tenant.
func (s *StaticSource) Set(l Limits) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[l.TenantID] = l
}

// Limits returns the configured limits for tenantID, or DefaultLimits.
func (s *StaticSource) Limits(_ context.Context, tenantID string) (Limits, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.limits[tenantID]; ok {
		return l, nil
	}
	return DefaultLimits(tenantID), nil
}
