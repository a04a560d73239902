// Package admission implements the per-tenant concurrency admission
// counter. Acquire is an atomic compare-and-increment against the tenant's
// plan ceiling; every grant is a lease with a TTL so that capacity lost to
// a crashed holder is reclaimed by a background sweep instead of leaking
// forever.
//
// All state lives in the statestore, so the counter is correct across
// multiple gateway instances sharing one backing store.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/floodgate"
	"github.com/xraph/floodgate/id"
	"github.com/xraph/floodgate/statestore"
	"github.com/xraph/floodgate/tenant"
)

// Token is a lease representing one unit of a tenant's concurrency
// allowance. It is owned exclusively by the request that acquired it and
// must be released exactly once by that request's completion path; the
// sweep reclaims it if the holder crashes.
type Token struct {
	ID         id.TokenID `json:"id"`
	TenantID   string     `json:"tenant_id"`
	AcquiredAt time.Time  `json:"acquired_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// Emitter is notified when the sweep reclaims an expired lease.
// The ext registry satisfies this interface.
type Emitter interface {
	EmitTokenReclaimed(ctx context.Context, tenantID, tokenID string)
}

// Option configures a Counter.
type Option func(*Counter)

// WithLeaseTTL sets how long a token stays valid without renewal.
func WithLeaseTTL(d time.Duration) Option {
	return func(c *Counter) { c.leaseTTL = d }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Counter) { c.logger = l }
}

// WithEmitter sets the lifecycle emitter for reclaimed leases.
func WithEmitter(e Emitter) Option {
	return func(c *Counter) { c.emitter = e }
}

// Counter tracks in-flight requests per tenant against plan ceilings.
type Counter struct {
	store    statestore.Store
	leaseTTL time.Duration
	logger   *slog.Logger
	emitter  Emitter
}

// NewCounter creates a Counter on the given state store.
func NewCounter(store statestore.Store, opts ...Option) *Counter {
	c := &Counter{
		store:    store,
		leaseTTL: 30 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LeaseTTL returns the configured lease duration.
func (c *Counter) LeaseTTL() time.Duration { return c.leaseTTL }

// Acquire attempts to take one unit of the tenant's concurrency allowance.
// Denial (nil token, false) is a normal outcome, not an error. On grant,
// the caller must Release the token when the request completes.
func (c *Counter) Acquire(ctx context.Context, limits tenant.Limits) (*Token, bool, error) {
	tenantID := limits.TenantID

	_, ok, err := c.store.IncrWithCeiling(ctx, activeKey(tenantID), int64(limits.MaxConcurrency))
	if err != nil {
		return nil, false, fmt.Errorf("admission: acquire for %q: %w", tenantID, err)
	}
	if !ok {
		return nil, false, nil
	}

	now := time.Now().UTC()
	tok := &Token{
		ID:         id.NewTokenID(),
		TenantID:   tenantID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(c.leaseTTL),
	}

	// The lease index membership is the settle-once record: whoever
	// removes the member (Release via ZRem, the sweep via ZPopBelow)
	// returns the unit, never both. The token key is metadata only and
	// may expire without affecting the counter.
	if err := c.store.Set(ctx, tokenKey(tok.ID.String()), []byte(tenantID), 2*c.leaseTTL); err != nil {
		c.rollback(ctx, tenantID)
		return nil, false, fmt.Errorf("admission: record token for %q: %w", tenantID, err)
	}
	if err := c.store.ZAdd(ctx, leaseIndexKey, leaseMember(tenantID, tok.ID.String()), float64(tok.ExpiresAt.Unix())); err != nil {
		_, _ = c.store.Delete(ctx, tokenKey(tok.ID.String()))
		c.rollback(ctx, tenantID)
		return nil, false, fmt.Errorf("admission: index lease for %q: %w", tenantID, err)
	}

	if _, err := c.store.Incr(ctx, totalActiveKey, 1); err != nil {
		c.logger.Warn("admission: total counter update failed", slog.String("error", err.Error()))
	}

	return tok, true, nil
}

// Release returns the token's concurrency unit. Releasing a token the
// sweep already reclaimed is a no-op: the unit was already returned.
func (c *Counter) Release(ctx context.Context, tok *Token) error {
	removed, err := c.store.ZRem(ctx, leaseIndexKey, leaseMember(tok.TenantID, tok.ID.String()))
	if err != nil {
		return fmt.Errorf("admission: release %s: %w", tok.ID, err)
	}
	if removed == 0 {
		return nil
	}

	_, _ = c.store.Delete(ctx, tokenKey(tok.ID.String()))
	c.decrement(ctx, tok.TenantID)
	return nil
}

// Renew extends the token's lease by the configured TTL. Returns
// floodgate.ErrTokenNotFound if the lease has already been reclaimed.
func (c *Counter) Renew(ctx context.Context, tok *Token) error {
	_, found, err := c.store.Get(ctx, tokenKey(tok.ID.String()))
	if err != nil {
		return fmt.Errorf("admission: renew %s: %w", tok.ID, err)
	}
	if !found {
		return floodgate.ErrTokenNotFound
	}

	tok.ExpiresAt = time.Now().UTC().Add(c.leaseTTL)
	if err := c.store.Set(ctx, tokenKey(tok.ID.String()), []byte(tok.TenantID), 2*c.leaseTTL); err != nil {
		return fmt.Errorf("admission: renew %s: %w", tok.ID, err)
	}
	if err := c.store.ZAdd(ctx, leaseIndexKey, leaseMember(tok.TenantID, tok.ID.String()), float64(tok.ExpiresAt.Unix())); err != nil {
		return fmt.Errorf("admission: renew %s: %w", tok.ID, err)
	}
	return nil
}

// SweepExpired reclaims leases that expired at or before now and returns
// how many were reclaimed. Safe to run concurrently with Release: whoever
// removes the lease index member settles the counter, never both.
func (c *Counter) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	members, err := c.store.ZPopBelow(ctx, leaseIndexKey, float64(now.Unix()), sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("admission: sweep: %w", err)
	}

	reclaimed := 0
	for _, m := range members {
		tenantID, tokenID, ok := parseLeaseMember(m)
		if !ok {
			c.logger.Warn("admission: malformed lease member", slog.String("member", m))
			continue
		}

		// The pop above settled the lease; the token key is cleanup.
		if _, delErr := c.store.Delete(ctx, tokenKey(tokenID)); delErr != nil {
			c.logger.Warn("admission: sweep token cleanup failed",
				slog.String("token_id", tokenID),
				slog.String("error", delErr.Error()),
			)
		}

		c.decrement(ctx, tenantID)
		reclaimed++

		c.logger.Warn("admission: reclaimed expired lease",
			slog.String("tenant_id", tenantID),
			slog.String("token_id", tokenID),
		)
		if c.emitter != nil {
			c.emitter.EmitTokenReclaimed(ctx, tenantID, tokenID)
		}
	}
	return reclaimed, nil
}

// Active returns the number of in-flight requests for a tenant.
func (c *Counter) Active(ctx context.Context, tenantID string) (int64, error) {
	v, err := c.store.Incr(ctx, activeKey(tenantID), 0)
	if err != nil {
		return 0, fmt.Errorf("admission: stats for %q: %w", tenantID, err)
	}
	return v, nil
}

// TotalActive returns the number of in-flight requests across all tenants.
func (c *Counter) TotalActive(ctx context.Context) (int64, error) {
	v, err := c.store.Incr(ctx, totalActiveKey, 0)
	if err != nil {
		return 0, fmt.Errorf("admission: system stats: %w", err)
	}
	return v, nil
}

func (c *Counter) decrement(ctx context.Context, tenantID string) {
	if v, err := c.store.Incr(ctx, activeKey(tenantID), -1); err != nil {
		c.logger.Error("admission: decrement failed",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
	} else if v < 0 {
		// Drift guard; should not happen with settle-once release.
		c.logger.Warn("admission: counter went negative, resetting",
			slog.String("tenant_id", tenantID),
			slog.Int64("value", v),
		)
		_, _ = c.store.Incr(ctx, activeKey(tenantID), -v)
	}
	if _, err := c.store.Incr(ctx, totalActiveKey, -1); err != nil {
		c.logger.Warn("admission: total counter update failed", slog.String("error", err.Error()))
	}
}

func (c *Counter) rollback(ctx context.Context, tenantID string) {
	if _, err := c.store.Incr(ctx, activeKey(tenantID), -1); err != nil {
		c.logger.Error("admission: rollback failed",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
	}
}

const sweepBatchSize = 256

func leaseMember(tenantID, tokenID string) string {
	return tenantID + "/" + tokenID
}

func parseLeaseMember(m string) (tenantID, tokenID string, ok bool) {
	i := strings.LastIndex(m, "/")
	if i <= 0 || i == len(m)-1 {
		return "", "", false
	}
	return m[:i], m[i+1:], true
}
