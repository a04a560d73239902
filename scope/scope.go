// Package scope provides helpers to capture and restore multi-tenant
// execution identity from/to context.Context.
//
// The surrounding transport layer authenticates the caller and attaches
// the tenant to the request context with WithTenant; floodgate components
// read it back with TenantFrom. Saga execution captures the tenant at
// start and restores it into the detached execution context.
package scope

import "context"

type tenantKey struct{}

// WithTenant attaches a tenant identifier to the context.
// If tenantID is empty, the context is returned unchanged.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	if tenantID == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantFrom extracts the tenant identifier from the context.
// Returns an empty string if no tenant is present.
func TenantFrom(ctx context.Context) string {
	s, _ := ctx.Value(tenantKey{}).(string)
	return s
}
