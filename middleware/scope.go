package middleware

import (
	"context"
	"encoding/json"

	"github.com/xraph/floodgate/scope"
)

// Scope returns middleware that restores the calling tenant from the
// call's TenantID field into the context, so adapters see the same
// tenant scope as the original admission caller.
func Scope() Middleware {
	return func(ctx context.Context, call *Call, next Handler) (json.RawMessage, error) {
		if call.TenantID != "" {
			ctx = scope.WithTenant(ctx, call.TenantID)
		}
		return next(ctx)
	}
}
