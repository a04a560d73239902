// Package middleware provides composable middleware for tool execution.
// Middleware wraps tool calls synchronously and can modify execution
// (recover from panics, inject scope, log, add tracing, etc.).
package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xraph/floodgate/id"
)

// Call describes one tool invocation flowing through the chain.
type Call struct {
	// EntryID is the WAL entry recorded for this call, if any.
	EntryID id.EntryID
	// Tool is the adapter name.
	Tool string
	// Operation is the operation within the tool.
	Operation string
	// TenantID is the calling tenant.
	TenantID string
	// Parameters is the call's input document.
	Parameters json.RawMessage
	// Timeout bounds the call's execution. Zero means no per-call bound.
	Timeout time.Duration
	// Attempt is the 1-indexed retry attempt.
	Attempt int
}

// Handler is the terminal function that executes the tool call.
type Handler func(ctx context.Context) (json.RawMessage, error)

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the call being executed, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, call *Call, next Handler) (json.RawMessage, error)

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, scope) executes as:
//
//	logging → recover → scope → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, call *Call, next Handler) (json.RawMessage, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) (json.RawMessage, error) {
				return mw(ctx, call, prev)
			}
		}
		return h(ctx)
	}
}
