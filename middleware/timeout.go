package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/xraph/floodgate"
)

// Timeout returns middleware that enforces a per-call execution deadline.
// If the call has a non-zero Timeout, a context.WithTimeout wraps the
// handler call. Deadline errors are classified as KindTimeout.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, call *Call, next Handler) (json.RawMessage, error) {
		if call.Timeout > 0 {
			logger.Debug("tool call timeout set",
				slog.String("tool", call.Tool),
				slog.Duration("timeout", call.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, call.Timeout)
			defer cancel()
		}
		result, err := next(ctx)
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			return result, floodgate.WithKind(floodgate.KindTimeout, err)
		}
		return result, err
	}
}
