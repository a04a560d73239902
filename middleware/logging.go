package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Logging returns middleware that logs call start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, call *Call, next Handler) (json.RawMessage, error) {
		logger.Info("tool call started",
			slog.String("tool", call.Tool),
			slog.String("operation", call.Operation),
			slog.String("tenant_id", call.TenantID),
			slog.Int("attempt", call.Attempt),
		)

		start := time.Now()
		result, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("tool call failed",
				slog.String("tool", call.Tool),
				slog.String("operation", call.Operation),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("tool call completed",
				slog.String("tool", call.Tool),
				slog.String("operation", call.Operation),
				slog.Duration("elapsed", elapsed),
			)
		}

		return result, err
	}
}
