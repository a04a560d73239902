package middleware

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for floodgate metrics.
const meterName = "github.com/xraph/floodgate"

// Metrics returns middleware that records per-call execution metrics using
// the global OTel MeterProvider. If no MeterProvider is configured, noop
// instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - floodgate.tool.duration (Float64Histogram): execution time in
//     seconds, with attributes: tool, operation, status ("ok" or "error")
//   - floodgate.tool.calls (Int64Counter): total calls,
//     with attributes: tool, operation, status ("ok" or "error")
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Create instruments once at middleware construction time.
	// OTel instruments are safe for concurrent use. On error, the API
	// returns noop instruments so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"floodgate.tool.duration",
		metric.WithDescription("Duration of tool call execution in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr

	calls, cErr := meter.Int64Counter(
		"floodgate.tool.calls",
		metric.WithDescription("Total number of tool calls"),
		metric.WithUnit("{call}"),
	)
	_ = cErr

	return func(ctx context.Context, call *Call, next Handler) (json.RawMessage, error) {
		start := time.Now()
		result, err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("tool", call.Tool),
			attribute.String("operation", call.Operation),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		calls.Add(ctx, 1, attrs)

		return result, err
	}
}
