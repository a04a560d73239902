package middleware

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for floodgate tracing.
const tracerName = "github.com/xraph/floodgate"

// Tracing returns middleware that wraps tool execution in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop
// tracer is used and this middleware becomes a pass-through with zero
// overhead.
//
// Span attributes include: floodgate.tool, floodgate.operation,
// floodgate.tenant_id, floodgate.attempt.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, call *Call, next Handler) (json.RawMessage, error) {
		ctx, span := tracer.Start(ctx, "floodgate.tool.execute",
			trace.WithAttributes(
				attribute.String("floodgate.tool", call.Tool),
				attribute.String("floodgate.operation", call.Operation),
				attribute.String("floodgate.tenant_id", call.TenantID),
				attribute.Int("floodgate.attempt", call.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		result, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return result, err
	}
}
