package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for bulkpanel tracing.
const tracerName = "github.com/rickicode/bulkpanel"

// Tracing returns middleware that wraps each attempt in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a
// pass-through with zero overhead.
//
// Span attributes include: bulkpanel.job.id, bulkpanel.kind,
// bulkpanel.item, bulkpanel.attempt. On error, the span status is set
// to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided
// tracer. This variant allows injecting a specific TracerProvider for
// testing or when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, a *Attempt, next Handler) error {
		ctx, span := tracer.Start(ctx, "bulkpanel.attempt.execute",
			trace.WithAttributes(
				attribute.String("bulkpanel.job.id", a.JobID.String()),
				attribute.String("bulkpanel.kind", string(a.Kind)),
				attribute.String("bulkpanel.item", a.Item.Key),
				attribute.Int("bulkpanel.attempt", a.Number),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
