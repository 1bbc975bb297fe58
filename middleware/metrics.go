package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for bulkpanel metrics.
const meterName = "github.com/rickicode/bulkpanel"

// Metrics returns middleware that records per-attempt execution metrics
// using the global OTel MeterProvider. If no MeterProvider is
// configured, noop instruments are used and this middleware becomes a
// pass-through.
//
// Instruments:
//   - bulkpanel.attempt.duration (Float64Histogram): attempt time in
//     seconds, with attributes: kind, status ("ok" or "error")
//   - bulkpanel.attempt.executions (Int64Counter): total attempts,
//     with attributes: kind, status ("ok" or "error")
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instruments are created once at construction time; OTel returns
	// noop instruments on error so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"bulkpanel.attempt.duration",
		metric.WithDescription("Duration of item workflow attempts in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	executions, eErr := meter.Int64Counter(
		"bulkpanel.attempt.executions",
		metric.WithDescription("Total number of item workflow attempts"),
		metric.WithUnit("{attempt}"),
	)
	_ = eErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, a *Attempt, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("kind", string(a.Kind)),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
