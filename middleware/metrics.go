package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ostrea/backlog/job"
)

// meterName is the instrumentation scope name for backlog metrics.
const meterName = "github.com/ostrea/backlog"

// Metrics returns middleware that records per-dispatch metrics using the
// global OTel MeterProvider. With no provider configured the instruments
// are noops and this middleware is a pass-through.
//
// Instruments:
//   - backlog.job.duration (Float64Histogram): execution time in seconds,
//     with attributes: status ("ok" or "error"), attempt
//   - backlog.job.executions (Int64Counter): total executions,
//     with attributes: status ("ok" or "error")
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instruments are created once at construction and are safe for
	// concurrent use. On error the OTel API returns noop instruments,
	// so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"backlog.job.duration",
		metric.WithDescription("Duration of job execution in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	executions, eErr := meter.Int64Counter(
		"backlog.job.executions",
		metric.WithDescription("Total number of job executions"),
		metric.WithUnit("{execution}"),
	)
	_ = eErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("status", status),
			attribute.Int("attempt", j.Retries+1),
		)

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))

		return err
	}
}
