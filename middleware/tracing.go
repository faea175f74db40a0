package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ostrea/backlog/job"
)

// tracerName is the instrumentation scope name for backlog tracing.
const tracerName = "github.com/ostrea/backlog"

// Tracing returns middleware that wraps dispatch in an OpenTelemetry
// span. With no TracerProvider configured globally, the noop tracer is
// used and this middleware is a pass-through with zero overhead.
//
// Span attributes: backlog.job.id, backlog.job.retries. On error the span
// status is set to codes.Error with the error message.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "backlog.job.dispatch",
			trace.WithAttributes(
				attribute.String("backlog.job.id", j.ID.String()),
				attribute.Int("backlog.job.retries", j.Retries),
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
