package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/ostrea/backlog/job"
)

// Recover returns middleware that recovers from panics in the handler
// chain. A panic is converted to an ordinary handler error, so it flows
// into result classification (and the retry policy) like any other
// failure, and is logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("job handler panicked",
					slog.String("job_id", j.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic in job %s: %v", j.ID.String(), r)
			}
		}()
		return next(ctx)
	}
}
