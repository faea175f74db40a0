package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/ostrea/backlog/job"
)

// Logging returns middleware that logs dispatch start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Debug("job dispatch started",
			slog.String("job_id", j.ID.String()),
			slog.Int("retries", j.Retries),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("job dispatch failed",
				slog.String("job_id", j.ID.String()),
				slog.Int("retries", j.Retries),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("job dispatch completed",
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
