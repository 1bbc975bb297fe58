package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs attempt start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, a *Attempt, next Handler) error {
		logger.Info("attempt started",
			slog.String("job_id", a.JobID.String()),
			slog.String("kind", string(a.Kind)),
			slog.String("item", a.Item.Key),
			slog.Int("attempt", a.Number),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("attempt failed",
				slog.String("job_id", a.JobID.String()),
				slog.String("item", a.Item.Key),
				slog.Int("attempt", a.Number),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("attempt completed",
				slog.String("job_id", a.JobID.String()),
				slog.String("item", a.Item.Key),
				slog.Int("attempt", a.Number),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
