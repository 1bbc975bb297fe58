package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Recover returns middleware that recovers from panics in the stage
// sequence. A panic in one item's workflow must never take down the
// other items; it is converted to an ordinary attempt error and logged
// with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, a *Attempt, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("item workflow panicked",
					slog.String("job_id", a.JobID.String()),
					slog.String("item", a.Item.Key),
					slog.Int("attempt", a.Number),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic processing %s: %v", a.Item.Key, r)
			}
		}()
		return next(ctx)
	}
}
