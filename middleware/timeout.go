package middleware

import (
	"context"
	"time"
)

// Timeout returns middleware that enforces a per-attempt deadline.
// A zero duration disables the deadline. Collaborator calls carry their
// own timeouts; this is a safety net over the whole stage sequence.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *Attempt, next Handler) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
