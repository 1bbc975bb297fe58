// Package middleware provides composable middleware for item workflow
// attempts. Middleware wraps attempt execution synchronously and can
// modify it (recover from panics, enforce deadlines, log, record
// metrics, add tracing).
package middleware

import (
	"context"

	"github.com/rickicode/bulkpanel/id"
	"github.com/rickicode/bulkpanel/job"
)

// Attempt describes one run of an item's stage sequence under the
// retry wrapper.
type Attempt struct {
	JobID id.JobID
	Kind  job.Kind
	Item  job.Item
	// Number is the 1-indexed attempt number.
	Number int
	// Max is the attempt cap for this item.
	Max int
}

// Handler is the terminal function that executes the stage sequence.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the attempt being executed, and the next handler to
// call. Middleware MUST call next to continue the chain (unless
// short-circuiting on error).
type Middleware func(ctx context.Context, a *Attempt, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, a *Attempt, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, a, prev)
			}
		}
		return h(ctx)
	}
}
