// Package middleware provides composable middleware around job dispatch.
// Middleware wraps the operation call synchronously and can modify
// execution (recover from panics, log, record metrics, add tracing).
package middleware

import (
	"context"

	"github.com/ostrea/backlog/job"
)

// Handler is the terminal function that executes the operation body.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It receives the
// current context, the job being executed, and the next handler to call.
// Middleware MUST call next to continue the chain (unless
// short-circuiting on error).
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the list
// is the outermost wrapper.
//
// Example: Chain(logging, recover) executes as logging → recover → handler.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, j, prev)
			}
		}
		return h(ctx)
	}
}
