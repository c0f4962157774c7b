package engine

import (
	"context"
	"time"
)

// withSuppressedCancellation runs fn with external cancellation deferred:
// once the customer sees a typing indicator, either a reply or an explicit
// error must follow, never silence. The inner context ignores the parent's
// cancellation but keeps its values and gets its own deadline so a hung
// provider cannot pin the goroutine. The parent's cancellation error, if
// any, is reported back once fn returns.
func withSuppressedCancellation(ctx context.Context, budget time.Duration, fn func(ctx context.Context) error) (fnErr, cancelErr error) {
	inner := context.WithoutCancel(ctx)
	if budget > 0 {
		var cancel context.CancelFunc
		inner, cancel = context.WithTimeout(inner, budget)
		defer cancel()
	}
	return fn(inner), ctx.Err()
}
