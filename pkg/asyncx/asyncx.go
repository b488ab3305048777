// Package asyncx holds the small set of goroutine helpers used for
// best-effort side effects: login mails, event publishing and retries.
package asyncx

import (
	"context"
	"time"

	"github.com/Abraxas-365/bastion/pkg/logx"
)

// Do fires fn in a goroutine and forgets it. A panic in fn is logged
// instead of crashing the process.
func Do(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logx.Errorf("asyncx: recovered panic in background task: %v", r)
			}
		}()
		fn()
	}()
}

// Detached runs fn in the background with a context that keeps ctx's
// values but not its cancellation, bounded by timeout.
func Detached(ctx context.Context, timeout time.Duration, fn func(context.Context)) {
	ctx = context.WithoutCancel(ctx)
	Do(func() {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		fn(ctx)
	})
}

// RetryWithBackoff calls fn up to attempts times, doubling the delay after
// each failure. It stops early when ctx is done.
func RetryWithBackoff[T any](
	ctx context.Context,
	attempts int,
	initialDelay time.Duration,
	fn func(context.Context) (T, error),
) (T, error) {
	var (
		zero  T
		err   error
		val   T
		delay = initialDelay
	)
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		val, err = fn(ctx)
		if err == nil {
			return val, nil
		}

		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
				delay *= 2
			}
		}
	}
	return zero, err
}
