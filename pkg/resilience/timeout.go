package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WithTimeout runs fn under a deadline of timeout; zero means none. fn must
// return once its context is done. Hitting the deadline is reported as an
// error wrapping context.DeadlineExceeded that names the operation.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(tctx)
	if err == nil || ctx.Err() != nil {
		return err
	}
	if errors.Is(tctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s exceeded %v: %w", name, timeout, context.DeadlineExceeded)
	}
	return err
}
