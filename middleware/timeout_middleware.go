package middleware

import (
	"context"
	"fmt"
	"time"

	"netmodule/registry"
)

// TimeOutMiddleware bounds how long a caller waits for a send. The write
// itself is not interrupted; it finishes in the background.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, msg registry.Serializable) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- next(ctx, msg)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return fmt.Errorf("%w after %s", ErrTimeout, timeout)
			}
		}
	}
}
