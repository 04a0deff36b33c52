package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"netmodule/registry"
)

// RetryMiddleware retries sends that fail with a temporary error, doubling the
// delay after each attempt. Other errors return immediately.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, msg registry.Serializable) error {
			err := next(ctx, msg)
			for i := 0; i < maxRetries; i++ {
				if err == nil || !Temporary(err) {
					return err
				}
				logger.Info("retrying send",
					zap.Int("attempt", i+1),
					zap.Stringer("type", msg.Type()),
					zap.Error(err))
				select {
				case <-time.After(baseDelay * time.Duration(1<<i)): // Exponential backoff
				case <-ctx.Done():
					return ctx.Err()
				}
				err = next(ctx, msg)
			}
			return err
		}
	}
}
