package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"netmodule/registry"
)

// LoggingMiddleware logs every send with its payload type and duration.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, msg registry.Serializable) error {
			start := time.Now()
			err := next(ctx, msg)
			fields := []zap.Field{
				zap.Stringer("type", msg.Type()),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("send failed", append(fields, zap.Error(err))...)
				return err
			}
			logger.Debug("sent", fields...)
			return nil
		}
	}
}
