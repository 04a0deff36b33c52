package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"netmodule/registry"
)

// RateLimitMiddleware 创建一个基于令牌桶算法的限流中间件
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, msg registry.Serializable) error {
			if !limiter.Allow() {
				return ErrRateLimited
			}
			return next(ctx, msg)
		}
	}
}
