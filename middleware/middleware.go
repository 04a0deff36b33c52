// Package middleware wraps the send path of a connection.
//
// A SendFunc delivers one message; a Middleware decorates it. Chain applies
// middlewares outermost first, so Chain(a, b)(send) runs a, then b, then send.
package middleware

import (
	"context"
	"errors"

	"netmodule/registry"
)

type SendFunc func(ctx context.Context, msg registry.Serializable) error

type Middleware func(next SendFunc) SendFunc

var (
	ErrRateLimited = errors.New("middleware: rate limit exceeded")
	ErrTimeout     = errors.New("middleware: send timed out")
)

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next SendFunc) SendFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Temporary reports whether err, or anything it wraps, says it is temporary.
func Temporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}
