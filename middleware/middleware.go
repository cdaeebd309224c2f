// Package middleware provides composable wrappers around the outbound send
// path. The correlation engine builds its send chain once at startup; every
// outgoing envelope then passes through the chain before reaching the host.
package middleware

import (
	"context"

	"proclink/message"
)

// SendFunc delivers one envelope toward the host.
type SendFunc func(ctx context.Context, env *message.Envelope) error

// Middleware wraps a SendFunc with extra behavior.
type Middleware func(next SendFunc) SendFunc

// Chain combines multiple middlewares into one. Chain(A, B, C)(send) runs
// A before B before C before the actual send.
func Chain(middlewares ...Middleware) Middleware {
	return func(next SendFunc) SendFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
