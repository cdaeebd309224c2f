package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"proclink/message"
)

// ErrRateLimited is returned when the token bucket is empty.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitMiddleware caps the outbound send rate with a token bucket.
// Rejected sends fail synchronously; nothing leaves the process.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, env *message.Envelope) error {
			if !limiter.Allow() {
				return ErrRateLimited
			}
			return next(ctx, env)
		}
	}
}
