package middleware

import (
	"context"
	"errors"
	"log"
	"time"

	"proclink/host"
	"proclink/message"
)

// RetryMiddleware retries sends that fail at the transport layer, with
// exponential backoff. Anything else (validation, rate limit, context) is
// returned immediately — retrying would not change it.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, env *message.Envelope) error {
			err := next(ctx, env)
			for i := 0; i < maxRetries; i++ {
				if err == nil {
					return nil
				}
				var transportErr *host.TransportError
				if !errors.As(err, &transportErr) {
					return err // Non-retryable error, return immediately
				}
				log.Printf("retry attempt %d for send to %s due to error: %v", i+1, env.Target, err)
				select {
				case <-time.After(baseDelay * time.Duration(1<<i)): // Exponential backoff
				case <-ctx.Done():
					return ctx.Err()
				}
				err = next(ctx, env)
			}
			return err
		}
	}
}
