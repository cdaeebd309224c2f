package middleware

import (
	"context"
	"errors"
	"time"

	"proclink/message"
)

// ErrSendTimeout is returned when the send itself does not complete in time.
// This bounds the hand-off to the host, not the wait for a response — the
// correlation engine owns response deadlines.
var ErrSendTimeout = errors.New("send timed out")

func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, env *message.Envelope) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- next(ctx, env)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return ErrSendTimeout
			}
		}
	}
}
