package middleware

import (
	"context"
	"log"
	"time"

	"proclink/message"
)

func LoggingMiddleware() Middleware {
	return func(next SendFunc) SendFunc {
		return func(ctx context.Context, env *message.Envelope) error {
			start := time.Now()
			err := next(ctx, env)
			duration := time.Since(start)
			log.Printf("send target=%s kind=%d seq=%d duration=%s", env.Target, env.Kind, env.Correlation.Seq, duration)
			if err != nil {
				log.Printf("send error: %v", err)
			}
			return err
		}
	}
}
