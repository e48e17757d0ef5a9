package middleware

import (
	"context"
	"time"

	"audiopolicy/message"
)

// TimeOutMiddleware rejects with StatusTimedOut when next does not answer in time.
// The abandoned call keeps running in its goroutine; the engine call it makes is not
// cancelled, only its reply is dropped.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Transaction) *message.Transaction {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Transaction, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.Reject(req, message.StatusTimedOut)
			}
		}
	}
}
