package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"audiopolicy/message"
)

// RateLimitMiddleware is a token bucket shared by every connection of the server.
// Requests over the limit are rejected with StatusWouldBlock before they are decoded.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Transaction) *message.Transaction {
			if !limiter.Allow() {
				return message.Reject(req, message.StatusWouldBlock)
			}
			return next(ctx, req)
		}
	}
}
