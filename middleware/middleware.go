// Package middleware wraps the server's transaction handler in an onion of cross-cutting
// concerns: logging, metrics, rate limiting and timeouts.
package middleware

import (
	"context"
	"strconv"

	"audiopolicy/message"
)

// HandlerFunc processes one transaction and always returns a reply, which may be a
// rejection carrying a transport status.
type HandlerFunc func(ctx context.Context, req *message.Transaction) *message.Transaction

type Middleware func(next HandlerFunc) HandlerFunc

// CodeNamer renders a transaction code for logs and metric labels.
type CodeNamer func(code uint32) string

// NumericCode is the CodeNamer used when none is supplied.
func NumericCode(code uint32) string {
	return strconv.FormatUint(uint64(code), 10)
}

// Chain composes middlewares so that the first one listed runs outermost:
// Chain(A, B, C)(h) == A(B(C(h))).
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
