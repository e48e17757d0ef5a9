package middleware

import (
	"context"
	"time"

	"github.com/loopholelabs/logging/types"

	"audiopolicy/message"
)

// LoggingMiddleware logs every transaction at debug level and rejections at warn level.
// A nil log turns it into a pass-through.
func LoggingMiddleware(log types.Logger, name CodeNamer) Middleware {
	if name == nil {
		name = NumericCode
	}
	return func(next HandlerFunc) HandlerFunc {
		if log == nil {
			return next
		}
		return func(ctx context.Context, req *message.Transaction) *message.Transaction {
			start := time.Now()
			resp := next(ctx, req)
			duration := time.Since(start)

			if resp.Err != nil {
				log.Warn().
					Uint32("seq", req.Seq).
					Str("code", name(resp.Code)).
					Int64("duration_us", duration.Microseconds()).
					Err(resp.Err).
					Msg("transaction rejected")
				return resp
			}
			log.Debug().
				Uint32("seq", req.Seq).
				Str("code", name(resp.Code)).
				Int("reply_len", len(resp.Data)).
				Int64("duration_us", duration.Microseconds()).
				Msg("transaction")
			return resp
		}
	}
}
