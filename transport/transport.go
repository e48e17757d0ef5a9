package transport

import (
	"context"
	"sync/atomic"

	"audiopolicy/message"
	"audiopolicy/middleware"
)

// Transactor submits one request buffer and blocks until its reply buffer arrives.
// A transaction the peer refused comes back as a *message.RemoteError.
type Transactor interface {
	Transact(ctx context.Context, data []byte) ([]byte, error)
}

// Loopback runs transactions through a handler chain in the calling goroutine.
// It skips framing entirely, so the server side can be embedded in-process.
type Loopback struct {
	handler middleware.HandlerFunc
	seq     atomic.Uint32
}

func NewLoopback(handler middleware.HandlerFunc) *Loopback {
	return &Loopback{handler: handler}
}

func (l *Loopback) Transact(ctx context.Context, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp := l.handler(ctx, &message.Transaction{Seq: l.seq.Add(1), Data: data})
	if resp.Err != nil {
		return nil, resp.Err
	}
	return resp.Data, nil
}
