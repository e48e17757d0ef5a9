// Package transport implements the client side of the byte transport that carries policy
// transactions, with multiplexing and heartbeat.
//
// ClientTransport lets many goroutines issue transactions over a single TCP connection.
// Each request gets a unique sequence number, and a background goroutine (recvLoop)
// reads replies and routes them to the waiting caller.
//
//	goroutine-1 ──Transact(seq=1)──┐
//	goroutine-2 ──Transact(seq=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Transact(seq=3)──┘
//
//	recvLoop:  ←── reply(seq=2) → pending[2] chan → goroutine-2 wakes up
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/loopholelabs/logging/types"

	"audiopolicy/message"
	"audiopolicy/protocol"
)

// ErrClosed is returned for transactions issued on, or pending on, a dead connection.
var ErrClosed = errors.New("transport: connection closed")

const DefaultHeartbeat = 30 * time.Second

type result struct {
	data []byte
	err  error
}

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn      net.Conn      // underlying TCP connection, owned by the transport
	heartbeat time.Duration // 0 disables the heartbeat loop
	log       types.Logger

	// sending serializes frame writes and guards seq and err.
	sending sync.Mutex
	seq     uint32        // last sequence number issued
	err     error         // set once the connection is dead; sticky
	pending sync.Map      // map[uint32]chan result, one buffered channel per waiter
	done    chan struct{} // closed by closeAllPending
	once    sync.Once     // guards close(done)
}

type Option func(*ClientTransport)

// WithHeartbeat sets the heartbeat interval. Zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(t *ClientTransport) { t.heartbeat = d }
}

func WithLogger(log types.Logger) Option {
	return func(t *ClientTransport) { t.log = log }
}

// NewClientTransport takes ownership of conn and starts the receive loop and, unless
// disabled, the heartbeat loop.
func NewClientTransport(conn net.Conn, opts ...Option) *ClientTransport {
	t := &ClientTransport{
		conn:      conn,
		heartbeat: DefaultHeartbeat,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.recvLoop()
	if t.heartbeat > 0 {
		go t.heartbeatLoop(t.heartbeat)
	}
	return t
}

// Transact sends data as one request frame and waits for the matching reply.
// Cancelling ctx abandons the wait; the request may still have reached the server.
func (t *ClientTransport) Transact(ctx context.Context, data []byte) ([]byte, error) {
	seq, ch, err := t.send(data)
	if err != nil {
		return nil, err
	}
	select {
	case r := <-ch:
		return r.data, r.err
	case <-ctx.Done():
		t.pending.Delete(seq)
		return nil, ctx.Err()
	}
}

func (t *ClientTransport) send(data []byte) (uint32, <-chan result, error) {
	t.sending.Lock()
	defer t.sending.Unlock()

	// Step 1: a dead connection fails fast; closeAllPending already swept the map
	if t.err != nil {
		return 0, nil, t.err
	}

	// Step 2: take the next sequence number
	t.seq++
	seq := t.seq

	// Step 3: register before writing so recvLoop can never see a reply without a waiter.
	// Buffered so recvLoop never blocks on a caller that gave up.
	ch := make(chan result, 1)
	t.pending.Store(seq, ch)

	// Step 4: write the frame; on failure nobody will answer, so unregister
	h := protocol.Header{MsgType: protocol.MsgTypeRequest, Seq: seq}
	if err := protocol.Encode(t.conn, &h, data); err != nil {
		t.pending.Delete(seq)
		return 0, nil, fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return seq, ch, nil
}

// recvLoop is the only reader of the connection: frame boundaries are only found by
// reading the stream in order.
func (t *ClientTransport) recvLoop() {
	for {
		h, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.closeAllPending(err)
			return
		}

		var r result
		switch h.MsgType {
		case protocol.MsgTypeReply:
			r.data = body
		case protocol.MsgTypeError:
			status, err := protocol.DecodeStatus(body)
			if err != nil {
				t.closeAllPending(err)
				return
			}
			r.err = &message.RemoteError{Status: status}
		default:
			continue
		}

		if ch, ok := t.pending.LoadAndDelete(h.Seq); ok {
			ch.(chan result) <- r
		} else if t.log != nil {
			t.log.Debug().Uint32("seq", h.Seq).Msg("reply for abandoned transaction")
		}
	}
}

// closeAllPending marks the transport dead and fails every waiting caller. Holding the
// sending lock while setting err means no send can register after the sweep.
func (t *ClientTransport) closeAllPending(cause error) {
	err := fmt.Errorf("%w: %v", ErrClosed, cause)

	t.sending.Lock()
	t.err = err
	t.sending.Unlock()
	t.once.Do(func() { close(t.done) })

	if t.log != nil {
		t.log.Debug().Str("remote", t.conn.RemoteAddr().String()).Err(cause).Msg("connection lost")
	}

	t.pending.Range(func(key, _ any) bool {
		if ch, ok := t.pending.LoadAndDelete(key); ok {
			ch.(chan result) <- result{err: err}
		}
		return true
	})
}

// Close shuts the connection down. Pending transactions fail with ErrClosed.
func (t *ClientTransport) Close() error {
	return t.conn.Close()
}

// Done is closed once the connection is dead.
func (t *ClientTransport) Done() <-chan struct{} {
	return t.done
}

// heartbeatLoop keeps idle connections from being reaped. Heartbeat frames have no body.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		h := &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}
		t.sending.Lock()
		err := protocol.Encode(t.conn, h, nil)
		t.sending.Unlock()
		if err != nil {
			return
		}
	}
}
