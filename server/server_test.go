package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audiopolicy/message"
	"audiopolicy/middleware"
	"audiopolicy/protocol"
	"audiopolicy/registry"
)

func echoHandler(_ context.Context, req *message.Transaction) *message.Transaction {
	if len(req.Data) == 0 {
		return message.Reject(req, message.StatusNotEnoughData)
	}
	return &message.Transaction{Seq: req.Seq, Data: req.Data}
}

func startServer(t *testing.T, svr *Server) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- svr.ServeListener(l, "") }()
	t.Cleanup(func() {
		_ = svr.Shutdown(time.Second)
		assert.NoError(t, <-done)
	})
	return l.Addr().String()
}

func roundTrip(t *testing.T, conn net.Conn, seq uint32, body []byte) (*protocol.Header, []byte) {
	t.Helper()
	require.NoError(t, protocol.Encode(conn, &protocol.Header{MsgType: protocol.MsgTypeRequest, Seq: seq}, body))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	h, reply, err := protocol.Decode(conn)
	require.NoError(t, err)
	return h, reply
}

func TestServerReplyAndErrorFrames(t *testing.T) {
	addr := startServer(t, NewServer(echoHandler))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	// Heartbeats are swallowed.
	require.NoError(t, protocol.Encode(conn, &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}, nil))

	h, body := roundTrip(t, conn, 7, []byte{1, 2, 3, 4})
	assert.Equal(t, protocol.MsgTypeReply, h.MsgType)
	assert.Equal(t, uint32(7), h.Seq)
	assert.Equal(t, []byte{1, 2, 3, 4}, body)

	h, body = roundTrip(t, conn, 8, nil)
	assert.Equal(t, protocol.MsgTypeError, h.MsgType)
	assert.Equal(t, uint32(8), h.Seq)
	status, err := protocol.DecodeStatus(body)
	require.NoError(t, err)
	assert.Equal(t, message.StatusNotEnoughData, status)
}

func TestServerMiddlewareOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	mark := func(name string) middleware.Middleware {
		return func(next middleware.HandlerFunc) middleware.HandlerFunc {
			return func(ctx context.Context, req *message.Transaction) *message.Transaction {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return next(ctx, req)
			}
		}
	}

	svr := NewServer(echoHandler)
	svr.Use(mark("first"))
	svr.Use(mark("second"))
	addr := startServer(t, svr)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	roundTrip(t, conn, 1, []byte{1})
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestServerRateLimitRejects(t *testing.T) {
	svr := NewServer(echoHandler)
	svr.Use(middleware.RateLimitMiddleware(0.001, 1))
	addr := startServer(t, svr)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	h, _ := roundTrip(t, conn, 1, []byte{1})
	assert.Equal(t, protocol.MsgTypeReply, h.MsgType)

	h, body := roundTrip(t, conn, 2, []byte{1})
	require.Equal(t, protocol.MsgTypeError, h.MsgType)
	status, err := protocol.DecodeStatus(body)
	require.NoError(t, err)
	assert.Equal(t, message.StatusWouldBlock, status)
}

// recordingRegistry remembers what the server announced.
type recordingRegistry struct {
	registry.Static
	mu           sync.Mutex
	registered   []registry.ServiceInstance
	deregistered []string
}

func (r *recordingRegistry) Register(_ context.Context, _ string, inst registry.ServiceInstance, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered = append(r.registered, inst)
	return nil
}

func (r *recordingRegistry) Deregister(_ context.Context, _ string, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deregistered = append(r.deregistered, id)
	return nil
}

func TestServerRegistersAndDeregisters(t *testing.T) {
	reg := &recordingRegistry{}
	svr := NewServer(echoHandler,
		WithRegistry(reg, "audiopolicy", 5),
		WithInstance(registry.ServiceInstance{Interface: "android.media.IAudioPolicyService", Version: "1"}))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- svr.ServeListener(l, "") }()

	require.Eventually(t, func() bool {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		return len(reg.registered) == 1
	}, time.Second, 10*time.Millisecond)

	reg.mu.Lock()
	inst := reg.registered[0]
	reg.mu.Unlock()
	assert.NotEmpty(t, inst.ID)
	assert.Equal(t, l.Addr().String(), inst.Addr)
	assert.Equal(t, "1", inst.Version)

	require.NoError(t, svr.Shutdown(time.Second))
	require.NoError(t, <-done)
	assert.Equal(t, []string{inst.ID}, reg.deregistered)
}

func TestServerShutdownWaitsForInflight(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan struct{})
	svr := NewServer(func(_ context.Context, req *message.Transaction) *message.Transaction {
		close(started)
		time.Sleep(100 * time.Millisecond)
		close(finished)
		return &message.Transaction{Seq: req.Seq}
	})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- svr.ServeListener(l, "") }()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, protocol.Encode(conn, &protocol.Header{MsgType: protocol.MsgTypeRequest, Seq: 1}, []byte{1}))

	<-started
	require.NoError(t, svr.Shutdown(time.Second))
	select {
	case <-finished:
	default:
		t.Fatal("Shutdown returned before the in-flight request finished")
	}
	require.NoError(t, <-done)
}

func TestServerShutdownTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{}, 1)
	svr := NewServer(func(_ context.Context, req *message.Transaction) *message.Transaction {
		started <- struct{}{}
		<-block
		return &message.Transaction{Seq: req.Seq}
	})
	addr := startServerNoCleanup(t, svr)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, protocol.Encode(conn, &protocol.Header{MsgType: protocol.MsgTypeRequest, Seq: 1}, []byte{1}))

	<-started
	assert.Error(t, svr.Shutdown(50*time.Millisecond))
}

func startServerNoCleanup(t *testing.T, svr *Server) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = svr.ServeListener(l, "") }()
	return l.Addr().String()
}

// Requests keep arriving while Shutdown runs; none may start after it returns.
func TestServerNoRequestStartsAfterShutdown(t *testing.T) {
	var mu sync.Mutex
	started := 0
	svr := NewServer(func(_ context.Context, req *message.Transaction) *message.Transaction {
		mu.Lock()
		started++
		mu.Unlock()
		return &message.Transaction{Seq: req.Seq, Data: req.Data}
	})
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- svr.ServeListener(l, "") }()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// Drain replies so the server never blocks writing.
	go func() {
		for {
			if _, _, err := protocol.Decode(conn); err != nil {
				return
			}
		}
	}()

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for seq := uint32(1); ; seq++ {
			select {
			case <-stop:
				return
			default:
			}
			if protocol.Encode(conn, &protocol.Header{MsgType: protocol.MsgTypeRequest, Seq: seq}, []byte{1}) != nil {
				return
			}
		}
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return started > 10
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, svr.Shutdown(2*time.Second))
	mu.Lock()
	atShutdown := started
	mu.Unlock()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, atShutdown, started)
	mu.Unlock()

	close(stop)
	<-writerDone
	require.NoError(t, <-done)
}
