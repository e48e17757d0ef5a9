// Package server hosts a transaction handler on a stream listener, with a middleware
// chain, parallel request processing, registry announcement and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → Middleware Chain → handler (dispatcher) → reply or error frame
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loopholelabs/logging/types"

	"audiopolicy/message"
	"audiopolicy/middleware"
	"audiopolicy/protocol"
	"audiopolicy/registry"
)

const DefaultRegistryTTL = 10

// Server serves one handler, typically policy.Dispatcher.Handler().
type Server struct {
	handler     middleware.HandlerFunc  // innermost handler
	middlewares []middleware.Middleware // applied in the order added
	chain       middleware.HandlerFunc  // built once in ServeListener

	mu       sync.Mutex // guards listener, conns and instance
	listener net.Listener
	conns    map[net.Conn]struct{}

	wg       sync.WaitGroup // in-flight requests
	shutdown atomic.Bool

	registry    registry.Registry
	serviceName string
	ttl         int64
	instance    registry.ServiceInstance

	log types.Logger
}

type Option func(*Server)

func WithLogger(log types.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithRegistry announces the server under serviceName once it is listening.
func WithRegistry(reg registry.Registry, serviceName string, ttl int64) Option {
	return func(s *Server) {
		s.registry = reg
		s.serviceName = serviceName
		s.ttl = ttl
	}
}

// WithInstance sets the metadata published to the registry. ID and Addr are filled in
// when left empty.
func WithInstance(instance registry.ServiceInstance) Option {
	return func(s *Server) { s.instance = instance }
}

func NewServer(handler middleware.HandlerFunc, opts ...Option) *Server {
	s := &Server{
		handler: handler,
		conns:   make(map[net.Conn]struct{}),
		ttl:     DefaultRegistryTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Use registers a middleware. Must be called before Serve.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve listens on address and serves until Shutdown. advertiseAddr is what the registry
// publishes; ":8080" is not dialable from another host.
func (svr *Server) Serve(network, address, advertiseAddr string) error {
	l, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(l, advertiseAddr)
}

// ServeListener serves on an existing listener until Shutdown. An empty advertiseAddr
// publishes the listener's own address.
func (svr *Server) ServeListener(l net.Listener, advertiseAddr string) error {
	svr.chain = middleware.Chain(svr.middlewares...)(svr.handler)

	svr.mu.Lock()
	if svr.shutdown.Load() {
		svr.mu.Unlock()
		_ = l.Close()
		return nil
	}
	svr.listener = l
	svr.mu.Unlock()

	if svr.registry != nil {
		instance := svr.instance
		if instance.ID == "" {
			instance.ID = uuid.NewString()
		}
		instance.Addr = advertiseAddr
		if instance.Addr == "" {
			instance.Addr = l.Addr().String()
		}
		if err := svr.registry.Register(context.Background(), svr.serviceName, instance, svr.ttl); err != nil {
			_ = l.Close()
			return fmt.Errorf("register %s: %w", svr.serviceName, err)
		}
		svr.mu.Lock()
		svr.instance = instance
		svr.mu.Unlock()
		if svr.log != nil {
			svr.log.Info().
				Str("service", svr.serviceName).
				Str("id", instance.ID).
				Str("addr", instance.Addr).
				Msg("registered")
		}
	}

	if svr.log != nil {
		svr.log.Info().Str("addr", l.Addr().String()).Msg("serving")
	}

	for {
		conn, err := l.Accept()
		if err != nil {
			// Shutdown closes the listener; that is not an error.
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		if !svr.track(conn) {
			_ = conn.Close()
			return nil
		}
		go svr.handleConn(conn)
	}
}

// Addr is the listening address, or nil before ServeListener.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

func (svr *Server) track(conn net.Conn) bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.conns[conn] = struct{}{}
	return true
}

func (svr *Server) untrack(conn net.Conn) {
	svr.mu.Lock()
	delete(svr.conns, conn)
	svr.mu.Unlock()
}

// handleConn reads frames sequentially and hands each request to its own goroutine, so
// a slow engine call does not hold up the other requests on the connection. Replies are
// written under a per-connection lock and may go out in any order.
func (svr *Server) handleConn(conn net.Conn) {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		svr.untrack(conn)
		_ = conn.Close()
	}()

	if svr.log != nil {
		svr.log.Debug().Str("conn", id).Str("remote", conn.RemoteAddr().String()).Msg("connection opened")
	}

	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			if svr.log != nil {
				svr.log.Debug().Str("conn", id).Err(err).Msg("connection closed")
			}
			return
		}

		switch header.MsgType {
		case protocol.MsgTypeHeartbeat:
			continue
		case protocol.MsgTypeRequest:
		default:
			if svr.log != nil {
				svr.log.Warn().Str("conn", id).Str("type", header.MsgType.String()).Msg("unexpected frame from client")
			}
			continue
		}

		if !svr.beginRequest() {
			continue // draining: no new work
		}
		go svr.handleRequest(ctx, id, header.Seq, body, conn, writeMu)
	}
}

// beginRequest counts a request as in flight unless Shutdown has started. The check and
// the Add happen under mu, where Shutdown sets the flag, so no Add can follow its Wait.
func (svr *Server) beginRequest() bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.wg.Add(1)
	return true
}

// handleRequest runs one transaction through the chain and writes its reply frame with
// the request's sequence number.
func (svr *Server) handleRequest(ctx context.Context, connID string, seq uint32, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	defer svr.wg.Done()

	// Step 1: run the middleware chain; the dispatcher is innermost
	resp := svr.chain(ctx, &message.Transaction{Seq: seq, Data: body})

	// Step 2: a rejected transaction becomes an error frame carrying only its status
	h := protocol.Header{MsgType: protocol.MsgTypeReply, Seq: seq}
	data := resp.Data
	if resp.Err != nil {
		h.MsgType = protocol.MsgTypeError
		data = protocol.EncodeStatus(replyStatus(resp.Err))
	}

	// Step 3: write the whole frame under the connection lock so replies never interleave
	writeMu.Lock()
	err := protocol.Encode(conn, &h, data)
	writeMu.Unlock()
	if err != nil && svr.log != nil {
		svr.log.Debug().Str("conn", connID).Uint32("seq", seq).Err(err).Msg("failed to write reply")
	}
}

func replyStatus(err error) int32 {
	var re *message.RemoteError
	if errors.As(err, &re) {
		return re.Status
	}
	return message.StatusUnknownError
}

// Shutdown stops the server gracefully:
//  1. Deregister, so clients stop finding this server
//  2. Close the listener
//  3. Wait for in-flight requests, up to timeout
//  4. Close the remaining connections
func (svr *Server) Shutdown(timeout time.Duration) error {
	// Step 1: deregister while still serving
	svr.mu.Lock()
	id := svr.instance.ID
	svr.mu.Unlock()
	if svr.registry != nil && id != "" {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := svr.registry.Deregister(ctx, svr.serviceName, id)
		cancel()
		if err != nil && svr.log != nil {
			svr.log.Warn().Str("service", svr.serviceName).Err(err).Msg("deregister failed")
		}
	}

	// Step 2: refuse new work, then close the listener. The flag is set under mu (see
	// beginRequest) and before the close, so Serve treats the Accept error as shutdown.
	svr.mu.Lock()
	svr.shutdown.Store(true)
	l := svr.listener
	svr.mu.Unlock()
	if l != nil {
		_ = l.Close()
	}

	// Step 3: wait for in-flight requests; their replies still go out on open conns
	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("timeout waiting for ongoing requests to finish")
	}

	// Step 4: close every connection; their read loops exit on the error
	svr.mu.Lock()
	for conn := range svr.conns {
		_ = conn.Close()
	}
	svr.mu.Unlock()
	return err
}
