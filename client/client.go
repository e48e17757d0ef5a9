// Package client connects to the policy server and carries transactions for a
// policy.Proxy.
//
// The server is found through a registry (etcd, or registry.Static for a fixed address).
// Transactions are spread round-robin over a small pool of multiplexed connections.
// A dead connection fails the transactions it carried; the next transaction looks the
// server up again and redials. Only one caller connects at a time; the others wait for it
// under their own context. Nothing is retried.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loopholelabs/logging/types"

	"audiopolicy/registry"
	"audiopolicy/transport"
)

const (
	DefaultPoolSize    = 2
	DefaultDialTimeout = 5 * time.Second
)

var ErrClientClosed = errors.New("client: closed")

type Client struct {
	registry    registry.Registry
	serviceName string
	poolSize    int
	dialTimeout time.Duration
	heartbeat   time.Duration
	log         types.Logger

	mu         sync.Mutex
	closed     bool
	instance   registry.ServiceInstance
	transports []*transport.ClientTransport
	connecting chan struct{} // non-nil while one caller connects; closed when it is done
	next       atomic.Uint32
}

type Option func(*Client)

func WithPoolSize(n int) Option {
	return func(c *Client) { c.poolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

// WithHeartbeat is passed on to every connection; see transport.WithHeartbeat.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Client) { c.heartbeat = d }
}

func WithLogger(log types.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient resolves serviceName through reg lazily, on the first transaction.
func NewClient(reg registry.Registry, serviceName string, opts ...Option) *Client {
	c := &Client{
		registry:    reg,
		serviceName: serviceName,
		poolSize:    DefaultPoolSize,
		dialTimeout: DefaultDialTimeout,
		heartbeat:   transport.DefaultHeartbeat,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.poolSize < 1 {
		c.poolSize = 1
	}
	return c
}

// Dial is NewClient for a known address.
func Dial(addr string, opts ...Option) *Client {
	return NewClient(registry.Static{{Addr: addr}}, "", opts...)
}

// Transact implements transport.Transactor.
func (c *Client) Transact(ctx context.Context, data []byte) ([]byte, error) {
	t, err := c.getTransport(ctx)
	if err != nil {
		return nil, err
	}
	return t.Transact(ctx, data)
}

// Instance is the server the pool is connected to, if any.
func (c *Client) Instance() (registry.ServiceInstance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instance, len(c.transports) > 0
}

// getTransport returns a live connection, connecting first if needed. One caller at a
// time looks the server up and dials, outside c.mu; the others wait for it under their own
// ctx and then retry the pick.
func (c *Client) getTransport(ctx context.Context) (*transport.ClientTransport, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClientClosed
		}

		if len(c.transports) > 0 {
			t := c.transports[c.next.Add(1)%uint32(len(c.transports))]
			select {
			case <-t.Done():
				// The server went away or was replaced; drop the whole pool.
				c.dropLocked()
			default:
				c.mu.Unlock()
				return t, nil
			}
		}

		if wait := c.connecting; wait != nil {
			c.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		wait := make(chan struct{})
		c.connecting = wait
		c.mu.Unlock()

		instance, transports, err := c.connect(ctx)

		c.mu.Lock()
		c.connecting = nil
		close(wait)
		if err != nil {
			c.mu.Unlock()
			return nil, err
		}
		if c.closed {
			c.mu.Unlock()
			closeAll(transports)
			return nil, ErrClientClosed
		}
		c.instance = instance
		c.transports = transports
		t := transports[c.next.Add(1)%uint32(len(transports))]
		c.mu.Unlock()
		return t, nil
	}
}

// connect looks the server up and opens the pool. It runs without c.mu held.
func (c *Client) connect(ctx context.Context) (registry.ServiceInstance, []*transport.ClientTransport, error) {
	instance, err := registry.Lookup(ctx, c.registry, c.serviceName)
	if err != nil {
		return instance, nil, fmt.Errorf("client: lookup %q: %w", c.serviceName, err)
	}

	dialer := net.Dialer{Timeout: c.dialTimeout}
	transports := make([]*transport.ClientTransport, 0, c.poolSize)
	for i := 0; i < c.poolSize; i++ {
		conn, err := dialer.DialContext(ctx, "tcp", instance.Addr)
		if err != nil {
			closeAll(transports)
			return instance, nil, fmt.Errorf("client: dial %s: %w", instance.Addr, err)
		}
		transports = append(transports, transport.NewClientTransport(conn,
			transport.WithHeartbeat(c.heartbeat),
			transport.WithLogger(c.log)))
	}

	if c.log != nil {
		c.log.Debug().
			Str("addr", instance.Addr).
			Str("id", instance.ID).
			Int("connections", len(transports)).
			Msg("connected to policy server")
	}
	return instance, transports, nil
}

func closeAll(transports []*transport.ClientTransport) {
	for _, t := range transports {
		_ = t.Close()
	}
}

func (c *Client) dropLocked() {
	closeAll(c.transports)
	c.transports = nil
}

// Close closes every connection. Pending transactions fail.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.dropLocked()
	return nil
}
