package registry

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Lookup when no instance is registered.
var ErrNotFound = errors.New("registry: no instance registered")

// ServiceInstance describes one running policy server.
type ServiceInstance struct {
	ID        string // unique per process start
	Addr      string // dialable host:port
	Interface string // interface descriptor the server accepts
	Version   string
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, id string) error
	// Discover returns instances oldest registration first.
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}

// Lookup resolves the policy server for serviceName. Only one server owns the policy at a
// time; if a replacement registered before the old lease expired, the older one wins
// until it is gone.
func Lookup(ctx context.Context, r Registry, serviceName string) (ServiceInstance, error) {
	instances, err := r.Discover(ctx, serviceName)
	if err != nil {
		return ServiceInstance{}, err
	}
	if len(instances) == 0 {
		return ServiceInstance{}, ErrNotFound
	}
	return instances[0], nil
}

// Static is a Registry with a fixed instance list, for clients given an address directly.
// Register and Deregister are no-ops.
type Static []ServiceInstance

func (s Static) Register(context.Context, string, ServiceInstance, int64) error { return nil }

func (s Static) Deregister(context.Context, string, string) error { return nil }

func (s Static) Discover(context.Context, string) ([]ServiceInstance, error) {
	return append([]ServiceInstance(nil), s...), nil
}

// Watch emits the fixed list once.
func (s Static) Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance {
	ch := make(chan []ServiceInstance, 1)
	instances, _ := s.Discover(ctx, serviceName)
	ch <- instances
	return ch
}
