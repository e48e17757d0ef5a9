package policy

import (
	"context"
	"fmt"

	"github.com/loopholelabs/logging/types"

	"audiopolicy/codec"
	"audiopolicy/message"
	"audiopolicy/middleware"
)

// Fallback receives requests whose code is not in the command table. p is positioned
// right after the code. It belongs to the hosting layer, not to the policy interface.
type Fallback func(ctx context.Context, code Code, p *codec.Parcel) ([]byte, error)

// DefaultFallback answers the interface query and rejects everything else.
func DefaultFallback(_ context.Context, code Code, _ *codec.Parcel) ([]byte, error) {
	if code == CodeInterface {
		reply := codec.NewParcel()
		reply.WriteCString(Descriptor)
		return reply.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownTransaction, code)
}

// handler is the decode → invoke → encode triple for one code.
type handler struct {
	op     *Operation
	invoke invoker
}

// handlers is built once from the command table and only read afterwards.
var handlers = buildHandlers()

func buildHandlers() map[Code]handler {
	m := make(map[Code]handler, len(commands))
	for _, op := range Operations() {
		inv, ok := invokers[op.Code]
		if !ok {
			panic(fmt.Sprintf("policy: no invoker for %v", op.Code))
		}
		m[op.Code] = handler{op: op, invoke: inv}
	}
	return m
}

// Dispatcher turns request buffers into engine calls and reply buffers.
// It keeps no state between requests and is safe for concurrent use.
type Dispatcher struct {
	engine     Engine
	descriptor string
	fallback   Fallback
	log        types.Logger
}

type DispatcherOption func(*Dispatcher)

// WithFallback replaces the unknown-code path.
func WithFallback(f Fallback) DispatcherOption {
	return func(d *Dispatcher) { d.fallback = f }
}

func WithDispatcherLogger(log types.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = log }
}

// WithExpectedInterface overrides the token the dispatcher accepts.
func WithExpectedInterface(descriptor string) DispatcherOption {
	return func(d *Dispatcher) { d.descriptor = descriptor }
}

func NewDispatcher(engine Engine, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		engine:     engine,
		descriptor: Descriptor,
		fallback:   DefaultFallback,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Transact handles one request buffer and returns the reply buffer.
func (d *Dispatcher) Transact(ctx context.Context, data []byte) ([]byte, error) {
	_, reply, err := d.dispatch(ctx, data)
	return reply, err
}

// Handler adapts the dispatcher to the server's middleware chain. Dispatch failures
// become error replies carrying a transport status.
func (d *Dispatcher) Handler() middleware.HandlerFunc {
	return func(ctx context.Context, req *message.Transaction) *message.Transaction {
		code, reply, err := d.dispatch(ctx, req.Data)
		resp := &message.Transaction{Seq: req.Seq, Code: uint32(code), Data: reply}
		if err != nil {
			resp.Data = nil
			resp.Err = &message.RemoteError{Status: statusOf(err)}
		}
		return resp
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, data []byte) (Code, []byte, error) {
	p := codec.ParcelFrom(data)

	// The token gates everything else: nothing after it is read on a mismatch.
	token, err := p.ReadInterfaceToken()
	if err != nil {
		d.reject(0, err)
		return 0, nil, err
	}
	if token != d.descriptor {
		err = fmt.Errorf("%w: got %q", ErrUnauthorizedInterface, token)
		d.reject(0, err)
		return 0, nil, err
	}

	raw, err := p.ReadUint32()
	if err != nil {
		err = fmt.Errorf("code: %w", err)
		d.reject(0, err)
		return 0, nil, err
	}
	code := Code(raw)

	h, ok := handlers[code]
	if !ok {
		reply, err := d.fallback(ctx, code, p)
		if err != nil {
			d.reject(code, err)
		}
		return code, reply, err
	}

	in, err := decodeFields(p, h.op.In)
	if err != nil {
		err = fmt.Errorf("%s: %w", h.op.Name, err)
		d.reject(code, err)
		return code, nil, err
	}

	out := h.invoke(d.engine, in)

	reply := codec.NewParcel()
	if err := encodeFields(reply, h.op.Out, out); err != nil {
		// The invoker and the schema disagree; this is a bug in this package.
		panic(fmt.Sprintf("policy: %s: %v", h.op.Name, err))
	}
	return code, reply.Bytes(), nil
}

func (d *Dispatcher) reject(code Code, err error) {
	if d.log != nil {
		d.log.Debug().
			Str("code", code.String()).
			Err(err).
			Msg("transaction rejected")
	}
}
