package policy

import (
	"context"
	"errors"
	"fmt"

	"audiopolicy/audio"
	"audiopolicy/codec"
	"audiopolicy/message"
	"audiopolicy/transport"
)

// Proxy is the client side of the policy interface. Every method performs exactly one
// round trip and never retries.
type Proxy struct {
	t          transport.Transactor
	descriptor string
}

type ProxyOption func(*Proxy)

// WithInterface overrides the token written at the head of each request.
func WithInterface(descriptor string) ProxyOption {
	return func(p *Proxy) { p.descriptor = descriptor }
}

func NewProxy(t transport.Transactor, opts ...ProxyOption) *Proxy {
	p := &Proxy{t: t, descriptor: Descriptor}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Call encodes args against the schema of code, performs the round trip and decodes the
// reply. args must be int32 or string values in declared order.
func (p *Proxy) Call(ctx context.Context, code Code, args ...any) (Values, error) {
	op, ok := Lookup(code)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownTransaction, code)
	}

	req := codec.NewParcel()
	req.WriteInterfaceToken(p.descriptor)
	req.WriteUint32(uint32(code))
	if err := encodeFields(req, op.In, args); err != nil {
		return nil, fmt.Errorf("%s: %w", op.Name, err)
	}

	data, err := p.t.Transact(ctx, req.Bytes())
	if err != nil {
		return nil, transactError(code, err)
	}

	out, err := decodeFields(codec.ParcelFrom(data), op.Out)
	if err != nil {
		return nil, fmt.Errorf("%s: reply %w", op.Name, err)
	}
	return out, nil
}

// transactError classifies a failed round trip. A Transactor backed directly by a
// Dispatcher hands back the dispatcher's own errors, which pass through as is.
func transactError(code Code, err error) error {
	var re *message.RemoteError
	if errors.As(err, &re) {
		return remoteError(code, re)
	}
	if errors.Is(err, ErrUnauthorizedInterface) ||
		errors.Is(err, ErrMalformedMessage) ||
		errors.Is(err, ErrUnknownTransaction) {
		return fmt.Errorf("%v: %w", code, err)
	}
	return &TransportError{Code: code, Err: err}
}

func (p *Proxy) callStatus(ctx context.Context, code Code, args ...any) error {
	out, err := p.Call(ctx, code, args...)
	if err != nil {
		return err
	}
	return audio.Status(out.Int32(0)).Err()
}

func (p *Proxy) callHandle(ctx context.Context, code Code, args ...any) (audio.Handle, error) {
	out, err := p.Call(ctx, code, args...)
	if err != nil {
		return audio.InvalidHandle, err
	}
	h := audio.Handle(out.Int32(0))
	if !h.Valid() {
		return h, ErrInvalidHandle
	}
	return h, nil
}

func (p *Proxy) SetDeviceConnectionState(ctx context.Context, device audio.Device, state audio.ConnectionState, address string) error {
	return p.callStatus(ctx, CodeSetDeviceConnectionState, int32(device), int32(state), address)
}

func (p *Proxy) GetDeviceConnectionState(ctx context.Context, device audio.Device, address string) (audio.ConnectionState, error) {
	out, err := p.Call(ctx, CodeGetDeviceConnectionState, int32(device), address)
	if err != nil {
		return audio.DeviceUnavailable, err
	}
	return audio.ConnectionState(out.Int32(0)), nil
}

func (p *Proxy) SetPhoneState(ctx context.Context, state audio.PhoneState) error {
	return p.callStatus(ctx, CodeSetPhoneState, int32(state))
}

func (p *Proxy) SetRingerMode(ctx context.Context, mode audio.RingerMode, mask uint32) error {
	return p.callStatus(ctx, CodeSetRingerMode, int32(mode), int32(mask))
}

func (p *Proxy) SetForceUse(ctx context.Context, usage audio.ForceUse, config audio.ForcedConfig) error {
	return p.callStatus(ctx, CodeSetForceUse, int32(usage), int32(config))
}

func (p *Proxy) GetForceUse(ctx context.Context, usage audio.ForceUse) (audio.ForcedConfig, error) {
	out, err := p.Call(ctx, CodeGetForceUse, int32(usage))
	if err != nil {
		return audio.ForceNone, err
	}
	return audio.ForcedConfig(out.Int32(0)), nil
}

// GetOutput opens an output session. When the server cannot open one it returns the
// handle it received together with ErrInvalidHandle.
func (p *Proxy) GetOutput(ctx context.Context, stream audio.StreamType, samplingRate uint32, format audio.Format, channels audio.ChannelMask, flags audio.OutputFlags) (audio.Handle, error) {
	return p.callHandle(ctx, CodeGetOutput,
		int32(stream), int32(samplingRate), int32(format), int32(channels), int32(flags))
}

func (p *Proxy) StartOutput(ctx context.Context, output audio.Handle, stream audio.StreamType) error {
	return p.callStatus(ctx, CodeStartOutput, int32(output), int32(stream))
}

func (p *Proxy) StopOutput(ctx context.Context, output audio.Handle, stream audio.StreamType) error {
	return p.callStatus(ctx, CodeStopOutput, int32(output), int32(stream))
}

// ReleaseOutput reports only transport and protocol failures; the reply carries no status.
func (p *Proxy) ReleaseOutput(ctx context.Context, output audio.Handle) error {
	_, err := p.Call(ctx, CodeReleaseOutput, int32(output))
	return err
}

// GetInput opens a capture session; see GetOutput for the failure contract.
func (p *Proxy) GetInput(ctx context.Context, source audio.InputSource, samplingRate uint32, format audio.Format, channels audio.ChannelMask, acoustics audio.InAcoustics) (audio.Handle, error) {
	return p.callHandle(ctx, CodeGetInput,
		int32(source), int32(samplingRate), int32(format), int32(channels), int32(acoustics))
}

func (p *Proxy) StartInput(ctx context.Context, input audio.Handle) error {
	return p.callStatus(ctx, CodeStartInput, int32(input))
}

func (p *Proxy) StopInput(ctx context.Context, input audio.Handle) error {
	return p.callStatus(ctx, CodeStopInput, int32(input))
}

func (p *Proxy) ReleaseInput(ctx context.Context, input audio.Handle) error {
	_, err := p.Call(ctx, CodeReleaseInput, int32(input))
	return err
}

func (p *Proxy) InitStreamVolume(ctx context.Context, stream audio.StreamType, indexMin, indexMax int) error {
	return p.callStatus(ctx, CodeInitStreamVolume, int32(stream), int32(indexMin), int32(indexMax))
}

func (p *Proxy) SetStreamVolumeIndex(ctx context.Context, stream audio.StreamType, index int) error {
	return p.callStatus(ctx, CodeSetStreamVolumeIndex, int32(stream), int32(index))
}

// GetStreamVolumeIndex returns the decoded index even when the status is an error, so
// callers can inspect both.
func (p *Proxy) GetStreamVolumeIndex(ctx context.Context, stream audio.StreamType) (VolumeIndex, error) {
	out, err := p.Call(ctx, CodeGetStreamVolumeIndex, int32(stream))
	if err != nil {
		return VolumeIndex{}, err
	}
	v := VolumeIndex{Index: int(out.Int32(0)), Status: audio.Status(out.Int32(1))}
	return v, v.Status.Err()
}
