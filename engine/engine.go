// Package engine is an in-memory audio policy engine. It keeps the policy state that the
// transaction protocol reads and writes, without driving any hardware.
package engine

import (
	"sync"

	"github.com/loopholelabs/logging/types"

	"audiopolicy/audio"
	"audiopolicy/config"
	"audiopolicy/policy"
)

type deviceKey struct {
	device  audio.Device
	address string
}

type output struct {
	stream       audio.StreamType
	samplingRate uint32
	format       audio.Format
	channels     audio.ChannelMask
	flags        audio.OutputFlags
	active       [audio.NumStreamTypes]int // start count per stream
}

type input struct {
	source       audio.InputSource
	samplingRate uint32
	format       audio.Format
	channels     audio.ChannelMask
	acoustics    audio.InAcoustics
	active       bool
}

type volume struct {
	initialized bool
	min, max    int
	index       int
}

// Engine implements policy.Engine. All methods serialize on one mutex.
type Engine struct {
	mu sync.Mutex

	devices    map[deviceKey]struct{}
	phoneState audio.PhoneState
	ringerMode audio.RingerMode
	ringerMask uint32
	forceUse   [audio.NumForceUse]audio.ForcedConfig

	nextHandle audio.Handle
	outputs    map[audio.Handle]*output
	inputs     map[audio.Handle]*input
	maxOutputs int
	maxInputs  int

	volumes [audio.NumStreamTypes]volume

	log types.Logger
}

var _ policy.Engine = (*Engine)(nil)

// New builds an engine from its configuration block. conf must have passed
// config.Schema.Validate.
func New(conf *config.EngineSchema, log types.Logger) *Engine {
	e := &Engine{
		devices:    make(map[deviceKey]struct{}),
		ringerMode: audio.RingerNormal,
		outputs:    make(map[audio.Handle]*output),
		inputs:     make(map[audio.Handle]*input),
		maxOutputs: config.DefaultMaxOutputs,
		maxInputs:  config.DefaultMaxInputs,
		log:        log,
	}
	if conf == nil {
		return e
	}
	if conf.MaxOutputs > 0 {
		e.maxOutputs = conf.MaxOutputs
	}
	if conf.MaxInputs > 0 {
		e.maxInputs = conf.MaxInputs
	}
	for _, st := range conf.Stream {
		stream, err := st.StreamType()
		if err != nil {
			continue
		}
		e.volumes[stream] = volume{initialized: true, min: st.Min, max: st.Max, index: st.Index}
	}
	return e
}

func (e *Engine) SetDeviceConnectionState(device audio.Device, state audio.ConnectionState, address string) audio.Status {
	if !device.Valid() || !state.Valid() {
		return audio.StatusBadValue
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key := deviceKey{device, address}
	_, connected := e.devices[key]
	switch {
	case state == audio.DeviceAvailable && connected:
		return audio.StatusInvalidOperation
	case state == audio.DeviceUnavailable && !connected:
		return audio.StatusInvalidOperation
	case state == audio.DeviceAvailable:
		e.devices[key] = struct{}{}
	default:
		delete(e.devices, key)
	}

	if e.log != nil {
		e.log.Debug().
			Str("device", device.String()).
			Str("address", address).
			Str("state", state.String()).
			Msg("device connection changed")
	}
	return audio.StatusOK
}

func (e *Engine) GetDeviceConnectionState(device audio.Device, address string) audio.ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.devices[deviceKey{device, address}]; ok {
		return audio.DeviceAvailable
	}
	return audio.DeviceUnavailable
}

func (e *Engine) SetPhoneState(state audio.PhoneState) audio.Status {
	if !state.Valid() {
		return audio.StatusBadValue
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.log != nil && state != e.phoneState {
		e.log.Debug().Str("from", e.phoneState.String()).Str("to", state.String()).Msg("phone state changed")
	}
	e.phoneState = state
	return audio.StatusOK
}

func (e *Engine) SetRingerMode(mode audio.RingerMode, mask uint32) audio.Status {
	if mode > audio.RingerNormal {
		return audio.StatusBadValue
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.ringerMode = mode
	e.ringerMask = mask
	return audio.StatusOK
}

func (e *Engine) SetForceUse(usage audio.ForceUse, forced audio.ForcedConfig) audio.Status {
	if !usage.Valid() || !forced.Valid() {
		return audio.StatusBadValue
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.forceUse[usage] = forced
	if e.log != nil {
		e.log.Debug().Str("usage", usage.String()).Str("config", forced.String()).Msg("forced use changed")
	}
	return audio.StatusOK
}

// GetForceUse answers ForceNone for an unknown usage; the reply has no status to carry
// an error.
func (e *Engine) GetForceUse(usage audio.ForceUse) audio.ForcedConfig {
	if !usage.Valid() {
		return audio.ForceNone
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.forceUse[usage]
}

func validFormat(f audio.Format) bool {
	return f == audio.FormatDefault || f == audio.FormatPCM16 || f == audio.FormatPCM8
}

// allocHandle returns the next handle, skipping InvalidHandle on wraparound.
// Callers hold e.mu.
func (e *Engine) allocHandle() audio.Handle {
	for {
		e.nextHandle++
		h := e.nextHandle
		if !h.Valid() {
			continue
		}
		if _, used := e.outputs[h]; used {
			continue
		}
		if _, used := e.inputs[h]; used {
			continue
		}
		return h
	}
}

func (e *Engine) GetOutput(stream audio.StreamType, samplingRate uint32, format audio.Format, channels audio.ChannelMask, flags audio.OutputFlags) audio.Handle {
	if stream == audio.StreamDefault {
		stream = audio.StreamMusic
	}
	if !stream.Valid() || !flags.Valid() || !validFormat(format) {
		return audio.InvalidHandle
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.outputs) >= e.maxOutputs {
		return audio.InvalidHandle
	}
	h := e.allocHandle()
	e.outputs[h] = &output{
		stream:       stream,
		samplingRate: samplingRate,
		format:       format,
		channels:     channels,
		flags:        flags,
	}
	if e.log != nil {
		e.log.Debug().Int("output", int(h)).Str("stream", stream.String()).Msg("output opened")
	}
	return h
}

func (e *Engine) StartOutput(h audio.Handle, stream audio.StreamType) audio.Status {
	if !stream.Valid() {
		return audio.StatusBadValue
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	out, ok := e.outputs[h]
	if !ok {
		return audio.StatusBadValue
	}
	out.active[stream]++
	return audio.StatusOK
}

func (e *Engine) StopOutput(h audio.Handle, stream audio.StreamType) audio.Status {
	if !stream.Valid() {
		return audio.StatusBadValue
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	out, ok := e.outputs[h]
	if !ok {
		return audio.StatusBadValue
	}
	if out.active[stream] == 0 {
		return audio.StatusInvalidOperation
	}
	out.active[stream]--
	return audio.StatusOK
}

func (e *Engine) ReleaseOutput(h audio.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.outputs[h]; !ok {
		return
	}
	delete(e.outputs, h)
	if e.log != nil {
		e.log.Debug().Int("output", int(h)).Msg("output released")
	}
}

func (e *Engine) GetInput(source audio.InputSource, samplingRate uint32, format audio.Format, channels audio.ChannelMask, acoustics audio.InAcoustics) audio.Handle {
	if !source.Valid() || !acoustics.Valid() || !validFormat(format) {
		return audio.InvalidHandle
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.inputs) >= e.maxInputs {
		return audio.InvalidHandle
	}
	h := e.allocHandle()
	e.inputs[h] = &input{
		source:       source,
		samplingRate: samplingRate,
		format:       format,
		channels:     channels,
		acoustics:    acoustics,
	}
	if e.log != nil {
		e.log.Debug().Int("input", int(h)).Int("source", int(source)).Msg("input opened")
	}
	return h
}

// StartInput allows one active capture at a time.
func (e *Engine) StartInput(h audio.Handle) audio.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	in, ok := e.inputs[h]
	if !ok {
		return audio.StatusBadValue
	}
	if in.active {
		return audio.StatusInvalidOperation
	}
	for _, other := range e.inputs {
		if other.active {
			return audio.StatusInvalidOperation
		}
	}
	in.active = true
	return audio.StatusOK
}

func (e *Engine) StopInput(h audio.Handle) audio.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	in, ok := e.inputs[h]
	if !ok {
		return audio.StatusBadValue
	}
	if !in.active {
		return audio.StatusInvalidOperation
	}
	in.active = false
	return audio.StatusOK
}

func (e *Engine) ReleaseInput(h audio.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.inputs[h]; !ok {
		return
	}
	delete(e.inputs, h)
	if e.log != nil {
		e.log.Debug().Int("input", int(h)).Msg("input released")
	}
}

// InitStreamVolume sets the index range of stream and clamps the current index into it.
func (e *Engine) InitStreamVolume(stream audio.StreamType, indexMin, indexMax int) audio.Status {
	if !stream.Valid() || indexMin < 0 || indexMax <= indexMin {
		return audio.StatusBadValue
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	v := &e.volumes[stream]
	v.initialized = true
	v.min, v.max = indexMin, indexMax
	v.index = max(v.min, min(v.index, v.max))
	return audio.StatusOK
}

func (e *Engine) SetStreamVolumeIndex(stream audio.StreamType, index int) audio.Status {
	if !stream.Valid() {
		return audio.StatusBadValue
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	v := &e.volumes[stream]
	if !v.initialized {
		return audio.StatusNoInit
	}
	if index < v.min || index > v.max {
		return audio.StatusBadValue
	}
	v.index = index
	return audio.StatusOK
}

func (e *Engine) GetStreamVolumeIndex(stream audio.StreamType) policy.VolumeIndex {
	if !stream.Valid() {
		return policy.VolumeIndex{Status: audio.StatusBadValue}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	v := e.volumes[stream]
	if !v.initialized {
		return policy.VolumeIndex{Status: audio.StatusNoInit}
	}
	return policy.VolumeIndex{Index: v.index, Status: audio.StatusOK}
}
