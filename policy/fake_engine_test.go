package policy

import (
	"sync"

	"audiopolicy/audio"
)

type call struct {
	method string
	args   []any
}

// recordingEngine records every call and answers with canned values.
type recordingEngine struct {
	mu    sync.Mutex
	calls []call

	status audio.Status
	state  audio.ConnectionState
	forced audio.ForcedConfig
	handle audio.Handle
	volume VolumeIndex
}

func (e *recordingEngine) record(method string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call{method: method, args: args})
}

func (e *recordingEngine) Calls() []call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]call(nil), e.calls...)
}

func (e *recordingEngine) SetDeviceConnectionState(device audio.Device, state audio.ConnectionState, address string) audio.Status {
	e.record("SetDeviceConnectionState", device, state, address)
	return e.status
}

func (e *recordingEngine) GetDeviceConnectionState(device audio.Device, address string) audio.ConnectionState {
	e.record("GetDeviceConnectionState", device, address)
	return e.state
}

func (e *recordingEngine) SetPhoneState(state audio.PhoneState) audio.Status {
	e.record("SetPhoneState", state)
	return e.status
}

func (e *recordingEngine) SetRingerMode(mode audio.RingerMode, mask uint32) audio.Status {
	e.record("SetRingerMode", mode, mask)
	return e.status
}

func (e *recordingEngine) SetForceUse(usage audio.ForceUse, config audio.ForcedConfig) audio.Status {
	e.record("SetForceUse", usage, config)
	return e.status
}

func (e *recordingEngine) GetForceUse(usage audio.ForceUse) audio.ForcedConfig {
	e.record("GetForceUse", usage)
	return e.forced
}

func (e *recordingEngine) GetOutput(stream audio.StreamType, samplingRate uint32, format audio.Format, channels audio.ChannelMask, flags audio.OutputFlags) audio.Handle {
	e.record("GetOutput", stream, samplingRate, format, channels, flags)
	return e.handle
}

func (e *recordingEngine) StartOutput(output audio.Handle, stream audio.StreamType) audio.Status {
	e.record("StartOutput", output, stream)
	return e.status
}

func (e *recordingEngine) StopOutput(output audio.Handle, stream audio.StreamType) audio.Status {
	e.record("StopOutput", output, stream)
	return e.status
}

func (e *recordingEngine) ReleaseOutput(output audio.Handle) {
	e.record("ReleaseOutput", output)
}

func (e *recordingEngine) GetInput(source audio.InputSource, samplingRate uint32, format audio.Format, channels audio.ChannelMask, acoustics audio.InAcoustics) audio.Handle {
	e.record("GetInput", source, samplingRate, format, channels, acoustics)
	return e.handle
}

func (e *recordingEngine) StartInput(input audio.Handle) audio.Status {
	e.record("StartInput", input)
	return e.status
}

func (e *recordingEngine) StopInput(input audio.Handle) audio.Status {
	e.record("StopInput", input)
	return e.status
}

func (e *recordingEngine) ReleaseInput(input audio.Handle) {
	e.record("ReleaseInput", input)
}

func (e *recordingEngine) InitStreamVolume(stream audio.StreamType, indexMin, indexMax int) audio.Status {
	e.record("InitStreamVolume", stream, indexMin, indexMax)
	return e.status
}

func (e *recordingEngine) SetStreamVolumeIndex(stream audio.StreamType, index int) audio.Status {
	e.record("SetStreamVolumeIndex", stream, index)
	return e.status
}

func (e *recordingEngine) GetStreamVolumeIndex(stream audio.StreamType) VolumeIndex {
	e.record("GetStreamVolumeIndex", stream)
	return e.volume
}
