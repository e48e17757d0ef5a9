package policy

import "audiopolicy/audio"

// Engine is the policy decision logic behind the dispatcher. Methods are called
// synchronously, possibly from several goroutines at once; serializing them is the
// engine's job.
type Engine interface {
	SetDeviceConnectionState(device audio.Device, state audio.ConnectionState, address string) audio.Status
	GetDeviceConnectionState(device audio.Device, address string) audio.ConnectionState
	SetPhoneState(state audio.PhoneState) audio.Status
	SetRingerMode(mode audio.RingerMode, mask uint32) audio.Status
	SetForceUse(usage audio.ForceUse, config audio.ForcedConfig) audio.Status
	GetForceUse(usage audio.ForceUse) audio.ForcedConfig

	// GetOutput returns audio.InvalidHandle when no output can serve the request.
	GetOutput(stream audio.StreamType, samplingRate uint32, format audio.Format, channels audio.ChannelMask, flags audio.OutputFlags) audio.Handle
	StartOutput(output audio.Handle, stream audio.StreamType) audio.Status
	StopOutput(output audio.Handle, stream audio.StreamType) audio.Status
	ReleaseOutput(output audio.Handle)

	// GetInput returns audio.InvalidHandle when no input can serve the request.
	GetInput(source audio.InputSource, samplingRate uint32, format audio.Format, channels audio.ChannelMask, acoustics audio.InAcoustics) audio.Handle
	StartInput(input audio.Handle) audio.Status
	StopInput(input audio.Handle) audio.Status
	ReleaseInput(input audio.Handle)

	InitStreamVolume(stream audio.StreamType, indexMin, indexMax int) audio.Status
	SetStreamVolumeIndex(stream audio.StreamType, index int) audio.Status
	GetStreamVolumeIndex(stream audio.StreamType) VolumeIndex
}

// VolumeIndex is the result of GetStreamVolumeIndex. On the wire Index precedes Status.
type VolumeIndex struct {
	Index  int
	Status audio.Status
}

// invoker calls the engine with decoded request values and returns the reply values.
type invoker func(e Engine, in Values) Values

func status(s audio.Status) Values { return Values{int32(s)} }

var invokers = map[Code]invoker{
	CodeSetDeviceConnectionState: func(e Engine, in Values) Values {
		return status(e.SetDeviceConnectionState(audio.Device(in.Int32(0)), audio.ConnectionState(in.Int32(1)), in.Str(2)))
	},
	CodeGetDeviceConnectionState: func(e Engine, in Values) Values {
		return Values{int32(e.GetDeviceConnectionState(audio.Device(in.Int32(0)), in.Str(1)))}
	},
	CodeSetPhoneState: func(e Engine, in Values) Values {
		return status(e.SetPhoneState(audio.PhoneState(in.Int32(0))))
	},
	CodeSetRingerMode: func(e Engine, in Values) Values {
		return status(e.SetRingerMode(audio.RingerMode(in.Int32(0)), uint32(in.Int32(1))))
	},
	CodeSetForceUse: func(e Engine, in Values) Values {
		return status(e.SetForceUse(audio.ForceUse(in.Int32(0)), audio.ForcedConfig(in.Int32(1))))
	},
	CodeGetForceUse: func(e Engine, in Values) Values {
		return Values{int32(e.GetForceUse(audio.ForceUse(in.Int32(0))))}
	},
	CodeGetOutput: func(e Engine, in Values) Values {
		h := e.GetOutput(audio.StreamType(in.Int32(0)), uint32(in.Int32(1)), audio.Format(in.Int32(2)),
			audio.ChannelMask(in.Int32(3)), audio.OutputFlags(in.Int32(4)))
		return Values{int32(h)}
	},
	CodeStartOutput: func(e Engine, in Values) Values {
		return status(e.StartOutput(audio.Handle(in.Int32(0)), audio.StreamType(in.Int32(1))))
	},
	CodeStopOutput: func(e Engine, in Values) Values {
		return status(e.StopOutput(audio.Handle(in.Int32(0)), audio.StreamType(in.Int32(1))))
	},
	CodeReleaseOutput: func(e Engine, in Values) Values {
		e.ReleaseOutput(audio.Handle(in.Int32(0)))
		return Values{}
	},
	CodeGetInput: func(e Engine, in Values) Values {
		h := e.GetInput(audio.InputSource(in.Int32(0)), uint32(in.Int32(1)), audio.Format(in.Int32(2)),
			audio.ChannelMask(in.Int32(3)), audio.InAcoustics(in.Int32(4)))
		return Values{int32(h)}
	},
	CodeStartInput: func(e Engine, in Values) Values {
		return status(e.StartInput(audio.Handle(in.Int32(0))))
	},
	CodeStopInput: func(e Engine, in Values) Values {
		return status(e.StopInput(audio.Handle(in.Int32(0))))
	},
	CodeReleaseInput: func(e Engine, in Values) Values {
		e.ReleaseInput(audio.Handle(in.Int32(0)))
		return Values{}
	},
	CodeInitStreamVolume: func(e Engine, in Values) Values {
		return status(e.InitStreamVolume(audio.StreamType(in.Int32(0)), int(in.Int32(1)), int(in.Int32(2))))
	},
	CodeSetStreamVolumeIndex: func(e Engine, in Values) Values {
		return status(e.SetStreamVolumeIndex(audio.StreamType(in.Int32(0)), int(in.Int32(1))))
	},
	CodeGetStreamVolumeIndex: func(e Engine, in Values) Values {
		v := e.GetStreamVolumeIndex(audio.StreamType(in.Int32(0)))
		return Values{int32(v.Index), int32(v.Status)}
	},
}
