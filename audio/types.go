// Package audio defines the typed values exchanged with the policy engine.
//
// Every type here crosses the wire as a raw 32-bit word. The protocol layer never range
// checks them; Valid is for the engine to call after decode.
package audio

import "fmt"

// Device is a bitmask of output or input devices.
type Device uint32

const (
	DeviceOutEarpiece            Device = 0x1
	DeviceOutSpeaker             Device = 0x2
	DeviceOutWiredHeadset        Device = 0x4
	DeviceOutWiredHeadphone      Device = 0x8
	DeviceOutBluetoothSCO        Device = 0x10
	DeviceOutBluetoothSCOHeadset Device = 0x20
	DeviceOutBluetoothSCOCarkit  Device = 0x40
	DeviceOutBluetoothA2DP       Device = 0x80
	DeviceOutA2DPHeadphones      Device = 0x100
	DeviceOutA2DPSpeaker         Device = 0x200
	DeviceOutAuxDigital          Device = 0x400
	DeviceOutDefault             Device = 0x8000
	DeviceOutAll                 Device = 0x87FF

	DeviceInCommunication       Device = 0x10000
	DeviceInAmbient             Device = 0x20000
	DeviceInBuiltinMic          Device = 0x40000
	DeviceInBluetoothSCOHeadset Device = 0x80000
	DeviceInWiredHeadset        Device = 0x100000
	DeviceInAuxDigital          Device = 0x200000
	DeviceInVoiceCall           Device = 0x400000
	DeviceInBackMic             Device = 0x800000
	DeviceInDefault             Device = 0x80000000
	DeviceInAll                 Device = 0x80FF0000
)

func (d Device) IsOutput() bool {
	return d != 0 && d&^DeviceOutAll == 0
}

func (d Device) IsInput() bool {
	return d != 0 && d&^DeviceInAll == 0
}

// Valid reports whether d names exactly one known device.
func (d Device) Valid() bool {
	return (d.IsOutput() || d.IsInput()) && d&(d-1) == 0
}

func (d Device) String() string {
	switch d {
	case DeviceOutEarpiece:
		return "out-earpiece"
	case DeviceOutSpeaker:
		return "out-speaker"
	case DeviceOutWiredHeadset:
		return "out-wired-headset"
	case DeviceOutWiredHeadphone:
		return "out-wired-headphone"
	case DeviceOutBluetoothSCO:
		return "out-bt-sco"
	case DeviceOutBluetoothSCOHeadset:
		return "out-bt-sco-headset"
	case DeviceOutBluetoothSCOCarkit:
		return "out-bt-sco-carkit"
	case DeviceOutBluetoothA2DP:
		return "out-bt-a2dp"
	case DeviceOutA2DPHeadphones:
		return "out-bt-a2dp-headphones"
	case DeviceOutA2DPSpeaker:
		return "out-bt-a2dp-speaker"
	case DeviceOutAuxDigital:
		return "out-aux-digital"
	case DeviceOutDefault:
		return "out-default"
	case DeviceInCommunication:
		return "in-communication"
	case DeviceInAmbient:
		return "in-ambient"
	case DeviceInBuiltinMic:
		return "in-builtin-mic"
	case DeviceInBluetoothSCOHeadset:
		return "in-bt-sco-headset"
	case DeviceInWiredHeadset:
		return "in-wired-headset"
	case DeviceInAuxDigital:
		return "in-aux-digital"
	case DeviceInVoiceCall:
		return "in-voice-call"
	case DeviceInBackMic:
		return "in-back-mic"
	case DeviceInDefault:
		return "in-default"
	}
	return fmt.Sprintf("device(%#x)", uint32(d))
}

type ConnectionState int32

const (
	DeviceUnavailable ConnectionState = 0
	DeviceAvailable   ConnectionState = 1
)

func (s ConnectionState) Valid() bool {
	return s == DeviceUnavailable || s == DeviceAvailable
}

func (s ConnectionState) String() string {
	switch s {
	case DeviceUnavailable:
		return "unavailable"
	case DeviceAvailable:
		return "available"
	}
	return fmt.Sprintf("connection-state(%d)", int32(s))
}

type StreamType int32

const (
	StreamDefault         StreamType = -1
	StreamVoiceCall       StreamType = 0
	StreamSystem          StreamType = 1
	StreamRing            StreamType = 2
	StreamMusic           StreamType = 3
	StreamAlarm           StreamType = 4
	StreamNotification    StreamType = 5
	StreamBluetoothSCO    StreamType = 6
	StreamEnforcedAudible StreamType = 7
	StreamDTMF            StreamType = 8
	StreamTTS             StreamType = 9

	NumStreamTypes = 10
)

var streamNames = [NumStreamTypes]string{
	"voice-call", "system", "ring", "music", "alarm",
	"notification", "bt-sco", "enforced-audible", "dtmf", "tts",
}

// Valid excludes StreamDefault, which only a caller may pass and the engine resolves.
func (s StreamType) Valid() bool {
	return s >= StreamVoiceCall && s < NumStreamTypes
}

func (s StreamType) String() string {
	if s == StreamDefault {
		return "default"
	}
	if s.Valid() {
		return streamNames[s]
	}
	return fmt.Sprintf("stream(%d)", int32(s))
}

// ParseStreamType is the inverse of String for valid streams.
func ParseStreamType(name string) (StreamType, bool) {
	for i, n := range streamNames {
		if n == name {
			return StreamType(i), true
		}
	}
	return 0, false
}

// PhoneState is the telephony mode the device is in.
type PhoneState int32

const (
	PhoneStateNormal   PhoneState = 0
	PhoneStateRingtone PhoneState = 1
	PhoneStateInCall   PhoneState = 2

	NumPhoneStates = 3
)

func (p PhoneState) Valid() bool {
	return p >= PhoneStateNormal && p < NumPhoneStates
}

func (p PhoneState) String() string {
	switch p {
	case PhoneStateNormal:
		return "normal"
	case PhoneStateRingtone:
		return "ringtone"
	case PhoneStateInCall:
		return "in-call"
	}
	return fmt.Sprintf("phone-state(%d)", int32(p))
}

type RingerMode uint32

const (
	RingerSilent  RingerMode = 0
	RingerVibrate RingerMode = 1
	RingerNormal  RingerMode = 2
)

func (r RingerMode) String() string {
	switch r {
	case RingerSilent:
		return "silent"
	case RingerVibrate:
		return "vibrate"
	case RingerNormal:
		return "normal"
	}
	return fmt.Sprintf("ringer(%d)", uint32(r))
}

// ForceUse names the routing decision a ForcedConfig overrides.
type ForceUse int32

const (
	ForUseCommunication ForceUse = 0
	ForUseMedia         ForceUse = 1
	ForUseRecord        ForceUse = 2
	ForUseDock          ForceUse = 3

	NumForceUse = 4
)

func (u ForceUse) Valid() bool {
	return u >= ForUseCommunication && u < NumForceUse
}

func (u ForceUse) String() string {
	switch u {
	case ForUseCommunication:
		return "communication"
	case ForUseMedia:
		return "media"
	case ForUseRecord:
		return "record"
	case ForUseDock:
		return "dock"
	}
	return fmt.Sprintf("force-use(%d)", int32(u))
}

type ForcedConfig int32

const (
	ForceNone           ForcedConfig = 0
	ForceSpeaker        ForcedConfig = 1
	ForceHeadphones     ForcedConfig = 2
	ForceBluetoothSCO   ForcedConfig = 3
	ForceBluetoothA2DP  ForcedConfig = 4
	ForceWiredAccessory ForcedConfig = 5
	ForceBTCarDock      ForcedConfig = 6
	ForceBTDeskDock     ForcedConfig = 7

	NumForcedConfig = 8
)

func (c ForcedConfig) Valid() bool {
	return c >= ForceNone && c < NumForcedConfig
}

func (c ForcedConfig) String() string {
	switch c {
	case ForceNone:
		return "none"
	case ForceSpeaker:
		return "speaker"
	case ForceHeadphones:
		return "headphones"
	case ForceBluetoothSCO:
		return "bt-sco"
	case ForceBluetoothA2DP:
		return "bt-a2dp"
	case ForceWiredAccessory:
		return "wired-accessory"
	case ForceBTCarDock:
		return "bt-car-dock"
	case ForceBTDeskDock:
		return "bt-desk-dock"
	}
	return fmt.Sprintf("forced-config(%d)", int32(c))
}

type OutputFlags uint32

const (
	OutputFlagIndirect OutputFlags = 0
	OutputFlagDirect   OutputFlags = 1
)

func (f OutputFlags) Valid() bool {
	return f&^OutputFlagDirect == 0
}

// InputSource is the use case a capture session is opened for.
type InputSource int32

const (
	SourceDefault          InputSource = 0
	SourceMic              InputSource = 1
	SourceVoiceUplink      InputSource = 2
	SourceVoiceDownlink    InputSource = 3
	SourceVoiceCall        InputSource = 4
	SourceCamcorder        InputSource = 5
	SourceVoiceRecognition InputSource = 6

	NumInputSources = 7
)

func (s InputSource) Valid() bool {
	return s >= SourceDefault && s < NumInputSources
}

// InAcoustics is a bitmask of capture processing toggles.
type InAcoustics uint32

const (
	AcousticsAGCEnable   InAcoustics = 0x0001
	AcousticsNSEnable    InAcoustics = 0x0002
	AcousticsTxIIREnable InAcoustics = 0x0004
)

func (a InAcoustics) Valid() bool {
	return a&^(AcousticsAGCEnable|AcousticsNSEnable|AcousticsTxIIREnable) == 0
}

type Format uint32

const (
	FormatDefault Format = 0
	FormatPCM16   Format = 1
	FormatPCM8    Format = 2
)

// ChannelMask is a bitmask of channel positions; its bits are opaque to the policy layer.
type ChannelMask uint32

// Handle names a live output or input session. Only the server assigns them.
type Handle int32

// InvalidHandle is what GetOutput and GetInput return when no session could be opened.
const InvalidHandle Handle = 0

func (h Handle) Valid() bool {
	return h != InvalidHandle
}
