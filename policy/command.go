package policy

import "fmt"

// Descriptor is the interface token written first in every request.
const Descriptor = "android.media.IAudioPolicyService"

// Code identifies one operation on the wire. Codes are assigned once and never reused:
// a new operation gets the next free code at the end of the table.
type Code uint32

// FirstCall is the first code available to interface operations; lower values belong to
// the transport.
const FirstCall Code = 1

const (
	CodeSetDeviceConnectionState Code = FirstCall + iota
	CodeGetDeviceConnectionState
	CodeSetPhoneState
	CodeSetRingerMode
	CodeSetForceUse
	CodeGetForceUse
	CodeGetOutput
	CodeStartOutput
	CodeStopOutput
	CodeReleaseOutput
	CodeGetInput
	CodeStartInput
	CodeStopInput
	CodeReleaseInput
	CodeInitStreamVolume
	CodeSetStreamVolumeIndex
	CodeGetStreamVolumeIndex

	codeEnd
)

// CodeInterface asks the server which interface it implements. It is handled by the
// fallback path, not by the command table.
const CodeInterface Code = '_'<<24 | 'N'<<16 | 'T'<<8 | 'F'

// Kind is the wire type of a field.
type Kind uint8

const (
	KindInt32 Kind = iota
	KindCString
)

func (k Kind) String() string {
	switch k {
	case KindInt32:
		return "int32"
	case KindCString:
		return "cstring"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

type Field struct {
	Name string
	Kind Kind
}

// Operation is the schema of one transaction: the fields of the request after the token
// and the code, and the fields of the reply. A status, when present, is always last.
type Operation struct {
	Code Code
	Name string
	In   []Field
	Out  []Field
}

func i32(name string) Field { return Field{Name: name, Kind: KindInt32} }
func cstr(name string) Field { return Field{Name: name, Kind: KindCString} }

var (
	statusOnly = []Field{i32("status")}
	noFields   = []Field{}
)

// commands is indexed by Code - FirstCall and must stay in code order.
var commands = [...]Operation{
	{CodeSetDeviceConnectionState, "setDeviceConnectionState",
		[]Field{i32("device"), i32("state"), cstr("address")}, statusOnly},
	{CodeGetDeviceConnectionState, "getDeviceConnectionState",
		[]Field{i32("device"), cstr("address")}, []Field{i32("state")}},
	{CodeSetPhoneState, "setPhoneState",
		[]Field{i32("state")}, statusOnly},
	{CodeSetRingerMode, "setRingerMode",
		[]Field{i32("mode"), i32("mask")}, statusOnly},
	{CodeSetForceUse, "setForceUse",
		[]Field{i32("usage"), i32("config")}, statusOnly},
	{CodeGetForceUse, "getForceUse",
		[]Field{i32("usage")}, []Field{i32("config")}},
	{CodeGetOutput, "getOutput",
		[]Field{i32("stream"), i32("samplingRate"), i32("format"), i32("channels"), i32("flags")},
		[]Field{i32("output")}},
	{CodeStartOutput, "startOutput",
		[]Field{i32("output"), i32("stream")}, statusOnly},
	{CodeStopOutput, "stopOutput",
		[]Field{i32("output"), i32("stream")}, statusOnly},
	{CodeReleaseOutput, "releaseOutput",
		[]Field{i32("output")}, noFields},
	{CodeGetInput, "getInput",
		[]Field{i32("inputSource"), i32("samplingRate"), i32("format"), i32("channels"), i32("acoustics")},
		[]Field{i32("input")}},
	{CodeStartInput, "startInput",
		[]Field{i32("input")}, statusOnly},
	{CodeStopInput, "stopInput",
		[]Field{i32("input")}, statusOnly},
	{CodeReleaseInput, "releaseInput",
		[]Field{i32("input")}, noFields},
	{CodeInitStreamVolume, "initStreamVolume",
		[]Field{i32("stream"), i32("indexMin"), i32("indexMax")}, statusOnly},
	{CodeSetStreamVolumeIndex, "setStreamVolumeIndex",
		[]Field{i32("stream"), i32("index")}, statusOnly},
	{CodeGetStreamVolumeIndex, "getStreamVolumeIndex",
		[]Field{i32("stream")}, []Field{i32("index"), i32("status")}},
}

// Lookup returns the schema registered for c.
func Lookup(c Code) (*Operation, bool) {
	if !c.Valid() {
		return nil, false
	}
	return &commands[c-FirstCall], true
}

// LookupName finds an operation by its wire name, e.g. "getOutput".
func LookupName(name string) (*Operation, bool) {
	for i := range commands {
		if commands[i].Name == name {
			return &commands[i], true
		}
	}
	return nil, false
}

// Operations returns every operation in code order. Callers must not modify the schemas.
func Operations() []*Operation {
	ops := make([]*Operation, len(commands))
	for i := range commands {
		ops[i] = &commands[i]
	}
	return ops
}

func (c Code) Valid() bool {
	return c >= FirstCall && c < codeEnd
}

func (c Code) String() string {
	if op, ok := Lookup(c); ok {
		return op.Name
	}
	if c == CodeInterface {
		return "interface"
	}
	return fmt.Sprintf("code(%d)", uint32(c))
}

// CodeName renders a raw code; it satisfies middleware.CodeNamer.
func CodeName(code uint32) string {
	return Code(code).String()
}

// HasStatus reports whether the reply ends in a status word.
func (op *Operation) HasStatus() bool {
	n := len(op.Out)
	return n > 0 && op.Out[n-1].Name == "status"
}
