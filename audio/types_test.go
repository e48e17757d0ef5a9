package audio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceDirection(t *testing.T) {
	assert.True(t, DeviceOutSpeaker.IsOutput())
	assert.False(t, DeviceOutSpeaker.IsInput())
	assert.True(t, DeviceInBuiltinMic.IsInput())
	assert.True(t, DeviceInDefault.Valid())

	assert.False(t, (DeviceOutSpeaker | DeviceOutEarpiece).Valid(), "two devices")
	assert.False(t, (DeviceOutSpeaker | DeviceInBuiltinMic).Valid(), "mixed direction")
	assert.False(t, Device(0).Valid())
	assert.False(t, Device(0x4000).Valid())
}

func TestEnumRanges(t *testing.T) {
	assert.False(t, StreamDefault.Valid())
	assert.True(t, StreamTTS.Valid())
	assert.False(t, StreamType(NumStreamTypes).Valid())
	assert.Equal(t, "music", StreamMusic.String())
	assert.Equal(t, "stream(42)", StreamType(42).String())

	assert.True(t, ForUseDock.Valid())
	assert.False(t, ForceUse(-1).Valid())
	assert.True(t, ForceBTDeskDock.Valid())
	assert.False(t, ForcedConfig(NumForcedConfig).Valid())

	assert.True(t, (AcousticsAGCEnable | AcousticsNSEnable).Valid())
	assert.False(t, InAcoustics(0x10).Valid())
	assert.False(t, OutputFlags(2).Valid())
	assert.False(t, InvalidHandle.Valid())
}

func TestStatusErr(t *testing.T) {
	assert.NoError(t, StatusOK.Err())

	err := StatusBadValue.Err()
	var st Status
	assert.True(t, errors.As(err, &st))
	assert.Equal(t, StatusBadValue, st)
	assert.Equal(t, "audio policy: bad value", err.Error())
	assert.Equal(t, "audio policy: status -99", Status(-99).Error())
}
