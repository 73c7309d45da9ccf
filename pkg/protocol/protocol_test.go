package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	messages := []*Message{
		{Module: ModuleStream, Code: CodeStreamRequest, Port: 5600},
		{Module: ModuleStream, Code: CodeStreamStart},
		{Module: ModuleStream, Code: CodeStreamStop},
		{Module: ModuleStream, Code: CodeStreamError},
		{Module: ModuleCommand, Code: CodeStreamType, Format: FormatH264},
		{Module: ModuleCommand, Code: CodeStreamError},
	}

	for _, msg := range messages {
		data := msg.Encode()
		require.NotNil(t, data, "module %d code %d", msg.Module, msg.Code)

		decoded, errCode := Decode(data)
		require.Equal(t, ErrNone, errCode)
		assert.Equal(t, msg, decoded)

		// Re-encoding the decoded message must be byte-identical.
		assert.Equal(t, data, decoded.Encode())
	}
}

func TestEncodeRejectsUndefinedPairs(t *testing.T) {
	bad := []*Message{
		{Module: ModuleNetwork, Code: CodeStreamStart},
		{Module: ModuleCommand, Code: CodeStreamRequest},
		{Module: ModuleStream, Code: CodeStreamType},
		{Module: ModuleStream, Code: 99},
		{Module: 7, Code: CodeStreamStart},
	}
	for _, msg := range bad {
		assert.Nil(t, msg.Encode(), "module %d code %d", msg.Module, msg.Code)
	}
}

func rawFrame(module, code uint32, payload ...uint32) []byte {
	buf := make([]byte, HeaderSize+len(payload)*4)
	binary.NativeEndian.PutUint32(buf[0:4], module)
	binary.NativeEndian.PutUint32(buf[4:8], code)
	for i, v := range payload {
		binary.NativeEndian.PutUint32(buf[HeaderSize+i*4:], v)
	}
	return buf
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want byte
	}{
		{"empty", nil, ErrInvalidMessage},
		{"short header", []byte{1, 2, 3}, ErrInvalidMessage},
		{"unknown module", rawFrame(9, CodeStreamStart), ErrUnknownModule},
		{"unknown code", rawFrame(ModuleStream, 42), ErrUnknownCode},
		{"code on wrong module", rawFrame(ModuleCommand, CodeStreamStop), ErrUnknownCode},
		{"missing payload", rawFrame(ModuleStream, CodeStreamRequest), ErrInvalidMessage},
		{"trailing bytes", rawFrame(ModuleStream, CodeStreamStop, 0), ErrInvalidMessage},
	}

	for _, tc := range cases {
		msg, errCode := Decode(tc.data)
		assert.Nil(t, msg, tc.name)
		assert.Equal(t, tc.want, errCode, tc.name)
	}
}

func TestDecodePayloadFields(t *testing.T) {
	msg, errCode := Decode(rawFrame(ModuleStream, CodeStreamRequest, 5700))
	require.Equal(t, ErrNone, errCode)
	assert.Equal(t, uint32(5700), msg.Port)
	assert.Zero(t, msg.Format)

	msg, errCode = Decode(rawFrame(ModuleCommand, CodeStreamType, FormatVP8))
	require.Equal(t, ErrNone, errCode)
	assert.Equal(t, FormatVP8, msg.Format)
	assert.Zero(t, msg.Port)
}
