// Package protocol implements the wire protocol between drone and
// ground control, plus the bounded message queues both sides route
// frames through.
//
// The protocol uses a fixed binary layout: an 8-byte header of two
// uint32 fields (destination module, message code) followed by an
// optional 4-byte payload whose meaning depends on the code. Fields
// are host-native byte order; both deployed targets are little-endian
// and the format predates this implementation.
package protocol

import (
	"encoding/binary"
)

// Destination modules for routed messages.
const (
	ModuleNetwork uint32 = 1 // link management (login exchange)
	ModuleStream  uint32 = 2 // stream control on the drone
	ModuleCommand uint32 = 3 // command layer on ground control
)

// Message codes.
const (
	CodeLogin         uint32 = 1 // drone announces itself
	CodeLoginAck      uint32 = 2 // ground control accepts, echoes the ID
	CodeStreamRequest uint32 = 3 // ask for a stream on a UDP port
	CodeStreamError   uint32 = 4 // pipeline fault report
	CodeStreamStart   uint32 = 5 // begin pushing video
	CodeStreamStop    uint32 = 6 // halt the video push
	CodeStreamType    uint32 = 7 // announce the negotiated video format
	CodeLoginNack     uint32 = 8 // ground control refuses the login
)

// Video formats carried by CodeStreamType.
const (
	FormatH265    uint32 = 0
	FormatH264    uint32 = 1
	FormatVP8     uint32 = 2
	FormatVP9     uint32 = 3
	FormatJPEG    uint32 = 4
	FormatH263    uint32 = 5
	FormatRaw     uint32 = 6
	FormatUnknown uint32 = 16
)

// Frame field sizes in bytes.
const (
	ModuleSize  = 4
	CodeSize    = 4
	PayloadSize = 4
	HeaderSize  = ModuleSize + CodeSize

	// Login frames carry {code, id} with no module field.
	LoginSize = 8
)

// Message represents one routed frame with the following layout:
//
//	+--------+------+---------+
//	| Module | Code | Payload |
//	+--------+------+---------+
//	|   4B   |  4B  |  0/4B   |
//
// Port is meaningful for CodeStreamRequest, Format for CodeStreamType.
type Message struct {
	Module uint32
	Code   uint32
	Port   uint32
	Format uint32
}

// payloadSize returns the payload length for a module/code pair and
// whether the pair is valid at all.
func payloadSize(module, code uint32) (int, bool) {
	switch module {
	case ModuleStream:
		switch code {
		case CodeStreamRequest:
			return PayloadSize, true
		case CodeStreamStart, CodeStreamStop, CodeStreamError:
			return 0, true
		}
	case ModuleCommand:
		switch code {
		case CodeStreamType:
			return PayloadSize, true
		case CodeStreamError:
			return 0, true
		}
	}
	return 0, false
}

// KnownModule reports whether the module field is one we route.
func KnownModule(module uint32) bool {
	return module == ModuleNetwork || module == ModuleStream || module == ModuleCommand
}

// Encode serializes the message into its wire layout.
// Returns nil for a module/code pair the protocol does not define.
func (m *Message) Encode() []byte {
	size, ok := payloadSize(m.Module, m.Code)
	if !ok {
		return nil
	}

	buf := make([]byte, HeaderSize+size)
	binary.NativeEndian.PutUint32(buf[0:ModuleSize], m.Module)
	binary.NativeEndian.PutUint32(buf[ModuleSize:HeaderSize], m.Code)

	if size > 0 {
		switch m.Code {
		case CodeStreamRequest:
			binary.NativeEndian.PutUint32(buf[HeaderSize:], m.Port)
		case CodeStreamType:
			binary.NativeEndian.PutUint32(buf[HeaderSize:], m.Format)
		}
	}

	return buf
}

// Decode deserializes a wire frame into a message. The input must be
// exactly header plus payload for its code.
func Decode(data []byte) (*Message, byte) {
	if len(data) < HeaderSize {
		return nil, ErrInvalidMessage
	}

	module := binary.NativeEndian.Uint32(data[0:ModuleSize])
	code := binary.NativeEndian.Uint32(data[ModuleSize:HeaderSize])

	if !KnownModule(module) {
		return nil, ErrUnknownModule
	}
	size, ok := payloadSize(module, code)
	if !ok {
		return nil, ErrUnknownCode
	}
	if len(data) != HeaderSize+size {
		return nil, ErrInvalidMessage
	}

	msg := &Message{Module: module, Code: code}
	if size > 0 {
		value := binary.NativeEndian.Uint32(data[HeaderSize:])
		switch code {
		case CodeStreamRequest:
			msg.Port = value
		case CodeStreamType:
			msg.Format = value
		}
	}

	return msg, ErrNone
}
