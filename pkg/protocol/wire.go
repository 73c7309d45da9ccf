package protocol

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"time"
)

// ReplyTimeout bounds how long a peer may take to complete a frame or
// answer a request once the exchange has started.
const ReplyTimeout = 2 * time.Second

// drainTimeout is the idle window after which a drain considers the
// socket flushed.
const drainTimeout = 50 * time.Millisecond

// WriteMessage encodes and sends one routed frame.
func WriteMessage(conn net.Conn, msg *Message) byte {
	data := msg.Encode()
	if data == nil {
		return ErrInvalidMessage
	}
	if _, err := conn.Write(data); err != nil {
		return ErrSendFailed
	}
	return ErrNone
}

// ReadMessage reads one routed frame. The header read honors whatever
// deadline the caller has set on the connection; once a header is in,
// the payload must follow within ReplyTimeout. A partial or oversized
// frame is reported without consuming beyond its declared length, so
// the caller can drain and resynchronize.
func ReadMessage(conn net.Conn) (*Message, byte) {
	frame := make([]byte, HeaderSize, HeaderSize+PayloadSize)
	n, err := io.ReadFull(conn, frame)
	if err != nil {
		errCode := readErrCode(err)
		// A timeout that already consumed part of a header is a
		// framing hazard, not an idle tick; report it as malformed so
		// the caller drains and resynchronizes.
		if errCode == ErrReceiveTimeout && n > 0 {
			return nil, ErrInvalidMessage
		}
		return nil, errCode
	}

	module := binary.NativeEndian.Uint32(frame[0:ModuleSize])
	code := binary.NativeEndian.Uint32(frame[ModuleSize:HeaderSize])
	if !KnownModule(module) {
		return nil, ErrUnknownModule
	}
	size, ok := payloadSize(module, code)
	if !ok {
		return nil, ErrUnknownCode
	}

	if size > 0 {
		frame = frame[:HeaderSize+size]
		conn.SetReadDeadline(time.Now().Add(ReplyTimeout))
		_, err := io.ReadFull(conn, frame[HeaderSize:])
		conn.SetReadDeadline(time.Time{})
		if err != nil {
			return nil, readErrCode(err)
		}
	}

	return Decode(frame)
}

// WriteLogin sends an 8-byte login frame {code, id}.
func WriteLogin(conn net.Conn, code, id uint32) byte {
	buf := make([]byte, LoginSize)
	binary.NativeEndian.PutUint32(buf[0:4], code)
	binary.NativeEndian.PutUint32(buf[4:8], id)
	if _, err := conn.Write(buf); err != nil {
		return ErrSendFailed
	}
	return ErrNone
}

// ReadLogin reads an 8-byte login frame within the given timeout.
// A zero timeout blocks indefinitely.
func ReadLogin(conn net.Conn, timeout time.Duration) (code, id uint32, errCode byte) {
	if timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(timeout))
		defer conn.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, LoginSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return 0, 0, readErrCode(err)
	}

	code = binary.NativeEndian.Uint32(buf[0:4])
	id = binary.NativeEndian.Uint32(buf[4:8])
	switch code {
	case CodeLogin, CodeLoginAck, CodeLoginNack:
		return code, id, ErrNone
	}
	return code, id, ErrInvalidMessage
}

// Drain discards buffered bytes after a framing error so the next read
// starts on a clean boundary. It reads until the socket goes idle for
// drainTimeout.
func Drain(conn net.Conn) {
	buf := make([]byte, 256)
	for {
		conn.SetReadDeadline(time.Now().Add(drainTimeout))
		if _, err := conn.Read(buf); err != nil {
			break
		}
	}
	conn.SetReadDeadline(time.Time{})
}

// readErrCode classifies a socket read error.
func readErrCode(err error) byte {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ErrReceiveTimeout
	}
	return ErrConnectionClosed
}
