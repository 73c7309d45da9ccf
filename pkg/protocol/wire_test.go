package protocol

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadMessage(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sent := &Message{Module: ModuleStream, Code: CodeStreamRequest, Port: 5600}
	go func() {
		WriteMessage(client, sent)
	}()

	server.SetReadDeadline(time.Now().Add(time.Second))
	got, errCode := ReadMessage(server)
	require.Equal(t, ErrNone, errCode)
	assert.Equal(t, sent, got)
}

func TestReadMessageUnknownCode(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		client.Write(rawFrame(ModuleStream, 42))
	}()

	server.SetReadDeadline(time.Now().Add(time.Second))
	_, errCode := ReadMessage(server)
	assert.Equal(t, ErrUnknownCode, errCode)
}

func TestReadMessageTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	server.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
	_, errCode := ReadMessage(server)
	assert.Equal(t, ErrReceiveTimeout, errCode)
}

func TestReadMessagePartialHeaderNotIdle(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// Half a header followed by silence must not look like an idle
	// timeout, or the stray bytes would be lost and framing desync.
	go func() {
		client.Write(rawFrame(ModuleStream, CodeStreamStop)[:3])
	}()

	time.Sleep(20 * time.Millisecond)
	server.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, errCode := ReadMessage(server)
	assert.Equal(t, ErrInvalidMessage, errCode)
}

func TestReadMessageClosedPeer(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	client.Close()
	server.SetReadDeadline(time.Now().Add(time.Second))
	_, errCode := ReadMessage(server)
	assert.Equal(t, ErrConnectionClosed, errCode)
}

func TestLoginRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		WriteLogin(client, CodeLogin, 12)
	}()

	code, id, errCode := ReadLogin(server, time.Second)
	require.Equal(t, ErrNone, errCode)
	assert.Equal(t, CodeLogin, code)
	assert.Equal(t, uint32(12), id)
}

func TestReadLoginRejectsNonLoginCode(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		WriteLogin(client, CodeStreamStart, 12)
	}()

	_, _, errCode := ReadLogin(server, time.Second)
	assert.Equal(t, ErrInvalidMessage, errCode)
}

func TestDrainResynchronizes(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	drained := make(chan struct{})
	go func() {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			return
		}
		defer conn.Close()

		// Garbage first, then a clean frame once the peer has drained.
		conn.Write([]byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03})
		<-drained
		WriteMessage(conn, &Message{Module: ModuleStream, Code: CodeStreamStop})
		time.Sleep(100 * time.Millisecond)
	}()

	server, err := ln.Accept()
	require.NoError(t, err)
	defer server.Close()

	time.Sleep(20 * time.Millisecond)
	Drain(server)
	close(drained)

	server.SetReadDeadline(time.Now().Add(time.Second))
	msg, errCode := ReadMessage(server)
	require.Equal(t, ErrNone, errCode)
	assert.Equal(t, CodeStreamStop, msg.Code)
}
