package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dronelink/pkg/protocol"
)

func newQueues(t *testing.T) (*protocol.Queue[protocol.Message], *protocol.Queue[protocol.Message]) {
	t.Helper()
	inbound, errCode := protocol.NewQueue[protocol.Message](8)
	require.Equal(t, protocol.ErrNone, errCode)
	outbound, errCode := protocol.NewQueue[protocol.Message](16)
	require.Equal(t, protocol.ErrNone, errCode)
	t.Cleanup(func() {
		inbound.Close()
		outbound.Close()
	})
	return inbound, outbound
}

// reservePort grabs an ephemeral port and releases it so the test can
// bring a listener up on it later.
func reservePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func ackLogin(t *testing.T, conn net.Conn) uint32 {
	t.Helper()
	code, id, errCode := protocol.ReadLogin(conn, 2*time.Second)
	require.Equal(t, protocol.ErrNone, errCode)
	require.Equal(t, protocol.CodeLogin, code)
	require.Equal(t, protocol.ErrNone, protocol.WriteLogin(conn, protocol.CodeLoginAck, id))
	return id
}

func popWait(t *testing.T, q *protocol.Queue[protocol.Message], timeout time.Duration) *protocol.Message {
	t.Helper()
	done := make(chan *protocol.Message, 1)
	go func() {
		msg, errCode := q.Pop(true)
		if errCode == protocol.ErrNone {
			done <- msg
		}
	}()
	select {
	case msg := <-done:
		return msg
	case <-time.After(timeout):
		t.Fatal("no message within timeout")
		return nil
	}
}

func TestSessionRetriesUntilServerAvailable(t *testing.T) {
	addr := reservePort(t)
	inbound, outbound := newQueues(t)

	session := NewSession(Config{
		Addr:     addr,
		DroneID:  12,
		Cooldown: 100 * time.Millisecond,
	}, inbound, outbound, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.Run(ctx)

	// Let at least one attempt fail before the station comes up.
	time.Sleep(150 * time.Millisecond)

	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	defer ln.Close()
	ln.(*net.TCPListener).SetDeadline(time.Now().Add(3 * time.Second))

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	id := ackLogin(t, conn)
	assert.Equal(t, uint32(12), id)

	// Inbound stream frames must land on the stream queue.
	request := &protocol.Message{Module: protocol.ModuleStream, Code: protocol.CodeStreamRequest, Port: 5600}
	require.Equal(t, protocol.ErrNone, protocol.WriteMessage(conn, request))

	msg := popWait(t, inbound, 2*time.Second)
	assert.Equal(t, request, msg)
}

func TestSessionSendsOutboundCommands(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	inbound, outbound := newQueues(t)
	session := NewSession(Config{
		Addr:     ln.Addr().String(),
		DroneID:  12,
		Cooldown: 50 * time.Millisecond,
	}, inbound, outbound, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.Run(ctx)

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()
	ackLogin(t, conn)

	reply := &protocol.Message{Module: protocol.ModuleCommand, Code: protocol.CodeStreamType, Format: protocol.FormatH264}
	require.Equal(t, protocol.ErrNone, outbound.Push(reply, true))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, errCode := protocol.ReadMessage(conn)
	require.Equal(t, protocol.ErrNone, errCode)
	assert.Equal(t, reply, got)
}

func TestSessionReconnectsAfterDrop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	ln.(*net.TCPListener).SetDeadline(time.Now().Add(5 * time.Second))

	inbound, outbound := newQueues(t)
	session := NewSession(Config{
		Addr:     ln.Addr().String(),
		DroneID:  12,
		Cooldown: 50 * time.Millisecond,
	}, inbound, outbound, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.Run(ctx)

	conn, err := ln.Accept()
	require.NoError(t, err)
	ackLogin(t, conn)
	conn.Close()

	// The session must come back and log in again on its own.
	conn, err = ln.Accept()
	require.NoError(t, err)
	defer conn.Close()
	id := ackLogin(t, conn)
	assert.Equal(t, uint32(12), id)
}
