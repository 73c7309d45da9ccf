// Package transport maintains the drone's control link to ground
// control: a dial-out TCP connection that logs in with the drone ID
// and reconnects with a fixed cooldown whenever the link drops.
package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"dronelink/pkg/metrics"
	"dronelink/pkg/protocol"
)

const (
	// DefaultCooldown separates connection attempts so a dead ground
	// control station is not hammered.
	DefaultCooldown = 10 * time.Second

	// loginTimeout bounds the dial and the ack wait.
	loginTimeout = 2 * time.Second

	// pollInterval is the receive loop's read deadline, which doubles
	// as the shutdown responsiveness of the loop.
	pollInterval = 500 * time.Millisecond
)

// Config holds the link parameters.
type Config struct {
	Addr     string        // ground control host:port
	DroneID  uint32        // static identity sent at login
	Cooldown time.Duration // pause between connection attempts
}

// Session is the resilient control link. Inbound stream-control frames
// are pushed to the Inbound queue; frames popped from the Outbound
// queue are written to the socket. The mutex guards the connection:
// the reconnect loop holds it for its full duration, so senders block
// instead of writing into a dead socket.
type Session struct {
	cfg       Config
	collector *metrics.Collector

	mu   sync.Mutex
	conn net.Conn

	Inbound  *protocol.Queue[protocol.Message]
	Outbound *protocol.Queue[protocol.Message]
}

// NewSession creates a session over the given queues. A nil collector
// disables metrics.
func NewSession(cfg Config, inbound, outbound *protocol.Queue[protocol.Message], collector *metrics.Collector) *Session {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	return &Session{
		cfg:       cfg,
		collector: collector,
		Inbound:   inbound,
		Outbound:  outbound,
	}
}

// Run connects and processes traffic until ctx is canceled. It blocks;
// the send loop runs as a child goroutine and exits when the outbound
// queue is closed.
func (s *Session) Run(ctx context.Context) {
	if !s.establish(ctx) {
		return
	}

	go s.sendLoop()
	s.receiveLoop(ctx)
}

// Close tears down the current connection.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// establish (re)connects, retrying with the cooldown until it succeeds
// or ctx is canceled. The session lock is held for the whole loop.
func (s *Session) establish(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}

	for {
		if ctx.Err() != nil {
			return false
		}

		errCode := s.connect(ctx)
		if errCode == protocol.ErrNone {
			return true
		}

		s.collector.AddReconnect()
		log.Warn().
			Str("addr", s.cfg.Addr).
			Str("error", protocol.ErrToString[errCode]).
			Dur("cooldown", s.cfg.Cooldown).
			Msg("connection attempt failed")

		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.cfg.Cooldown):
		}
	}
}

// connect dials ground control and performs the login exchange.
// Called with the session lock held.
func (s *Session) connect(ctx context.Context) byte {
	dialer := net.Dialer{Timeout: loginTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return protocol.ErrConnectionFailed
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetKeepAlive(true)
	}

	if errCode := protocol.WriteLogin(conn, protocol.CodeLogin, s.cfg.DroneID); errCode != protocol.ErrNone {
		conn.Close()
		return errCode
	}

	code, id, errCode := protocol.ReadLogin(conn, loginTimeout)
	if errCode != protocol.ErrNone {
		conn.Close()
		return errCode
	}
	if code != protocol.CodeLoginAck || id != s.cfg.DroneID {
		conn.Close()
		return protocol.ErrLoginRejected
	}

	s.conn = conn
	log.Info().
		Str("addr", s.cfg.Addr).
		Uint32("drone_id", s.cfg.DroneID).
		Msg("logged in to ground control")
	return protocol.ErrNone
}

// receiveLoop reads frames and routes them until ctx is canceled.
func (s *Session) receiveLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			if !s.establish(ctx) {
				return
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(pollInterval))
		msg, errCode := protocol.ReadMessage(conn)
		switch errCode {
		case protocol.ErrNone:
			s.collector.AddReceived()
			s.dispatch(msg)
		case protocol.ErrReceiveTimeout:
			// Idle tick.
		case protocol.ErrConnectionClosed:
			log.Warn().Msg("ground control link lost")
			if !s.establish(ctx) {
				return
			}
		default:
			s.collector.AddDecodeError()
			log.Warn().
				Str("error", protocol.ErrToString[errCode]).
				Msg("dropping malformed frame")
			protocol.Drain(conn)
		}
	}
}

// dispatch routes an inbound frame to its module queue.
func (s *Session) dispatch(msg *protocol.Message) {
	if msg.Module != protocol.ModuleStream {
		log.Warn().Uint32("module", msg.Module).Msg("no consumer for module")
		return
	}
	s.Inbound.Push(msg, true)
}

// sendLoop writes outbound frames until the queue is closed.
func (s *Session) sendLoop() {
	for {
		msg, errCode := s.Outbound.Pop(true)
		if errCode != protocol.ErrNone {
			return
		}
		if msg.Module != protocol.ModuleCommand {
			log.Warn().Uint32("module", msg.Module).Msg("refusing to send non-command frame")
			continue
		}
		s.send(msg)
	}
}

// send writes one frame under the session lock. A write failure closes
// the connection so the receive loop reconnects.
func (s *Session) send(msg *protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		log.Warn().Uint32("code", msg.Code).Msg("dropping frame, link down")
		return
	}

	if errCode := protocol.WriteMessage(s.conn, msg); errCode != protocol.ErrNone {
		log.Warn().Str("error", protocol.ErrToString[errCode]).Msg("send failed, closing link")
		s.conn.Close()
		s.conn = nil
		return
	}
	s.collector.AddSent()
}
