package groundcontrol

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"dronelink/pkg/metrics"
	"dronelink/pkg/protocol"
)

const (
	// commandQueueCapacity bounds operator commands queued per session.
	commandQueueCapacity = 8

	// pollInterval alternates the loop between the command queue and
	// the socket.
	pollInterval = 250 * time.Millisecond
)

// CommandKind identifies an operator command.
type CommandKind int

const (
	CommandPlay CommandKind = iota
	CommandStop
	CommandDisconnect
)

// Command is one operator instruction for a session. Port is used by
// CommandPlay; zero means the configured default.
type Command struct {
	Kind CommandKind
	Port uint32
}

// DroneSession is one authenticated drone link. The serving worker
// owns the socket exclusively: it alternates non-waiting pops of the
// command queue with short-deadline reads, which keeps the
// request/reply exchanges synchronous.
type DroneSession struct {
	ID          uuid.UUID
	DroneID     uint32
	RemoteAddr  string
	ConnectedAt time.Time

	conn       net.Conn
	commands   *protocol.Queue[Command]
	newViewer  ViewerFactory
	collector  *metrics.Collector
	viewer     Viewer
	streaming  atomic.Bool
	streamPort uint32
}

// Streaming reports whether a stream is currently running.
func (s *DroneSession) Streaming() bool {
	return s.streaming.Load()
}

// Play asks the drone for a stream on the given UDP port (zero for
// the default). Queued for the session worker.
func (s *DroneSession) Play(port uint32) byte {
	return s.commands.Push(&Command{Kind: CommandPlay, Port: port}, false)
}

// Stop halts the running stream.
func (s *DroneSession) Stop() byte {
	return s.commands.Push(&Command{Kind: CommandStop}, false)
}

// Disconnect tears the session down.
func (s *DroneSession) Disconnect() byte {
	return s.commands.Push(&Command{Kind: CommandDisconnect}, false)
}

// serve runs the session loop until the drone disconnects, the
// operator disconnects it, or ctx is canceled.
func (s *DroneSession) serve(ctx context.Context) {
	defer s.teardown()

	for {
		if ctx.Err() != nil {
			return
		}

		cmd, errCode := s.commands.Pop(false)
		switch errCode {
		case protocol.ErrNone:
			if done := s.handleCommand(cmd); done {
				return
			}
		case protocol.ErrQueueClosed:
			return
		}

		s.conn.SetReadDeadline(time.Now().Add(pollInterval))
		msg, errCode := protocol.ReadMessage(s.conn)
		switch errCode {
		case protocol.ErrNone:
			s.collector.AddReceived()
			s.handleMessage(msg)
		case protocol.ErrReceiveTimeout:
			// Idle tick.
		case protocol.ErrConnectionClosed:
			log.Info().Str("session", s.ID.String()).Msg("drone disconnected")
			return
		default:
			s.collector.AddDecodeError()
			log.Warn().
				Str("session", s.ID.String()).
				Str("error", protocol.ErrToString[errCode]).
				Msg("dropping malformed frame")
			protocol.Drain(s.conn)
		}
	}
}

func (s *DroneSession) teardown() {
	if s.viewer != nil {
		s.viewer.Close()
		s.viewer = nil
	}
	s.streaming.Store(false)
	s.conn.Close()
	s.commands.Close()
}

// handleCommand executes one operator command. Returns true when the
// session should end.
func (s *DroneSession) handleCommand(cmd *Command) bool {
	switch cmd.Kind {
	case CommandPlay:
		if s.Streaming() {
			log.Warn().Str("session", s.ID.String()).Msg("stream already running")
			return false
		}
		port := cmd.Port
		if port == 0 {
			port = s.streamPort
		}
		if errCode := s.requestStream(port); errCode != protocol.ErrNone {
			log.Error().
				Str("session", s.ID.String()).
				Str("error", protocol.ErrToString[errCode]).
				Msg("failed to start stream")
		}
	case CommandStop:
		if !s.Streaming() {
			log.Warn().Str("session", s.ID.String()).Msg("no stream running")
			return false
		}
		s.stopStream()
	case CommandDisconnect:
		return true
	}
	return false
}

// requestStream runs the synchronous setup exchange: send the stream
// request, wait for the format announcement, bring the viewer up, then
// tell the drone to start pushing video.
func (s *DroneSession) requestStream(port uint32) byte {
	request := &protocol.Message{Module: protocol.ModuleStream, Code: protocol.CodeStreamRequest, Port: port}
	if errCode := protocol.WriteMessage(s.conn, request); errCode != protocol.ErrNone {
		return errCode
	}
	s.collector.AddSent()

	deadline := time.Now().Add(protocol.ReplyTimeout)
	for {
		s.conn.SetReadDeadline(deadline)
		msg, errCode := protocol.ReadMessage(s.conn)
		switch errCode {
		case protocol.ErrNone:
		case protocol.ErrReceiveTimeout, protocol.ErrConnectionClosed:
			return errCode
		default:
			protocol.Drain(s.conn)
			return errCode
		}

		if msg.Module == protocol.ModuleCommand && msg.Code == protocol.CodeStreamError {
			s.collector.AddStreamError()
			return protocol.ErrStreamRejected
		}
		if msg.Module != protocol.ModuleCommand || msg.Code != protocol.CodeStreamType {
			log.Warn().Uint32("code", msg.Code).Msg("unexpected frame during stream setup")
			continue
		}

		viewer, err := s.newViewer(msg.Format, port)
		if err != nil {
			log.Error().Err(err).Uint32("format", msg.Format).Msg("cannot build viewer")
			return protocol.ErrInvalidArgument
		}
		if err := viewer.Start(); err != nil {
			viewer.Close()
			log.Error().Err(err).Msg("cannot start viewer")
			return protocol.ErrInvalidArgument
		}

		start := &protocol.Message{Module: protocol.ModuleStream, Code: protocol.CodeStreamStart}
		if errCode := protocol.WriteMessage(s.conn, start); errCode != protocol.ErrNone {
			viewer.Close()
			return errCode
		}
		s.collector.AddSent()

		if s.viewer != nil {
			s.viewer.Close()
		}
		s.viewer = viewer
		s.streaming.Store(true)
		log.Info().
			Str("session", s.ID.String()).
			Uint32("format", msg.Format).
			Uint32("port", port).
			Msg("stream started")
		return protocol.ErrNone
	}
}

func (s *DroneSession) stopStream() {
	stop := &protocol.Message{Module: protocol.ModuleStream, Code: protocol.CodeStreamStop}
	if errCode := protocol.WriteMessage(s.conn, stop); errCode != protocol.ErrNone {
		log.Warn().Str("error", protocol.ErrToString[errCode]).Msg("failed to send stream stop")
	} else {
		s.collector.AddSent()
	}

	if s.viewer != nil {
		s.viewer.Stop()
	}
	s.streaming.Store(false)
	log.Info().Str("session", s.ID.String()).Msg("stream stopped")
}

// handleMessage processes an unsolicited drone frame.
func (s *DroneSession) handleMessage(msg *protocol.Message) {
	if msg.Module == protocol.ModuleCommand && msg.Code == protocol.CodeStreamError {
		s.collector.AddStreamError()
		log.Warn().Str("session", s.ID.String()).Msg("drone reported a stream fault")
		if s.viewer != nil {
			s.viewer.Stop()
		}
		s.streaming.Store(false)
		return
	}

	log.Warn().
		Uint32("module", msg.Module).
		Uint32("code", msg.Code).
		Msg("dropping unexpected frame")
	protocol.Drain(s.conn)
}
