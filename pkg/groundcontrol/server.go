// Package groundcontrol implements the ground control station: an
// accepting TCP server that authenticates drones and a per-session
// command loop that drives the stream control protocol.
package groundcontrol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"dronelink/pkg/media"
	"dronelink/pkg/metrics"
	"dronelink/pkg/protocol"
)

// Viewer is the slice of the media viewer the session loop needs.
type Viewer interface {
	Start() error
	Stop() error
	Close() error
}

// ViewerFactory builds a viewer for an announced format and UDP port.
// Injected so the serve loop can run without a GStreamer installation.
type ViewerFactory func(format, port uint32) (Viewer, error)

func defaultViewerFactory(format, port uint32) (Viewer, error) {
	return media.NewViewer(format, port)
}

// Server accepts drone logins and serves their sessions with a fixed
// pool of workers. One worker serves one drone at a time, so the pool
// size bounds the number of concurrent sessions.
type Server struct {
	Ctx    context.Context
	Cancel context.CancelFunc

	cfg       *Config
	collector *metrics.Collector
	newViewer ViewerFactory

	listener net.Listener
	sessions sync.Map // uuid.UUID -> *DroneSession
	wg       sync.WaitGroup
}

// NewServer creates a server. A nil factory uses the GStreamer viewer;
// a nil collector disables metrics.
func NewServer(ctx context.Context, cfg *Config, factory ViewerFactory, collector *metrics.Collector) *Server {
	if factory == nil {
		factory = defaultViewerFactory
	}
	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		Ctx:       serverCtx,
		Cancel:    cancel,
		cfg:       cfg,
		collector: collector,
		newViewer: factory,
	}
}

// Start listens for drone logins and launches the worker pool.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.ListenPort))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %v", s.cfg.ListenPort, err)
	}
	s.listener = ln

	for i := 0; i < s.cfg.WorkerCount; i++ {
		s.wg.Add(1)
		go s.acceptLoop(i)
	}

	log.Info().
		Str("addr", ln.Addr().String()).
		Int("workers", s.cfg.WorkerCount).
		Msg("ground control listening")
	return nil
}

// Stop cancels all sessions and waits for the workers to drain.
func (s *Server) Stop() {
	s.Cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.sessions.Range(func(_, value any) bool {
		value.(*DroneSession).commands.Close()
		return true
	})
	s.wg.Wait()
}

// Addr returns the listen address.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// acceptLoop is one pool worker: accept a drone, serve it to
// completion, accept the next.
func (s *Server) acceptLoop(worker int) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.Ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn().Err(err).Int("worker", worker).Msg("accept failed")
			continue
		}
		s.handle(conn)
	}
}

// handle authenticates one drone and runs its session.
func (s *Server) handle(conn net.Conn) {
	code, id, errCode := protocol.ReadLogin(conn, protocol.ReplyTimeout)
	if errCode != protocol.ErrNone || code != protocol.CodeLogin {
		protocol.WriteLogin(conn, protocol.CodeLoginNack, 0)
		conn.Close()
		log.Warn().
			Str("remote", conn.RemoteAddr().String()).
			Str("error", protocol.ErrToString[errCode]).
			Msg("login rejected")
		return
	}

	if errCode := protocol.WriteLogin(conn, protocol.CodeLoginAck, id); errCode != protocol.ErrNone {
		conn.Close()
		return
	}

	commands, errCode := protocol.NewQueue[Command](commandQueueCapacity)
	if errCode != protocol.ErrNone {
		conn.Close()
		return
	}

	session := &DroneSession{
		ID:          uuid.New(),
		DroneID:     id,
		RemoteAddr:  conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
		conn:        conn,
		commands:    commands,
		newViewer:   s.newViewer,
		collector:   s.collector,
		streamPort:  s.cfg.StreamPort,
	}

	s.sessions.Store(session.ID, session)
	log.Info().
		Str("session", session.ID.String()).
		Uint32("drone_id", id).
		Str("remote", session.RemoteAddr).
		Msg("drone connected")

	session.serve(s.Ctx)

	s.sessions.Delete(session.ID)
	log.Info().Str("session", session.ID.String()).Msg("drone session ended")
}

// Sessions returns all live sessions ordered by connect time.
func (s *Server) Sessions() []*DroneSession {
	var sessions []*DroneSession
	s.sessions.Range(func(_, value any) bool {
		sessions = append(sessions, value.(*DroneSession))
		return true
	})
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ConnectedAt.Before(sessions[j].ConnectedAt)
	})
	return sessions
}

// Get resolves a session by full ID or unique prefix.
func (s *Server) Get(id string) *DroneSession {
	var match *DroneSession
	count := 0
	s.sessions.Range(func(_, value any) bool {
		session := value.(*DroneSession)
		if strings.HasPrefix(session.ID.String(), id) {
			match = session
			count++
		}
		return true
	})
	if count != 1 {
		return nil
	}
	return match
}
