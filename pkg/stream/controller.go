// Package stream implements the drone's stream control state machine.
// Control frames popped from the stream queue drive a two-state
// machine (standby, playing) through a transition table; replies and
// fault reports go out through the network queue.
package stream

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"dronelink/pkg/media"
	"dronelink/pkg/metrics"
	"dronelink/pkg/protocol"
)

// State is the controller state.
type State uint32

const (
	StateStandby State = iota
	StatePlaying
	stateCount
)

func (s State) String() string {
	switch s {
	case StateStandby:
		return "standby"
	case StatePlaying:
		return "playing"
	}
	return "unknown"
}

// event indexes the transition table.
type event int

const (
	eventRequest event = iota // ground control asks for the format
	eventStart                // ground control starts the stream
	eventStop                 // ground control stops the stream
	eventFault                // media engine reported a fault
	eventCount
)

func (e event) String() string {
	switch e {
	case eventRequest:
		return "stream-request"
	case eventStart:
		return "stream-start"
	case eventStop:
		return "stream-stop"
	case eventFault:
		return "engine-fault"
	}
	return "unknown"
}

type action func(c *Controller, msg *protocol.Message)

// transition pairs the handler with the successor state.
type transition struct {
	action action
	next   State
}

// transitions is indexed by [state][event]. Every cell is populated;
// impossible combinations are explicit no-ops.
var transitions = [stateCount][eventCount]transition{
	StateStandby: {
		eventRequest: {(*Controller).announceFormat, StateStandby},
		eventStart:   {(*Controller).startPipeline, StatePlaying},
		eventStop:    {(*Controller).ignore, StateStandby},
		eventFault:   {(*Controller).reportFault, StateStandby},
	},
	StatePlaying: {
		eventRequest: {(*Controller).ignore, StatePlaying},
		eventStart:   {(*Controller).ignore, StatePlaying},
		eventStop:    {(*Controller).haltPipeline, StateStandby},
		eventFault:   {(*Controller).reportFault, StateStandby},
	},
}

// Controller runs the state machine. The run loop is the only writer
// of the state; the atomic lets other goroutines observe it.
type Controller struct {
	state     atomic.Uint32
	engine    media.Engine
	inbound   *protocol.Queue[protocol.Message]
	outbound  *protocol.Queue[protocol.Message]
	collector *metrics.Collector
}

// NewController wires the engine between the stream queue (inbound
// control frames) and the network queue (outbound replies).
func NewController(engine media.Engine, inbound, outbound *protocol.Queue[protocol.Message], collector *metrics.Collector) *Controller {
	return &Controller{
		engine:    engine,
		inbound:   inbound,
		outbound:  outbound,
		collector: collector,
	}
}

// State returns the current machine state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Run processes control frames until the inbound queue is closed.
// The engine is torn down on exit.
func (c *Controller) Run() {
	for {
		msg, errCode := c.inbound.Pop(true)
		if errCode != protocol.ErrNone {
			c.engine.SetState(media.StateNull)
			return
		}

		ev, ok := eventFor(msg.Code)
		if !ok {
			log.Warn().Uint32("code", msg.Code).Msg("dropping unhandled stream code")
			continue
		}

		from := c.State()
		t := transitions[from][ev]
		c.state.Store(uint32(t.next))
		t.action(c, msg)

		log.Debug().
			Stringer("event", ev).
			Stringer("from", from).
			Stringer("to", t.next).
			Msg("stream event handled")
	}
}

// WatchEngine forwards engine faults onto the control queue so they
// pass through the same transition table as peer frames.
func (c *Controller) WatchEngine(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.engine.Events():
			if !ok {
				return
			}
			log.Warn().Str("reason", ev.Message).Msg("media engine fault")
			fault := &protocol.Message{Module: protocol.ModuleStream, Code: protocol.CodeStreamError}
			if c.inbound.Push(fault, true) != protocol.ErrNone {
				return
			}
		}
	}
}

func eventFor(code uint32) (event, bool) {
	switch code {
	case protocol.CodeStreamRequest:
		return eventRequest, true
	case protocol.CodeStreamStart:
		return eventStart, true
	case protocol.CodeStreamStop:
		return eventStop, true
	case protocol.CodeStreamError:
		return eventFault, true
	}
	return 0, false
}

// announceFormat records the requested sink port and replies with the
// negotiated video format.
func (c *Controller) announceFormat(msg *protocol.Message) {
	if err := c.engine.SetSink(msg.Port); err != nil {
		log.Error().Err(err).Uint32("port", msg.Port).Msg("failed to set sink port")
	}

	reply := &protocol.Message{
		Module: protocol.ModuleCommand,
		Code:   protocol.CodeStreamType,
		Format: c.engine.Format(),
	}
	c.outbound.Push(reply, true)
}

// startPipeline drives the engine to PLAYING. A failure here surfaces
// asynchronously through the engine's fault channel.
func (c *Controller) startPipeline(msg *protocol.Message) {
	if err := c.engine.SetState(media.StatePlaying); err != nil {
		log.Error().Err(err).Msg("failed to start pipeline")
	}
}

// haltPipeline drives the engine back to READY.
func (c *Controller) haltPipeline(msg *protocol.Message) {
	if err := c.engine.SetState(media.StateReady); err != nil {
		log.Error().Err(err).Msg("failed to halt pipeline")
	}
}

// reportFault tells ground control the stream died and tears the
// engine down.
func (c *Controller) reportFault(msg *protocol.Message) {
	c.collector.AddStreamError()
	report := &protocol.Message{Module: protocol.ModuleCommand, Code: protocol.CodeStreamError}
	c.outbound.Push(report, true)

	if err := c.engine.SetState(media.StateNull); err != nil {
		log.Error().Err(err).Msg("failed to tear down pipeline")
	}
}

func (c *Controller) ignore(msg *protocol.Message) {
	log.Debug().Uint32("code", msg.Code).Stringer("state", c.State()).Msg("event ignored in current state")
}
