// Package media owns the GStreamer pipelines: the camera pipeline that
// encodes and pushes RTP on the drone, and the viewer pipeline that
// renders the incoming stream on ground control.
package media

// PipelineState mirrors the GStreamer states the controller drives.
type PipelineState int

const (
	StateNull PipelineState = iota
	StateReady
	StatePlaying
)

func (s PipelineState) String() string {
	switch s {
	case StateNull:
		return "null"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	}
	return "unknown"
}

// EventKind classifies engine faults.
type EventKind int

const (
	EventError EventKind = iota
	EventEOS
)

// Event is an asynchronous fault raised by the pipeline bus.
type Event struct {
	Kind    EventKind
	Message string
}

// Engine produces an encoded video stream and pushes it to a UDP sink.
// Format returns the wire format code the stream is encoded as; the
// sink port is set per stream request before the pipeline plays.
type Engine interface {
	Format() uint32
	SetSink(port uint32) error
	SetState(state PipelineState) error
	Events() <-chan Event
	Close() error
}
