package media

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tinyzimmer/go-gst/gst"

	"dronelink/pkg/protocol"
)

// codec describes the GStreamer elements carrying one wire format.
type codec struct {
	encoder   string // empty for raw video
	payloader string
}

var codecs = map[uint32]codec{
	protocol.FormatH264: {"x264enc", "rtph264pay"},
	protocol.FormatH265: {"x265enc", "rtph265pay"},
	protocol.FormatVP8:  {"vp8enc", "rtpvp8pay"},
	protocol.FormatVP9:  {"vp9enc", "rtpvp9pay"},
	protocol.FormatJPEG: {"jpegenc", "rtpjpegpay"},
	protocol.FormatH263: {"avenc_h263", "rtph263pay"},
	protocol.FormatRaw:  {"", "rtpvrawpay"},
}

// defaultFormats is the negotiation preference order.
var defaultFormats = []uint32{
	protocol.FormatH264,
	protocol.FormatH265,
	protocol.FormatVP8,
	protocol.FormatVP9,
	protocol.FormatJPEG,
	protocol.FormatH263,
	protocol.FormatRaw,
}

// CameraConfig holds the capture parameters.
type CameraConfig struct {
	Device  string // v4l2 device path
	Host    string // RTP sink host (ground control)
	Width   int
	Height  int
	FPS     int
	Formats []uint32 // preference order, defaults to defaultFormats
}

// CameraEngine drives the capture pipeline:
//
//	v4l2src → capsfilter → videoconvert → encoder → payloader → udpsink
//
// The udpsink port is 0 until the first stream request sets it.
type CameraEngine struct {
	format   uint32
	pipeline *gst.Pipeline
	sink     *gst.Element

	events    chan Event
	stop      chan struct{}
	closeOnce sync.Once
}

var gstOnce sync.Once

// NewCameraEngine builds the pipeline, walking the format preference
// list until one links. Fails only when no codec is usable.
func NewCameraEngine(cfg CameraConfig) (*CameraEngine, error) {
	gstOnce.Do(func() { gst.Init(nil) })

	if cfg.Device == "" {
		cfg.Device = "/dev/video0"
	}
	if cfg.Width <= 0 {
		cfg.Width = 1280
	}
	if cfg.Height <= 0 {
		cfg.Height = 720
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if len(cfg.Formats) == 0 {
		cfg.Formats = defaultFormats
	}

	for _, format := range cfg.Formats {
		pipeline, sink, err := buildCameraPipeline(cfg, format)
		if err != nil {
			log.Debug().Uint32("format", format).Err(err).Msg("format unavailable")
			continue
		}

		engine := &CameraEngine{
			format:   format,
			pipeline: pipeline,
			sink:     sink,
			events:   make(chan Event, 4),
			stop:     make(chan struct{}),
		}
		go engine.watchBus()

		log.Info().
			Str("device", cfg.Device).
			Uint32("format", format).
			Int("width", cfg.Width).
			Int("height", cfg.Height).
			Msg("camera pipeline ready")
		return engine, nil
	}

	return nil, fmt.Errorf("no usable encoder for device %s", cfg.Device)
}

func buildCameraPipeline(cfg CameraConfig, format uint32) (*gst.Pipeline, *gst.Element, error) {
	c, ok := codecs[format]
	if !ok {
		return nil, nil, fmt.Errorf("format %d not mapped to a codec", format)
	}

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, nil, err
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, nil, err
	}
	if err := src.SetProperty("device", cfg.Device); err != nil {
		return nil, nil, err
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, nil, err
	}
	capsStr := fmt.Sprintf("video/x-raw,width=%d,height=%d,framerate=%d/1", cfg.Width, cfg.Height, cfg.FPS)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, nil, err
	}

	elements := []*gst.Element{src, capsfilter, convert}

	if c.encoder != "" {
		encoder, err := gst.NewElement(c.encoder)
		if err != nil {
			return nil, nil, err
		}
		elements = append(elements, encoder)
	}

	payloader, err := gst.NewElement(c.payloader)
	if err != nil {
		return nil, nil, err
	}
	payloader.SetProperty("mtu", uint(1400))
	elements = append(elements, payloader)

	sink, err := gst.NewElement("udpsink")
	if err != nil {
		return nil, nil, err
	}
	sink.SetProperty("host", cfg.Host)
	sink.SetProperty("port", 0)
	sink.SetProperty("sync", false)
	elements = append(elements, sink)

	if err := pipeline.AddMany(elements...); err != nil {
		return nil, nil, err
	}
	if err := gst.ElementLinkMany(elements...); err != nil {
		return nil, nil, err
	}

	return pipeline, sink, nil
}

// Format returns the negotiated wire format.
func (e *CameraEngine) Format() uint32 {
	return e.format
}

// SetSink points the RTP output at the requested UDP port.
func (e *CameraEngine) SetSink(port uint32) error {
	return e.sink.SetProperty("port", int(port))
}

// SetState drives the pipeline to the given state.
func (e *CameraEngine) SetState(state PipelineState) error {
	var target gst.State
	switch state {
	case StateNull:
		target = gst.StateNull
	case StateReady:
		target = gst.StateReady
	case StatePlaying:
		target = gst.StatePlaying
	default:
		return fmt.Errorf("unknown pipeline state %d", state)
	}
	return e.pipeline.SetState(target)
}

// Events returns the fault channel.
func (e *CameraEngine) Events() <-chan Event {
	return e.events
}

// Close stops the pipeline and the bus watcher.
func (e *CameraEngine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.pipeline.SetState(gst.StateNull)
		close(e.stop)
	})
	return err
}

// watchBus polls the pipeline bus and turns ERROR and EOS messages
// into engine events. Events are dropped rather than blocking the
// watcher when the consumer lags.
func (e *CameraEngine) watchBus() {
	bus := e.pipeline.GetPipelineBus()
	for {
		select {
		case <-e.stop:
			return
		default:
			msg := bus.TimedPop(50 * time.Millisecond)
			if msg == nil {
				continue
			}

			switch msg.Type() {
			case gst.MessageEOS:
				e.emit(Event{Kind: EventEOS, Message: "end of stream"})
			case gst.MessageError:
				gerr := msg.ParseError()
				e.emit(Event{Kind: EventError, Message: gerr.Error()})
			}
		}
	}
}

func (e *CameraEngine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		log.Warn().Str("fault", ev.Message).Msg("engine event dropped, consumer lagging")
	}
}
