package media

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tinyzimmer/go-gst/gst"

	"dronelink/pkg/protocol"
)

// decoderChain describes the receive-side elements for one format.
type decoderChain struct {
	depayloader  string
	decoder      string // empty for raw video
	encodingName string // RTP caps encoding-name
}

var decoderChains = map[uint32]decoderChain{
	protocol.FormatH264: {"rtph264depay", "avdec_h264", "H264"},
	protocol.FormatH265: {"rtph265depay", "avdec_h265", "H265"},
	protocol.FormatVP8:  {"rtpvp8depay", "vp8dec", "VP8"},
	protocol.FormatVP9:  {"rtpvp9depay", "vp9dec", "VP9"},
	protocol.FormatJPEG: {"rtpjpegdepay", "jpegdec", "JPEG"},
	protocol.FormatH263: {"rtph263depay", "avdec_h263", "H263"},
	protocol.FormatRaw:  {"rtpvrawdepay", "", "RAW"},
}

// Viewer renders an incoming RTP stream in a local window:
//
//	udpsrc → capsfilter → depayloader → decoder → videoconvert →
//	videoscale → autovideosink
type Viewer struct {
	pipeline  *gst.Pipeline
	stop      chan struct{}
	closeOnce sync.Once
}

// NewViewer builds a viewer for the announced format, listening for
// RTP on the given UDP port. The pipeline is left in NULL state.
func NewViewer(format, port uint32) (*Viewer, error) {
	gstOnce.Do(func() { gst.Init(nil) })

	chain, ok := decoderChains[format]
	if !ok {
		return nil, fmt.Errorf("no decoder chain for format %d", format)
	}

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, err
	}

	src, err := gst.NewElement("udpsrc")
	if err != nil {
		return nil, err
	}
	if err := src.SetProperty("port", int(port)); err != nil {
		return nil, err
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, err
	}
	capsStr := fmt.Sprintf("application/x-rtp, media=video, clock-rate=90000, encoding-name=%s", chain.encodingName)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	depay, err := gst.NewElement(chain.depayloader)
	if err != nil {
		return nil, err
	}

	elements := []*gst.Element{src, capsfilter, depay}

	if chain.decoder != "" {
		decoder, err := gst.NewElement(chain.decoder)
		if err != nil {
			return nil, err
		}
		elements = append(elements, decoder)
	}

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, err
	}
	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, err
	}
	sink, err := gst.NewElement("autovideosink")
	if err != nil {
		return nil, err
	}
	elements = append(elements, convert, scale, sink)

	if err := pipeline.AddMany(elements...); err != nil {
		return nil, err
	}
	if err := gst.ElementLinkMany(elements...); err != nil {
		return nil, err
	}

	v := &Viewer{pipeline: pipeline, stop: make(chan struct{})}
	go v.watchBus()
	return v, nil
}

// Start plays the viewer pipeline.
func (v *Viewer) Start() error {
	return v.pipeline.SetState(gst.StatePlaying)
}

// Stop halts rendering but keeps the pipeline around for a restart.
func (v *Viewer) Stop() error {
	return v.pipeline.SetState(gst.StateNull)
}

// Close tears the viewer down.
func (v *Viewer) Close() error {
	var err error
	v.closeOnce.Do(func() {
		err = v.pipeline.SetState(gst.StateNull)
		close(v.stop)
	})
	return err
}

// watchBus logs viewer pipeline faults. Rendering errors are local to
// the operator console; the drone link is not involved.
func (v *Viewer) watchBus() {
	bus := v.pipeline.GetPipelineBus()
	for {
		select {
		case <-v.stop:
			return
		default:
			msg := bus.TimedPop(50 * time.Millisecond)
			if msg == nil {
				continue
			}

			switch msg.Type() {
			case gst.MessageEOS:
				log.Info().Msg("viewer stream ended")
			case gst.MessageError:
				gerr := msg.ParseError()
				log.Warn().Str("error", gerr.Error()).Msg("viewer pipeline fault")
			}
		}
	}
}
