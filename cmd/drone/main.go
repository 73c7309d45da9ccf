// Package main implements the drone companion process.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dronelink/pkg/media"
	"dronelink/pkg/metrics"
	"dronelink/pkg/protocol"
	"dronelink/pkg/stream"
	"dronelink/pkg/transport"
)

// Exit codes.
const (
	Success       = 0 // success
	ErrCanceled   = 1 // context canceled
	ErrBadAddress = 2 // unparsable ground control address
	ErrEngineInit = 3 // camera pipeline setup failed
	ErrQueueSetup = 4 // message queue setup failed
)

// Queue capacities: the network queue buffers outbound replies, the
// stream queue buffers inbound control frames.
const (
	networkQueueCapacity = 16
	streamQueueCapacity  = 8
)

// DefaultDroneID identifies this airframe at login.
const DefaultDroneID = 12

// init configures logging with zerolog
// Sets up console output and INFO level logging
func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// main is the entry point for the drone process
// Handles command-line flags, signal management, and link lifecycle
func main() {
	var (
		serverAddr  string
		droneID     uint
		device      string
		width       int
		height      int
		fps         int
		metricsAddr string
		debug       bool
	)
	flag.StringVar(&serverAddr, "s", "127.0.0.1:5010", "ground control address (host:port)")
	flag.UintVar(&droneID, "i", DefaultDroneID, "drone ID sent at login")
	flag.StringVar(&device, "d", "/dev/video0", "camera device")
	flag.IntVar(&width, "width", 1280, "capture width")
	flag.IntVar(&height, "height", 720, "capture height")
	flag.IntVar(&fps, "fps", 30, "capture framerate")
	flag.StringVar(&metricsAddr, "m", "", "metrics listen address (empty disables)")
	flag.BoolVar(&debug, "v", false, "enable debug logging")
	flag.Parse()

	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	host, _, err := net.SplitHostPort(serverAddr)
	if err != nil {
		log.Error().Err(err).Str("addr", serverAddr).Msg("invalid ground control address")
		os.Exit(ErrBadAddress)
	}

	// Create context that can be cancelled with CTRL+C
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	collector := metrics.NewCollector()
	if metricsAddr != "" {
		go collector.Serve(ctx, metricsAddr)
	}

	networkQueue, errCode := protocol.NewQueue[protocol.Message](networkQueueCapacity)
	if errCode != protocol.ErrNone {
		os.Exit(ErrQueueSetup)
	}
	streamQueue, errCode := protocol.NewQueue[protocol.Message](streamQueueCapacity)
	if errCode != protocol.ErrNone {
		os.Exit(ErrQueueSetup)
	}

	engine, err := media.NewCameraEngine(media.CameraConfig{
		Device: device,
		Host:   host,
		Width:  width,
		Height: height,
		FPS:    fps,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize camera")
		os.Exit(ErrEngineInit)
	}
	defer engine.Close()

	controller := stream.NewController(engine, streamQueue, networkQueue, collector)
	go controller.Run()
	go controller.WatchEngine(ctx)

	session := transport.NewSession(transport.Config{
		Addr:    serverAddr,
		DroneID: uint32(droneID),
	}, streamQueue, networkQueue, collector)

	// Blocks until the context is canceled.
	session.Run(ctx)

	streamQueue.Close()
	networkQueue.Close()
	session.Close()

	if ctx.Err() != nil {
		os.Exit(ErrCanceled)
	}
	os.Exit(Success)
}
