// Package metrics exposes link and stream counters over a private
// Prometheus registry. All methods are safe on a nil collector so the
// endpoint stays strictly optional.
package metrics

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Collector aggregates counters for one process.
type Collector struct {
	registry *prometheus.Registry

	sent         atomic.Uint64
	received     atomic.Uint64
	reconnects   atomic.Uint64
	decodeErrors atomic.Uint64
	streamErrors atomic.Uint64
}

// NewCollector creates a collector and registers its counters.
func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	counters := []struct {
		name  string
		help  string
		value *atomic.Uint64
	}{
		{"dronelink_messages_sent_total", "Frames written to the control link.", &c.sent},
		{"dronelink_messages_received_total", "Frames read from the control link.", &c.received},
		{"dronelink_reconnect_attempts_total", "Control link connection attempts after the first.", &c.reconnects},
		{"dronelink_decode_errors_total", "Frames dropped as malformed.", &c.decodeErrors},
		{"dronelink_stream_errors_total", "Stream faults reported by the media engine.", &c.streamErrors},
	}
	for _, counter := range counters {
		value := counter.value
		c.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: counter.name, Help: counter.help},
			func() float64 { return float64(value.Load()) },
		))
	}

	return c
}

func (c *Collector) AddSent() {
	if c != nil {
		c.sent.Add(1)
	}
}

func (c *Collector) AddReceived() {
	if c != nil {
		c.received.Add(1)
	}
}

func (c *Collector) AddReconnect() {
	if c != nil {
		c.reconnects.Add(1)
	}
}

func (c *Collector) AddDecodeError() {
	if c != nil {
		c.decodeErrors.Add(1)
	}
}

func (c *Collector) AddStreamError() {
	if c != nil {
		c.streamErrors.Add(1)
	}
}

// Handler returns the /metrics handler for this collector.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve runs a metrics endpoint on addr until ctx is canceled.
func (c *Collector) Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Warn().Err(err).Msg("metrics endpoint stopped")
	}
}
