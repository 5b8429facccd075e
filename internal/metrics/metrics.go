// Package metrics provides Prometheus instrumentation for the room chat
// server and client. Server-side series track connections, relayed frames and
// room deletions; client-side series track channel traffic.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of open room channels.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roomchat_connections_total",
		Help: "Current number of open room channels",
	})

	// FramesTotal counts frames handled by the server, labeled by outcome:
	// relayed, malformed, invalid, blocked, limited or oversized.
	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_frames_total",
		Help: "Total number of frames handled by the room server",
	}, []string{"outcome"})

	// RelayLatency records the time from frame read to broker publish.
	RelayLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "roomchat_relay_latency_seconds",
		Help:    "Frame relay latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// RoomsDeleted counts successful room deletions.
	RoomsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomchat_rooms_deleted_total",
		Help: "Total number of rooms deleted",
	})

	// ClientFrames counts frames on the client side of a channel, labeled by
	// direction: "sent", "received" or "dropped".
	ClientFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_client_frames_total",
		Help: "Total number of frames handled by room chat clients",
	}, []string{"direction"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		FramesTotal,
		RelayLatency,
		RoomsDeleted,
		ClientFrames,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
