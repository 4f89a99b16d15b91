package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cabal_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cabal_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cabal_connections_active",
			Help: "Live WebSocket connections",
		},
	)

	ConnectionsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cabal_connections_rejected_total",
			Help: "Handshakes rejected because the username was already connected",
		},
	)

	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cabal_frames_total",
			Help: "Inbound frames by event",
		},
		[]string{"event"},
	)

	// Business metrics
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cabal_messages_total",
			Help: "Persisted message mutations",
		},
		[]string{"action"}, // created, edited, deleted
	)

	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cabal_rooms_active",
			Help: "Rooms currently held by the registry",
		},
	)

	RoomsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cabal_rooms_expired_total",
			Help: "Rooms removed by the expiry sweep",
		},
	)

	SweepFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cabal_sweep_failures_total",
			Help: "Room expiries that failed and were left for the next sweep",
		},
	)

	BroadcastFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cabal_broadcast_failures_total",
			Help: "Outbound frames that could not be queued for a connection",
		},
	)
)
