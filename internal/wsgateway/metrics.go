package wsgateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Number of open WebSocket connections",
		},
	)

	connectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_connections_total",
			Help: "Total number of accepted WebSocket connections",
		},
	)

	connectionsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_connections_rejected_total",
			Help: "Total number of refused WebSocket connections",
		},
		[]string{"reason"}, // "capacity" or "upgrade"
	)

	sessionsOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_sessions_online",
			Help: "Number of authenticated users with a session",
		},
	)

	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_auth_attempts_total",
			Help: "Total number of auth envelopes processed",
		},
		[]string{"result"}, // "success", "failure" or "replaced"
	)

	envelopesInTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_envelopes_in_total",
			Help: "Total number of inbound envelopes dispatched",
		},
		[]string{"type"},
	)

	envelopesOutTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_envelopes_out_total",
			Help: "Total number of outbound envelopes queued",
		},
		[]string{"type"},
	)

	// Unlabeled: the type of an ignored envelope is client-controlled
	envelopesIgnoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_envelopes_ignored_total",
			Help: "Total number of inbound envelopes with an unrecognized type",
		},
	)

	envelopesInvalidTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_envelopes_invalid_total",
			Help: "Total number of inbound frames rejected by the codec",
		},
		[]string{"reason"}, // "decode" or "missing_field"
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_dispatch_duration_seconds",
			Help:    "Time spent handling one inbound envelope",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"type", "status"}, // status: "ok" or "error"
	)

	slowConsumerTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_connection_slow_consumer_total",
			Help: "Total number of connections closed because their send queue was full",
		},
	)
)
