package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "classhub_active_connections",
		Help: "Currently registered WebSocket connections",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "classhub_active_rooms",
		Help: "Live classroom rooms",
	})

	MessagesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classhub_messages_routed_total",
		Help: "Client messages accepted by the router",
	}, []string{"type"})

	MessagesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classhub_messages_rejected_total",
		Help: "Client messages rejected by validation, rate limiting or authority",
	}, []string{"reason"})

	SignalingFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "classhub_signaling_frames_total",
		Help: "WebRTC signaling frames relayed between peers",
	}, []string{"kind"})

	ChatMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classhub_chat_messages_total",
		Help: "Private chat messages persisted and relayed",
	})

	SandboxRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "classhub_sandbox_runs_total",
		Help: "Code executions handed to the sandbox service",
	})
)
