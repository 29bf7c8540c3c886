package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Presence
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plaza_connected_clients",
		Help: "Number of clients attached to this instance",
	})

	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plaza_connections_total",
		Help: "Total accepted websocket connections",
	})

	ConnectionsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plaza_connections_rejected_total",
		Help: "Total connections rejected because the world was full",
	})

	SessionResumesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plaza_session_resumes_total",
		Help: "Total successful session resumes",
	})

	// World state
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plaza_active_rooms",
		Help: "Number of rooms in the local cache",
	})

	ActiveVoiceMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plaza_active_voice_messages",
		Help: "Number of unexpired voice messages in the local cache",
	})

	VoiceMessagesSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plaza_voice_messages_swept_total",
		Help: "Total voice messages removed by the TTL sweep",
	})

	// Replication
	WorldEventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plaza_world_events_published_total",
		Help: "World events published to the shared channel",
	}, []string{"type"})

	WorldEventsReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plaza_world_events_received_total",
		Help: "World events received from the shared channel",
	})

	SignalsRelayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plaza_signals_relayed_total",
		Help: "Signal payloads delivered to locally attached clients",
	})

	SignalsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plaza_signals_dropped_total",
		Help: "Signal pointers whose mailbox entry was already consumed or expired",
	})

	// Position queue
	PositionFlushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plaza_position_flushes_total",
		Help: "Total position batch flushes",
	})

	PositionUpdatesCoalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plaza_position_updates_coalesced_total",
		Help: "Position updates dropped in favour of a newer one in the same flush interval",
	})

	PositionBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "plaza_position_batch_size",
		Help:    "Number of coalesced updates per flush",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
	})

	// Redis health
	RedisErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plaza_redis_errors_total",
		Help: "Total Redis errors",
	})

	RateLimitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plaza_rate_limit_rejections_total",
		Help: "Requests rejected by a sliding-window rate limit",
	}, []string{"kind"})
)

func RecordWorldEvent(eventType string) {
	WorldEventsPublishedTotal.WithLabelValues(eventType).Inc()
}

func RecordRateLimit(kind string) {
	RateLimitRejectionsTotal.WithLabelValues(kind).Inc()
}
