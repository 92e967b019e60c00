package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Handshake metrics
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "latency_sessions_started_total",
		Help: "The total number of measurement sessions started.",
	})
	SessionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "latency_sessions_completed_total",
		Help: "The total number of measurement sessions that ran all rounds.",
	})
	SessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "latency_sessions_expired_total",
		Help: "The total number of abandoned sessions reclaimed by expiry.",
	})
	RoundRTT = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "latency_round_rtt_ms",
		Help:    "Per-round server-observed round-trip time in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	})

	// Persistence metrics
	PersistenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "latency_persistence_failures_total",
		Help: "The total number of failed latency record upserts.",
	})
	EventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "latency_event_publish_failures_total",
		Help: "The total number of failed completion event publishes.",
	})

	// Query metrics
	ClosestQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "latency_closest_queries_total",
		Help: "The total number of closest-region queries by outcome.",
	}, []string{"outcome"})
)
