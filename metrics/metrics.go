// File: metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Relay directions used as label values.
const (
	DirectionToUpstream   = "to_upstream"
	DirectionToDownstream = "to_downstream"
)

var (
	// Session Metrics
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_sessions_active",
		Help: "The current number of relay sessions.",
	})
	TotalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_sessions_total",
		Help: "The total number of relay sessions created.",
	})
	RejectedConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_connections_rejected_total",
		Help: "The total number of inbound connections rejected before a session was created.",
	}, []string{"reason"})
	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_sessions_closed_total",
		Help: "The total number of relay sessions closed, by the state they were in.",
	}, []string{"state"})

	// Message Metrics
	MessagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_total",
		Help: "The total number of events relayed.",
	}, []string{"direction"})
	MalformedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_malformed_events_total",
		Help: "The total number of events dropped because they could not be parsed.",
	}, []string{"direction"})
	PendingFlushed = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_pending_flushed",
		Help:    "Number of buffered client events flushed once the upstream connected.",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
	})

	// Upstream Metrics
	UpstreamConnectFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_upstream_connect_failures_total",
		Help: "The total number of failed upstream connection attempts.",
	})
	UpstreamConnectDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_upstream_connect_seconds",
		Help:    "Time taken to establish the upstream connection.",
		Buckets: prometheus.DefBuckets,
	})

	// Broker Metrics
	BrokerMessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_messages_published_total",
		Help: "The total number of lifecycle messages published to the message broker.",
	}, []string{"broker_type"})
	BrokerPublishRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_publish_retries_total",
		Help: "The total number of retries when publishing to the message broker.",
	}, []string{"broker_type"})

	// Auth Metrics
	AuthSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_success_total",
		Help: "The total number of successful authentications.",
	})
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_failures_total",
		Help: "The total number of failed authentications.",
	}, []string{"reason"})
)

// Handler returns the mux serving Prometheus metrics on path.
func Handler(path string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	return mux
}
