// README: Prometheus collectors shared by the coordination modules and the HTTP layer.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ridesync"

var (
	RequestsCreated  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "requests_created_total", Help: "Trip requests created"})
	RequestsAccepted = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "requests_accepted_total", Help: "Trip requests accepted by a driver"})
	AcceptConflicts  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "accept_conflicts_total", Help: "Accept attempts that lost the compare-and-swap"})

	BroadcastEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "broadcast_events_total", Help: "Events appended to the broadcast log"},
		[]string{"type"},
	)
	BroadcastEvicted = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "broadcast_log_evicted_total", Help: "Events dropped from the capped broadcast log"})
	HubLagged        = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "hub_lagged_subscribers_total", Help: "Subscribers closed because their buffer filled"})
	HubSubscribers   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "hub_subscribers", Help: "Open event subscriptions"})

	LocationUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "location_updates_total", Help: "Accepted location samples"},
		[]string{"role"},
	)
	LocationSyncFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "location_sync_failures_total", Help: "Best-effort location sync failures"},
		[]string{"syncer"},
	)

	RemoteFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "remote_fallbacks_total", Help: "Trip API operations served from local state after a server failure"},
		[]string{"op"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
