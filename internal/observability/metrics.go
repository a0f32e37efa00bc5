package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MutationsTotal counts mutations by operation and outcome.
	MutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardsync_mutations_total",
		Help: "Total number of mutations by operation and outcome",
	}, []string{"operation", "outcome"})

	// MutationRollbacks counts rollbacks by operation and error code.
	MutationRollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardsync_mutation_rollbacks_total",
		Help: "Total number of optimistic updates rolled back",
	}, []string{"operation", "code"})

	// CacheInvalidations counts entries marked stale by key kind.
	CacheInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardsync_cache_invalidations_total",
		Help: "Total number of cache entries marked stale",
	}, []string{"kind"})

	// StaleFetchesDiscarded counts superseded fetch results that were dropped.
	StaleFetchesDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardsync_stale_fetches_discarded_total",
		Help: "Total number of fetch results discarded because a newer fetch was issued",
	}, []string{"kind"})

	// FetchFailures counts failed cache fetches by key kind.
	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardsync_fetch_failures_total",
		Help: "Total number of failed cache fetches",
	}, []string{"kind"})

	// PushEventsTotal counts push events by type and outcome.
	PushEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardsync_push_events_total",
		Help: "Total push events by type and outcome",
	}, []string{"event_type", "outcome"})

	// PushConnected is 1 while the push stream is connected.
	PushConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "boardsync_push_connected",
		Help: "Whether the push stream is currently connected",
	})

	// RemoteRequestLatency records remote port call latency.
	RemoteRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "boardsync_remote_request_latency_seconds",
		Help:    "Remote port call latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "code"})

	// NotificationsPublished counts notifications published by the reference server.
	NotificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boardsync_notifications_published_total",
		Help: "Total notifications published by transport",
	}, []string{"transport"})

	// StreamSubscribers is the number of open notification streams on the reference server.
	StreamSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "boardsync_stream_subscribers",
		Help: "Open notification event streams",
	})
)

// TrackRemoteCall returns a function that records call latency when called
// with the resulting error code (e.g. defer).
func TrackRemoteCall(operation string) func(code string) {
	start := time.Now()
	return func(code string) {
		if code == "" {
			code = "ok"
		}
		RemoteRequestLatency.WithLabelValues(operation, code).Observe(time.Since(start).Seconds())
	}
}
