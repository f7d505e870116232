// Package instrument holds the Prometheus collectors shared by the api and
// the dashboard. Collectors are package-level; binaries attach them to a
// registerer with Register and expose them through promhttp.
package instrument

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sentinelpulse"

var (
	fetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Resilient fetches by target and outcome kind.",
		},
		[]string{"target", "outcome"},
	)

	fetchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Network attempts made by resilient fetches, including retries.",
		},
		[]string{"target"},
	)

	fetchSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_seconds",
			Help:      "Wall time of one resilient fetch including retries and backoff.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		},
		[]string{"target"},
	)

	breakerOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_open",
			Help:      "1 while the circuit breaker of a target is open.",
		},
		[]string{"target"},
	)

	breakerTripsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_trips_total",
			Help:      "CLOSED to OPEN transitions per target.",
		},
		[]string{"target"},
	)

	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Poll/stream loop cycles by result (ok, error, panic, fallback).",
		},
		[]string{"loop", "result"},
	)

	collectSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collect_seconds",
			Help:      "Aggregator latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5},
		},
	)

	publishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_published_total",
			Help:      "Snapshots handed to the broadcaster.",
		},
	)

	sendFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_send_failures_total",
			Help:      "Subscriber sends that failed or exceeded their time budget.",
		},
	)

	droppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_dropped_total",
			Help:      "Queued messages evicted from a full subscriber mailbox.",
		},
	)

	subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Currently registered subscribers.",
		},
	)

	relayReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_reconnects_total",
			Help:      "Stream relay reconnect attempts after a disconnect.",
		},
	)
)

// Register attaches all collectors to reg. Collectors already registered
// with reg are skipped.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		fetchesTotal,
		fetchAttemptsTotal,
		fetchSeconds,
		breakerOpen,
		breakerTripsTotal,
		cyclesTotal,
		collectSeconds,
		publishedTotal,
		sendFailuresTotal,
		droppedTotal,
		subscribers,
		relayReconnectsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveFetch records one completed fetch.
func ObserveFetch(target, outcome string, attempts int, elapsed time.Duration) {
	fetchesTotal.WithLabelValues(target, outcome).Inc()
	if attempts > 0 {
		fetchAttemptsTotal.WithLabelValues(target).Add(float64(attempts))
	}
	if elapsed < 0 {
		elapsed = 0
	}
	fetchSeconds.WithLabelValues(target).Observe(elapsed.Seconds())
}

// BreakerTripped records a CLOSED to OPEN transition.
func BreakerTripped(target string) {
	breakerTripsTotal.WithLabelValues(target).Inc()
	breakerOpen.WithLabelValues(target).Set(1)
}

// BreakerClosed records that the open window of target has ended.
func BreakerClosed(target string) {
	breakerOpen.WithLabelValues(target).Set(0)
}

// ObserveCycle records the result of one loop iteration.
func ObserveCycle(loop, result string) {
	cyclesTotal.WithLabelValues(loop, result).Inc()
}

// ObserveCollect records one aggregator run.
func ObserveCollect(d time.Duration) {
	collectSeconds.Observe(d.Seconds())
}

// SnapshotPublished counts one Publish call.
func SnapshotPublished() { publishedTotal.Inc() }

// SendFailed counts one failed subscriber send.
func SendFailed() { sendFailuresTotal.Inc() }

// MessageDropped counts one mailbox eviction.
func MessageDropped() { droppedTotal.Inc() }

// SetSubscribers reports the registry size.
func SetSubscribers(n int) { subscribers.Set(float64(n)) }

// RelayReconnect counts one stream reconnect attempt.
func RelayReconnect() { relayReconnectsTotal.Inc() }
