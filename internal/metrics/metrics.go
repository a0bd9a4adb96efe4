// Package metrics exposes Prometheus collectors for sync-layer activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Snapshot delivery outcomes.
const (
	SnapshotDelivered = "delivered"
	SnapshotCoalesced = "coalesced"
	SnapshotDiscarded = "discarded"
)

// Projection outcomes.
const (
	ProjectionCreated  = "created"
	ProjectionExisting = "existing"
	ProjectionFailed   = "failed"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	localWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fellowship",
			Subsystem: "localstore",
			Name:      "writes_total",
			Help:      "Total number of local collection writes.",
		},
		[]string{"kind", "result"},
	)

	localWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fellowship",
			Subsystem: "localstore",
			Name:      "write_duration_seconds",
			Help:      "Time from enqueue to commit of a local write.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
		[]string{"kind"},
	)

	projections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fellowship",
			Subsystem: "projection",
			Name:      "firings_total",
			Help:      "Total number of projection rule firings by outcome.",
		},
		[]string{"rule", "result"},
	)

	subscriptionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fellowship",
			Subsystem: "subscription",
			Name:      "active",
			Help:      "Current number of live remote subscriptions.",
		},
	)

	snapshots = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fellowship",
			Subsystem: "subscription",
			Name:      "snapshots_total",
			Help:      "Remote snapshots received, by delivery outcome.",
		},
		[]string{"outcome"},
	)

	gatewayWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fellowship",
			Subsystem: "gateway",
			Name:      "writes_total",
			Help:      "Collaborative write attempts by operation and result code.",
		},
		[]string{"op", "result"},
	)

	hubConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fellowship",
			Subsystem: "hub",
			Name:      "connections",
			Help:      "Current number of realtime client connections.",
		},
	)
)

func init() {
	Registry.MustRegister(
		localWrites,
		localWriteDuration,
		projections,
		subscriptionsActive,
		snapshots,
		gatewayWrites,
		hubConnections,
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordLocalWrite records a completed local write.
func RecordLocalWrite(kind string, duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	localWrites.WithLabelValues(kind, result).Inc()
	localWriteDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordProjection records one projection rule firing.
func RecordProjection(rule, result string) {
	projections.WithLabelValues(rule, result).Inc()
}

// SubscriptionOpened increments the live subscription gauge.
func SubscriptionOpened() { subscriptionsActive.Inc() }

// SubscriptionClosed decrements the live subscription gauge.
func SubscriptionClosed() { subscriptionsActive.Dec() }

// RecordSnapshot records how a received snapshot was handled.
func RecordSnapshot(outcome string) {
	snapshots.WithLabelValues(outcome).Inc()
}

// RecordGatewayWrite records a gated write attempt. result is "ok" or an
// error code.
func RecordGatewayWrite(op, result string) {
	if result == "" {
		result = "ok"
	}
	gatewayWrites.WithLabelValues(op, result).Inc()
}

// HubConnectionOpened increments the hub connection gauge.
func HubConnectionOpened() { hubConnections.Inc() }

// HubConnectionClosed decrements the hub connection gauge.
func HubConnectionClosed() { hubConnections.Dec() }
