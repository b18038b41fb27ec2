// Package metrics provides Prometheus metrics for the Canvas API relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "canvas"

var (
	// RequestsTotal counts caller requests by method, path, and status.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration measures request latency in seconds.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "path"},
	)

	// ActiveSessions tracks currently open Canvas feed sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Current number of open Canvas sessions.",
		},
	)

	// TriggerCallsTotal counts out-of-band trigger calls by outcome.
	TriggerCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_calls_total",
			Help:      "Total number of Canvas trigger calls.",
		},
		[]string{"status"}, // "ok" or "error"
	)

	// ReconcilerModeTotal counts sticky mode settlements per segment type.
	ReconcilerModeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciler_mode_total",
			Help:      "Buffer reconciliation mode settlements.",
		},
		[]string{"segment", "mode"},
	)

	// RegistryLookups counts conversation registry hits and misses.
	RegistryLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_registry_lookups_total",
			Help:      "Conversation registry lookup results.",
		},
		[]string{"result"}, // "hit" or "miss"
	)
)
