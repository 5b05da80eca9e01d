// ABOUTME: Prometheus collectors for recall outcomes and identifier resolution
// ABOUTME: Exposes a /metrics handler for the binary's metrics listener

// Package metrics defines the Prometheus collectors used by the recall
// service. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coven_recall"

// Metrics groups the collectors.
type Metrics struct {
	registry *prometheus.Registry

	Deletions      *prometheus.CounterVec
	Recalls        *prometheus.CounterVec
	Markers        *prometheus.CounterVec
	UnresolvedIDs  *prometheus.CounterVec
	Recorded       *prometheus.CounterVec
	DeleteDuration prometheus.Histogram
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Deletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletions_total",
			Help:      "Transport delete calls by platform and result.",
		}, []string{"platform", "result"}),
		Recalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recalls_total",
			Help:      "Recall executions by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		Markers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "markers_total",
			Help:      "Outgoing messages carrying the recall marker, by kind.",
		}, []string{"kind"}),
		UnresolvedIDs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unresolved_message_ids_total",
			Help:      "Sent messages whose identifier could not be determined.",
		}, []string{"platform"}),
		Recorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorded_messages_total",
			Help:      "Sent messages appended to a conversation ledger.",
		}, []string{"platform"}),
		DeleteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delete_duration_seconds",
			Help:      "Latency of transport delete calls.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(
		m.Deletions,
		m.Recalls,
		m.Markers,
		m.UnresolvedIDs,
		m.Recorded,
		m.DeleteDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDeletion records one delete call.
func (m *Metrics) ObserveDeletion(platform string, ok bool, seconds float64) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.Deletions.WithLabelValues(platform, result).Inc()
	m.DeleteDuration.Observe(seconds)
}

// ObserveRecall records the outcome of one recall execution.
func (m *Metrics) ObserveRecall(trigger, outcome string) {
	if m == nil {
		return
	}
	m.Recalls.WithLabelValues(trigger, outcome).Inc()
}

// ObserveMarker records an outgoing marker.
func (m *Metrics) ObserveMarker(kind string) {
	if m == nil {
		return
	}
	m.Markers.WithLabelValues(kind).Inc()
}

// ObserveUnresolved records a sent message whose id never resolved.
func (m *Metrics) ObserveUnresolved(platform string) {
	if m == nil {
		return
	}
	m.UnresolvedIDs.WithLabelValues(platform).Inc()
}

// ObserveRecorded records a ledger append.
func (m *Metrics) ObserveRecorded(platform string) {
	if m == nil {
		return
	}
	m.Recorded.WithLabelValues(platform).Inc()
}
