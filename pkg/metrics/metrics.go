// Package metrics exposes the Prometheus collectors of the decision engines.
// A nil *Manager is valid and records nothing, so engines can take one as an
// optional dependency.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns every collector and the registry they are registered on.
type Manager struct {
	namespace string
	buckets   []float64
	registry  *prometheus.Registry

	decisions       *prometheus.CounterVec
	fraudChecks     *prometheus.CounterVec
	documentChecks  *prometheus.CounterVec
	encodeFallbacks *prometheus.CounterVec
	indexLatency    *prometheus.HistogramVec
	indexErrors     *prometheus.CounterVec
	counterfactuals *prometheus.CounterVec
	twinLookups     *prometheus.CounterVec
	snapshots       *prometheus.CounterVec
	oracleFallbacks *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace sets the metric namespace.
func WithNamespace(ns string) Option {
	return func(m *Manager) {
		if ns != "" {
			m.namespace = ns
		}
	}
}

// WithHistogramBuckets overrides the latency buckets.
func WithHistogramBuckets(b []float64) Option {
	return func(m *Manager) {
		if len(b) > 0 {
			m.buckets = b
		}
	}
}

// WithRegistry registers collectors on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(m *Manager) {
		if reg != nil {
			m.registry = reg
		}
	}
}

// NewManager creates a Manager on its own registry so the Go runtime
// collectors of the default registry are not exported.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "creditmem",
		buckets:   prometheus.DefBuckets,
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.init()
	return m
}

func (m *Manager) init() {
	auto := promauto.With(m.registry)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return auto.NewCounterVec(prometheus.CounterOpts{Namespace: m.namespace, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return auto.NewHistogramVec(prometheus.HistogramOpts{Namespace: m.namespace, Name: name, Help: help, Buckets: m.buckets}, labels)
	}

	m.decisions = counter("decisions_total", "Credit decisions by risk tier and approval band", "tier", "approval")
	m.fraudChecks = counter("fraud_checks_total", "Profile fraud screens by alert level", "level")
	m.documentChecks = counter("document_checks_total", "Document screens by verdict", "verdict")
	m.encodeFallbacks = counter("encode_fallbacks_total", "Feature blocks zero-filled after an encoder failure", "block")
	m.indexLatency = histogram("index_query_duration_seconds", "Similarity index call latency", "collection", "op")
	m.indexErrors = counter("index_errors_total", "Similarity index call failures", "collection", "op")
	m.counterfactuals = counter("counterfactual_runs_total", "Counterfactual simulations by verdict", "verdict")
	m.twinLookups = counter("twin_lookups_total", "Success twin lookups", "found")
	m.snapshots = counter("snapshots_recorded_total", "Temporal snapshots written", "checkpoint")
	m.oracleFallbacks = counter("oracle_fallbacks_total", "Narratives served from templates", "kind")
	m.httpRequests = counter("http_requests_total", "HTTP requests", "method", "route", "status")
	m.httpDuration = histogram("http_request_duration_seconds", "HTTP request latency", "route")
}

// Registry returns the registry backing the Manager.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Manager) RecordDecision(tier, approval string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(tier, approval).Inc()
}

func (m *Manager) RecordFraudCheck(level string) {
	if m == nil {
		return
	}
	m.fraudChecks.WithLabelValues(level).Inc()
}

func (m *Manager) RecordDocumentCheck(verdict string) {
	if m == nil {
		return
	}
	m.documentChecks.WithLabelValues(verdict).Inc()
}

// RecordEncodeFallback counts a zero-filled feature block.
func (m *Manager) RecordEncodeFallback(block string) {
	if m == nil {
		return
	}
	m.encodeFallbacks.WithLabelValues(block).Inc()
}

// ObserveIndex records one index call; err non-nil also bumps the error count.
func (m *Manager) ObserveIndex(collection, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.indexLatency.WithLabelValues(collection, op).Observe(time.Since(start).Seconds())
	if err != nil {
		m.indexErrors.WithLabelValues(collection, op).Inc()
	}
}

func (m *Manager) RecordCounterfactual(verdict string) {
	if m == nil {
		return
	}
	m.counterfactuals.WithLabelValues(verdict).Inc()
}

func (m *Manager) RecordTwinLookup(found bool) {
	if m == nil {
		return
	}
	m.twinLookups.WithLabelValues(strconv.FormatBool(found)).Inc()
}

func (m *Manager) RecordSnapshot(checkpoint string) {
	if m == nil {
		return
	}
	m.snapshots.WithLabelValues(checkpoint).Inc()
}

func (m *Manager) RecordOracleFallback(kind string) {
	if m == nil {
		return
	}
	m.oracleFallbacks.WithLabelValues(kind).Inc()
}

// ObserveHTTP records one served request.
func (m *Manager) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}
