// Package metrics exposes Prometheus metrics for sessions, index builds and
// tool calls.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rendis/mediamcp/internal/session"
	"github.com/rendis/mediamcp/internal/tools"
	"github.com/rendis/mediamcp/internal/workerpool"
	"github.com/rendis/mediamcp/pkg/schema"
)

const namespace = "mediamcp"

// Metrics holds all Prometheus collectors of the server.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive  prometheus.Gauge
	SessionsTotal   prometheus.Counter
	SessionsRemoved *prometheus.CounterVec

	IndexBuildsTotal   *prometheus.CounterVec
	IndexBuildDuration prometheus.Histogram
	IndexedItems       prometheus.Histogram

	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec

	AdmissionRejected *prometheus.CounterVec
}

// New creates and registers all collectors on a private registry, together
// with the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently registered sessions.",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of sessions created.",
		}),
		SessionsRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_removed_total",
			Help:      "Total number of sessions removed, by reason.",
		}, []string{"reason"}),

		IndexBuildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_builds_total",
			Help:      "Total number of media index builds, by result.",
		}, []string{"result"}),
		IndexBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_build_duration_seconds",
			Help:      "Duration of media index builds in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		IndexedItems: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_items",
			Help:      "Number of items in finished media indexes.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),

		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls, by tool and outcome code.",
		}, []string{"tool", "outcome"}),
		ToolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Duration of tool calls in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),

		AdmissionRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejected_total",
			Help:      "Connections rejected before a session was created, by code.",
		}, []string{"code"}),
	}

	m.registry.MustRegister(
		m.SessionsActive,
		m.SessionsTotal,
		m.SessionsRemoved,
		m.IndexBuildsTotal,
		m.IndexBuildDuration,
		m.IndexedItems,
		m.ToolCallsTotal,
		m.ToolCallDuration,
		m.AdmissionRejected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// WatchPool exports the activity counters of a worker pool under name.
func (m *Metrics) WatchPool(name string, p *workerpool.Pool) {
	labels := prometheus.Labels{"pool": name}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "pool_active_tasks",
			Help:        "Tasks currently running on the worker pool.",
			ConstLabels: labels,
		}, func() float64 { return float64(p.Metrics().Active) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "pool_panics_total",
			Help:        "Tasks that panicked on the worker pool.",
			ConstLabels: labels,
		}, func() float64 { return float64(p.Metrics().Panics) }),
	)
}

// Rejected counts a connection refused with the given error code.
func (m *Metrics) Rejected(code string) {
	m.AdmissionRejected.WithLabelValues(code).Inc()
}

// SessionCreated implements session.Observer.
func (m *Metrics) SessionCreated(context.Context, session.Session) {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// SessionRemoved implements session.Observer.
func (m *Metrics) SessionRemoved(_ context.Context, _ session.Session, reason string) {
	m.SessionsActive.Dec()
	m.SessionsRemoved.WithLabelValues(reason).Inc()
}

// IndexBuilt implements session.Observer.
func (m *Metrics) IndexBuilt(_ context.Context, _ string, items int, elapsed time.Duration, err error) {
	result := "ok"
	switch {
	case schema.IsCode(err, schema.ErrCodePartialBuild):
		result = "partial"
	case err != nil:
		result = "error"
	}
	m.IndexBuildsTotal.WithLabelValues(result).Inc()
	m.IndexBuildDuration.Observe(elapsed.Seconds())
	m.IndexedItems.Observe(float64(items))
}

// ToolCalled implements tools.Observer.
func (m *Metrics) ToolCalled(_ context.Context, rec tools.CallRecord) {
	outcome := rec.Code
	if outcome == "" {
		outcome = "OK"
	}
	m.ToolCallsTotal.WithLabelValues(rec.Tool, outcome).Inc()
	m.ToolCallDuration.WithLabelValues(rec.Tool).Observe(rec.Duration.Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

var (
	_ session.Observer = (*Metrics)(nil)
	_ tools.Observer   = (*Metrics)(nil)
)
