// Package metrics provides Prometheus metrics for the agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tunnel_agent"

// Result label values.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultNotFound = "not_found"
	ResultUnknown  = "unknown"
)

type Metrics struct {
	Heartbeats        *prometheus.CounterVec
	Commands          *prometheus.CounterVec
	LeaseRequests     *prometheus.CounterVec
	LeaseReleases     prometheus.Counter
	TunnelOpens       *prometheus.CounterVec
	TunnelUp          prometheus.Gauge
	Registrations     *prometheus.CounterVec
	BootstrapAttempts prometheus.Counter
	SessionActive     prometheus.Gauge
	HeartbeatLatency  prometheus.Histogram
}

// New registers all agent metrics with reg. A nil reg uses a private
// registry, which keeps tests isolated.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		Heartbeats: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_total",
			Help:      "Heartbeats sent to the control plane by result",
		}, []string{"result"}),
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands executed by kind and result",
		}, []string{"kind", "result"}),
		LeaseRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_requests_total",
			Help:      "Tunnel credential resolutions by source and result",
		}, []string{"source", "result"}),
		LeaseReleases: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_releases_total",
			Help:      "Server leases handed back",
		}),
		TunnelOpens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tunnel_opens_total",
			Help:      "Tunnel open attempts by result",
		}, []string{"result"}),
		TunnelUp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tunnel_up",
			Help:      "1 while the primary tunnel is open",
		}),
		Registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Registrations with the control plane by result",
		}, []string{"result"}),
		BootstrapAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bootstrap_attempts_total",
			Help:      "Tunnel acquisition attempts during bootstrap",
		}),
		SessionActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_active",
			Help:      "1 while the exposed service is in use",
		}),
		HeartbeatLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "heartbeat_latency_seconds",
			Help:      "Histogram of heartbeat round trip time",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
	}
}

func (m *Metrics) RecordHeartbeat(result string, seconds float64) {
	if m == nil {
		return
	}
	m.Heartbeats.WithLabelValues(result).Inc()
	m.HeartbeatLatency.Observe(seconds)
}

func (m *Metrics) RecordCommand(kind, result string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) RecordLease(source, result string) {
	if m == nil {
		return
	}
	m.LeaseRequests.WithLabelValues(source, result).Inc()
}

func (m *Metrics) RecordRelease() {
	if m == nil {
		return
	}
	m.LeaseReleases.Inc()
}

func (m *Metrics) RecordTunnelOpen(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.TunnelOpens.WithLabelValues(ResultOK).Inc()
		m.TunnelUp.Set(1)
		return
	}
	m.TunnelOpens.WithLabelValues(ResultError).Inc()
}

func (m *Metrics) RecordTunnelClosed() {
	if m == nil {
		return
	}
	m.TunnelUp.Set(0)
}

func (m *Metrics) RecordRegistration(result string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordBootstrapAttempt() {
	if m == nil {
		return
	}
	m.BootstrapAttempts.Inc()
}

func (m *Metrics) SetSessionActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.SessionActive.Set(1)
		return
	}
	m.SessionActive.Set(0)
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
