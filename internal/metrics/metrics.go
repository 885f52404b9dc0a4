// Package metrics exposes Prometheus instrumentation for the dashboard client.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects client-side Prometheus metrics.
type Metrics struct {
	backendRequests  *prometheus.CounterVec
	backendDuration  *prometheus.HistogramVec
	staleResponses   *prometheus.CounterVec
	debouncedInputs  *prometheus.CounterVec
	sessionState     *prometheus.GaugeVec
	sessionExpiries  prometheus.Counter
	backendUp        prometheus.Gauge
	confirmedActions *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// New returns the process-wide metrics collector.
func New() *Metrics {
	metricsOnce.Do(func() {
		metricsInst = &Metrics{
			backendRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dmarc_dash_backend_requests_total",
					Help: "Backend API calls by route and HTTP status",
				},
				[]string{"route", "status"},
			),
			backendDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "dmarc_dash_backend_request_duration_seconds",
					Help:    "Backend API call latency in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"route"},
			),
			staleResponses: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dmarc_dash_stale_responses_total",
					Help: "Responses discarded because a newer request superseded them",
				},
				[]string{"view"},
			),
			debouncedInputs: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dmarc_dash_debounced_inputs_total",
					Help: "Search inputs absorbed by the debounce window",
				},
				[]string{"view"},
			),
			sessionState: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "dmarc_dash_session_state",
					Help: "Current session state (1 for the active state)",
				},
				[]string{"state"},
			),
			sessionExpiries: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "dmarc_dash_session_expiries_total",
					Help: "Sessions ended by a 401 from the backend",
				},
			),
			backendUp: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "dmarc_dash_backend_up",
					Help: "Backend health (1 = reachable, 0 = unreachable)",
				},
			),
			confirmedActions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dmarc_dash_destructive_actions_total",
					Help: "Destructive actions by kind and outcome",
				},
				[]string{"kind", "outcome"},
			),
		}
	})
	return metricsInst
}

// RecordBackendCall records one backend round trip. status 0 means the
// request never got a response.
func (m *Metrics) RecordBackendCall(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	statusLabel := "error"
	if status > 0 {
		statusLabel = strconv.Itoa(status)
	}
	m.backendRequests.WithLabelValues(route, statusLabel).Inc()
	m.backendDuration.WithLabelValues(route).Observe(d.Seconds())
}

// RecordStale records a discarded out-of-order response.
func (m *Metrics) RecordStale(view string) {
	if m == nil {
		return
	}
	m.staleResponses.WithLabelValues(label(view)).Inc()
}

// RecordDebounced records a search input that did not trigger its own fetch.
func (m *Metrics) RecordDebounced(view string) {
	if m == nil {
		return
	}
	m.debouncedInputs.WithLabelValues(label(view)).Inc()
}

// SetSessionState marks state as the active session state.
func (m *Metrics) SetSessionState(state string) {
	if m == nil {
		return
	}
	for _, s := range []string{"resolving", "anonymous", "authenticated"} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.sessionState.WithLabelValues(s).Set(v)
	}
}

// RecordSessionExpired counts a session ended by the backend.
func (m *Metrics) RecordSessionExpired() {
	if m == nil {
		return
	}
	m.sessionExpiries.Inc()
}

// UpdateBackendHealth updates the backend health gauge.
func (m *Metrics) UpdateBackendHealth(healthy bool) {
	if m == nil {
		return
	}
	if healthy {
		m.backendUp.Set(1)
	} else {
		m.backendUp.Set(0)
	}
}

// RecordAction records the outcome of a confirmed destructive action.
func (m *Metrics) RecordAction(kind, outcome string) {
	if m == nil {
		return
	}
	m.confirmedActions.WithLabelValues(label(kind), label(outcome)).Inc()
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
