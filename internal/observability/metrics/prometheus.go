// Package metrics provides Prometheus metrics for the appointment services.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carebridge/carebridge/pkg/circuitbreaker"
)

// Metrics holds all application metrics
type Metrics struct {
	MutationsTotal      *prometheus.CounterVec
	MutationDuration    *prometheus.HistogramVec
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
	AIRequests          *prometheus.CounterVec
	NotificationsTotal  *prometheus.CounterVec
	OutboxPending       prometheus.Gauge
	OutboxPublished     prometheus.Counter
	OutboxDeadLettered  prometheus.Counter
	CircuitBreakerState *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates all metrics and registers them with reg. A nil reg uses a
// fresh private registry, which keeps tests independent.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		MutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "appointment_operations_total",
			Help: "Appointment operations by op and outcome",
		}, []string{"op", "outcome"}),
		MutationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "appointment_operation_duration_seconds",
			Help:    "Appointment operation duration including lock wait and retries",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"op"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		AIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "AI helper requests by endpoint and outcome (ok or fallback)",
		}, []string{"endpoint", "outcome"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Patient notifications by event type and outcome",
		}, []string{"event_type", "outcome"}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Outbox entries published to the broker",
		}),
		OutboxDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_dead_lettered_total",
			Help: "Outbox entries moved to the dead letter topic",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.MutationsTotal,
		m.MutationDuration,
		m.HTTPRequests,
		m.HTTPDuration,
		m.AIRequests,
		m.NotificationsTotal,
		m.OutboxPending,
		m.OutboxPublished,
		m.OutboxDeadLettered,
		m.CircuitBreakerState,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	} else {
		m.gatherer = prometheus.DefaultGatherer
	}
	return m
}

// ObserveMutation records one appointment operation.
func (m *Metrics) ObserveMutation(op, outcome string, d time.Duration) {
	m.MutationsTotal.WithLabelValues(op, outcome).Inc()
	m.MutationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveAI records whether an AI helper answered or fell back.
func (m *Metrics) ObserveAI(endpoint string, fallback bool) {
	outcome := "ok"
	if fallback {
		outcome = "fallback"
	}
	m.AIRequests.WithLabelValues(endpoint, outcome).Inc()
}

// ObserveNotification records a notification attempt.
func (m *Metrics) ObserveNotification(eventType, outcome string) {
	m.NotificationsTotal.WithLabelValues(eventType, outcome).Inc()
}

// BreakerStateChanged matches circuitbreaker.Config.OnStateChange.
func (m *Metrics) BreakerStateChanged(name string, _, to circuitbreaker.State) {
	m.CircuitBreakerState.WithLabelValues(name).Set(to.Gauge())
}

// Handler serves the registry m was created with.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
