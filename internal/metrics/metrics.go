package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "drops"

// Notification delivery results.
const (
	NotificationSent        = "sent"
	NotificationFailed      = "failed"
	NotificationDeactivated = "deactivated"
	NotificationDropped     = "dropped"
	NotificationNoDevices   = "no_devices"
)

// Metrics holds the application collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight   prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	unlockAttempts *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	connections    prometheus.Gauge
	events         *prometheus.CounterVec
	slowConsumers  prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "route"}),
		unlockAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unlock",
			Name:      "attempts_total",
			Help:      "Unlock attempts by outcome.",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Push notifications by category and result.",
		}, []string{"category", "result"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Currently connected realtime clients.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_published_total",
			Help:      "Realtime events published by name.",
		}, []string{"event"}),
		slowConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "slow_consumers_dropped_total",
			Help:      "Clients disconnected because their send buffer was full.",
		}),
	}

	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.unlockAttempts,
		m.notifications,
		m.connections,
		m.events,
		m.slowConsumers,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RequestStarted tracks an in-flight request. The returned func must be
// called when the request completes.
func (m *Metrics) RequestStarted() func() {
	m.httpInFlight.Inc()
	return m.httpInFlight.Dec
}

// ObserveRequest records a completed HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// UnlockAttempt records the outcome of an unlock attempt.
func (m *Metrics) UnlockAttempt(outcome string) {
	m.unlockAttempts.WithLabelValues(outcome).Inc()
}

// Notification records a notification delivery result.
func (m *Metrics) Notification(category, result string) {
	m.notifications.WithLabelValues(category, result).Inc()
}

// NotificationResults returns the delivery counts recorded for a category,
// keyed by result.
func (m *Metrics) NotificationResults(category string) (map[string]float64, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != namespace+"_notify_notifications_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			var cat, result string
			for _, l := range metric.GetLabel() {
				switch l.GetName() {
				case "category":
					cat = l.GetValue()
				case "result":
					result = l.GetValue()
				}
			}
			if cat == category {
				out[result] += metric.GetCounter().GetValue()
			}
		}
	}
	return out, nil
}

// ConnectionOpened increments the live connection gauge.
func (m *Metrics) ConnectionOpened() { m.connections.Inc() }

// ConnectionClosed decrements the live connection gauge.
func (m *Metrics) ConnectionClosed() { m.connections.Dec() }

// EventPublished counts a published realtime event.
func (m *Metrics) EventPublished(event string) {
	m.events.WithLabelValues(event).Inc()
}

// SlowConsumerDropped counts a client dropped for falling behind.
func (m *Metrics) SlowConsumerDropped() {
	m.slowConsumers.Inc()
}
