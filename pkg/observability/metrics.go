// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the protocol server. Both are optional: a nil *Metrics or
// *TracingProvider is safe everywhere and records nothing.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsConfig configures the metrics collectors.
type MetricsConfig struct {
	ServiceName    string
	ServiceVersion string

	// Namespace is the Prometheus namespace (default: mcp).
	Namespace string

	// HistogramBuckets are latency buckets in milliseconds.
	HistogramBuckets []float64

	// Registerer defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// Metrics holds the server's Prometheus collectors.
type Metrics struct {
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	resourceReads    *prometheus.CounterVec
	notificationsOut *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	framesTotal      *prometheus.CounterVec
}

// NewMetrics creates and registers the server's collectors.
func NewMetrics(config MetricsConfig) (*Metrics, error) {
	if config.Namespace == "" {
		config.Namespace = "mcp"
	}
	if config.HistogramBuckets == nil {
		config.HistogramBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	}
	if config.Registerer == nil {
		config.Registerer = prometheus.DefaultRegisterer
	}

	constLabels := prometheus.Labels{}
	if config.ServiceName != "" {
		constLabels["service"] = config.ServiceName
	}
	if config.ServiceVersion != "" {
		constLabels["version"] = config.ServiceVersion
	}

	m := &Metrics{
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   config.Namespace,
				Name:        "request_duration_milliseconds",
				Help:        "Duration of handled requests in milliseconds",
				Buckets:     config.HistogramBuckets,
				ConstLabels: constLabels,
			},
			[]string{"method", "status"},
		),
		requestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Name:        "request_total",
				Help:        "Total number of handled requests",
				ConstLabels: constLabels,
			},
			[]string{"method", "status"},
		),
		toolCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   config.Namespace,
				Name:        "tool_call_duration_milliseconds",
				Help:        "Duration of tool invocations in milliseconds",
				Buckets:     config.HistogramBuckets,
				ConstLabels: constLabels,
			},
			[]string{"tool", "status"},
		),
		resourceReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Name:        "resource_read_total",
				Help:        "Total number of resource reads",
				ConstLabels: constLabels,
			},
			[]string{"status"},
		),
		notificationsOut: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Name:        "notification_sent_total",
				Help:        "Total number of notifications sent to clients",
				ConstLabels: constLabels,
			},
			[]string{"method"},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   config.Namespace,
				Name:        "active_sessions",
				Help:        "Number of currently active sessions",
				ConstLabels: constLabels,
			},
		),
		framesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Name:        "transport_frames_total",
				Help:        "Total number of transport frames by direction",
				ConstLabels: constLabels,
			},
			[]string{"direction"},
		),
	}

	collectors := []prometheus.Collector{
		m.requestDuration,
		m.requestTotal,
		m.toolCallDuration,
		m.resourceReads,
		m.notificationsOut,
		m.activeSessions,
		m.framesTotal,
	}
	for _, c := range collectors {
		if err := config.Registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, err
			}
		}
	}

	return m, nil
}

// RecordRequest records one handled request.
func (m *Metrics) RecordRequest(method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	ms := float64(duration.Milliseconds())
	m.requestDuration.WithLabelValues(method, status).Observe(ms)
	m.requestTotal.WithLabelValues(method, status).Inc()
}

// RecordToolCall records one tool invocation.
func (m *Metrics) RecordToolCall(tool, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.toolCallDuration.WithLabelValues(tool, status).Observe(float64(duration.Milliseconds()))
}

// RecordResourceRead records one resources/read outcome.
func (m *Metrics) RecordResourceRead(status string) {
	if m == nil {
		return
	}
	m.resourceReads.WithLabelValues(status).Inc()
}

// RecordNotificationSent records one outbound notification.
func (m *Metrics) RecordNotificationSent(method string) {
	if m == nil {
		return
	}
	m.notificationsOut.WithLabelValues(method).Inc()
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionEnded decrements the active session gauge.
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// RecordFrame records one transport frame ("in" or "out").
func (m *Metrics) RecordFrame(direction string) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(direction).Inc()
}
