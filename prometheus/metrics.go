package prometheus

import (
	"time"

	"github.com/castla94/gestor-chatbot/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector of the service. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP request metrics
	HttpRequestsTotal   *prometheus.CounterVec
	HttpRequestDuration *prometheus.HistogramVec

	// Tenant lifecycle metrics
	LifecycleOperationsCounter *prometheus.CounterVec

	// Supervisor command metrics
	SupervisorCommandsCounter *prometheus.CounterVec
	SupervisorCommandDuration *prometheus.HistogramVec

	// Log stream metrics
	LogStreamsActive prometheus.Gauge
	LogStreamsTotal  *prometheus.CounterVec
}

// NewMetrics creates the collectors with the given prefix and registers them on reg
func NewMetrics(prefix string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HttpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HttpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		LifecycleOperationsCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_lifecycle_operations_total",
				Help: "Total number of tenant lifecycle operations",
			},
			[]string{"operation", "result"},
		),
		SupervisorCommandsCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_supervisor_commands_total",
				Help: "Total number of process supervisor invocations",
			},
			[]string{"command", "result"},
		),
		SupervisorCommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_supervisor_command_duration_seconds",
				Help:    "Duration of process supervisor invocations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		LogStreamsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: prefix + "_log_streams_active",
				Help: "Number of log streams currently open",
			},
		),
		LogStreamsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_log_streams_total",
				Help: "Total number of finished log streams by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// InitMetrics creates the service metrics on the default registry
func InitMetrics(cfg *config.Config) *Metrics {
	return NewMetrics(cfg.Metrics.Prefix, prometheus.DefaultRegisterer)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordHTTPRequest records one served request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HttpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HttpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordLifecycleOperation increments the counter for a lifecycle operation
func (m *Metrics) RecordLifecycleOperation(operation string, err error) {
	if m == nil {
		return
	}
	m.LifecycleOperationsCounter.WithLabelValues(operation, result(err)).Inc()
}

// TrackSupervisorCommand returns a function that records the outcome and duration of a command
func (m *Metrics) TrackSupervisorCommand(command string) func(err error) {
	start := time.Now()
	return func(err error) {
		if m == nil {
			return
		}
		m.SupervisorCommandsCounter.WithLabelValues(command, result(err)).Inc()
		m.SupervisorCommandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
	}
}

// LogStreamOpened increments the active stream gauge
func (m *Metrics) LogStreamOpened() {
	if m == nil {
		return
	}
	m.LogStreamsActive.Inc()
}

// LogStreamClosed decrements the active stream gauge and counts the outcome
func (m *Metrics) LogStreamClosed(outcome string) {
	if m == nil {
		return
	}
	m.LogStreamsActive.Dec()
	m.LogStreamsTotal.WithLabelValues(outcome).Inc()
}
