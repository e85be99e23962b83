package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status labels recorded on run, host and connection metrics.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusChanged   = "changed"
)

// Metrics provides Prometheus metrics for herd.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Host instance metrics
	hostInstances *prometheus.CounterVec
	hostDuration  *prometheus.HistogramVec
	subtasks      *prometheus.CounterVec

	// Connection metrics
	connectionOpens *prometheus.CounterVec

	// System metrics
	activeRuns  prometheus.Gauge
	failedHosts prometheus.Gauge

	registry *prometheus.Registry
	server   *http.Server
	listener net.Listener
	logger   *Logger
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of task runs started",
			},
			[]string{"task"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of task runs completed",
			},
			[]string{"task", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of task runs over all selected hosts in seconds",
				Buckets:   buckets,
			},
			[]string{"task"},
		),

		hostInstances: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "host_instances_total",
				Help:      "Total number of task instances executed per host",
			},
			[]string{"task", "status"},
		),
		hostDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "host_instance_duration_seconds",
				Help:      "Duration of a task instance on one host in seconds",
				Buckets:   buckets,
			},
			[]string{"task"},
		),
		subtasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subtasks_total",
				Help:      "Total number of sub-tasks executed",
			},
			[]string{"task", "status"},
		),

		connectionOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_opens_total",
				Help:      "Total number of connection open attempts",
			},
			[]string{"plugin", "status"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active task runs",
			},
		),
		failedHosts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "failed_hosts",
				Help:      "Current number of hosts in the failed set",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.hostInstances,
		m.hostDuration,
		m.subtasks,
		m.connectionOpens,
		m.activeRuns,
		m.failedHosts,
	)

	return m, nil
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(task string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(task).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(task, status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(task, status).Inc()
	m.runDuration.WithLabelValues(task).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordHostInstance records one task instance on one host.
func (m *Metrics) RecordHostInstance(task, status string, duration time.Duration) {
	if m.hostInstances == nil {
		return
	}
	m.hostInstances.WithLabelValues(task, status).Inc()
	m.hostDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// RecordSubtask records one sub-task execution.
func (m *Metrics) RecordSubtask(task, status string) {
	if m.subtasks == nil {
		return
	}
	m.subtasks.WithLabelValues(task, status).Inc()
}

// RecordConnectionOpen records a connection open attempt.
func (m *Metrics) RecordConnectionOpen(plugin string, err error) {
	if m.connectionOpens == nil {
		return
	}
	status := StatusSucceeded
	if err != nil {
		status = StatusFailed
	}
	m.connectionOpens.WithLabelValues(plugin, status).Inc()
}

// SetFailedHosts sets the current size of the failed-hosts set.
func (m *Metrics) SetFailedHosts(count int) {
	if m.failedHosts == nil {
		return
	}
	m.failedHosts.Set(float64(count))
}

// Registry returns the registry holding herd metrics, or nil when metrics
// are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves Handler on the configured listen address. It
// does nothing when metrics are disabled or no address is set.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	ln, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.ListenAddress, err)
	}
	m.listener = ln
	m.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && m.logger != nil {
			m.logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	return nil
}

// Addr returns the address the metrics server listens on, or "" when it
// is not running.
func (m *Metrics) Addr() string {
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// Shutdown stops the metrics server if it is running.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
