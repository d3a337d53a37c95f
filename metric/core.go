package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all orchestrator-level metrics (not domain-specific)
type Metrics struct {
	// Subsystem lifecycle metrics
	SubsystemStatus  *prometheus.GaugeVec
	InitDuration     prometheus.Histogram
	RecoveryAttempts *prometheus.CounterVec

	// Data flow metrics
	MessagesRouted  *prometheus.CounterVec
	RouteDuration   *prometheus.HistogramVec
	RouteErrors     *prometheus.CounterVec
	QueueDepth      *prometheus.GaugeVec
	MessagesQueued  *prometheus.CounterVec
	MessagesDrained *prometheus.CounterVec

	// Health monitor metrics
	HealthCycles  prometheus.Counter
	OverallHealth prometheus.Gauge

	// Bus metrics
	BusPublished *prometheus.CounterVec
	BusConnected prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all orchestrator metrics
func NewMetrics() *Metrics {
	return &Metrics{
		SubsystemStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "simkernel",
				Subsystem: "lifecycle",
				Name:      "subsystem_status",
				Help:      "Subsystem status (0=inactive, 1=initializing, 2=active, 3=degraded, 4=error, 5=maintenance, 6=shutdown)",
			},
			[]string{"subsystem"},
		),

		InitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "simkernel",
				Subsystem: "lifecycle",
				Name:      "init_duration_seconds",
				Help:      "Total initialization time across all subsystems",
				Buckets:   prometheus.DefBuckets,
			},
		),

		RecoveryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "simkernel",
				Subsystem: "recovery",
				Name:      "attempts_total",
				Help:      "Total recovery attempts per subsystem and outcome",
			},
			[]string{"subsystem", "outcome"},
		),

		MessagesRouted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "simkernel",
				Subsystem: "dataflow",
				Name:      "messages_routed_total",
				Help:      "Total messages routed per route and status",
			},
			[]string{"source", "target", "status"},
		),

		RouteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "simkernel",
				Subsystem: "dataflow",
				Name:      "route_duration_seconds",
				Help:      "Route delivery duration in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"source", "target"},
		),

		RouteErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "simkernel",
				Subsystem: "dataflow",
				Name:      "route_errors_total",
				Help:      "Total route errors per failure kind",
			},
			[]string{"source", "target", "reason"},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "simkernel",
				Subsystem: "dataflow",
				Name:      "queue_depth",
				Help:      "Current per-target message queue depth",
			},
			[]string{"target"},
		),

		MessagesQueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "simkernel",
				Subsystem: "dataflow",
				Name:      "messages_queued_total",
				Help:      "Total messages enqueued per target",
			},
			[]string{"target"},
		),

		MessagesDrained: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "simkernel",
				Subsystem: "dataflow",
				Name:      "messages_drained_total",
				Help:      "Total messages drained from queues per target and status",
			},
			[]string{"target", "status"},
		),

		HealthCycles: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "simkernel",
				Subsystem: "health",
				Name:      "monitor_cycles_total",
				Help:      "Total health monitor cycles completed",
			},
		),

		OverallHealth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "simkernel",
				Subsystem: "health",
				Name:      "overall_status",
				Help:      "Aggregate health (0=unhealthy, 1=degraded, 2=warning, 3=healthy)",
			},
		),

		BusPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "simkernel",
				Subsystem: "bus",
				Name:      "published_total",
				Help:      "Total events published per subject",
			},
			[]string{"subject"},
		),

		BusConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "simkernel",
				Subsystem: "bus",
				Name:      "connected",
				Help:      "Bus connectivity (1=connected, 0=disconnected)",
			},
		),
	}
}

// RecordSubsystemStatus records the numeric status of a subsystem
func (m *Metrics) RecordSubsystemStatus(subsystem string, status int) {
	m.SubsystemStatus.WithLabelValues(subsystem).Set(float64(status))
}

// RecordRoute records a routed message and its latency
func (m *Metrics) RecordRoute(source, target string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.MessagesRouted.WithLabelValues(source, target, status).Inc()
	m.RouteDuration.WithLabelValues(source, target).Observe(d.Seconds())
}

// RecordRouteError records a route failure by reason label
func (m *Metrics) RecordRouteError(source, target, reason string) {
	m.RouteErrors.WithLabelValues(source, target, reason).Inc()
}

// RecordRecovery records a recovery attempt outcome
func (m *Metrics) RecordRecovery(subsystem, outcome string) {
	m.RecoveryAttempts.WithLabelValues(subsystem, outcome).Inc()
}

// collectors returns every core metric for bulk registration
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SubsystemStatus,
		m.InitDuration,
		m.RecoveryAttempts,
		m.MessagesRouted,
		m.RouteDuration,
		m.RouteErrors,
		m.QueueDepth,
		m.MessagesQueued,
		m.MessagesDrained,
		m.HealthCycles,
		m.OverallHealth,
		m.BusPublished,
		m.BusConnected,
	}
}
