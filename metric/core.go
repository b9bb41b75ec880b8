package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Component status values reported by ComponentStatus
const (
	StatusStopped = iota
	StatusStarting
	StatusRunning
	StatusStopping
	StatusFailed
)

// Metrics contains the process-level metrics shared by every component.
// Component-specific metrics are registered separately through the registry.
type Metrics struct {
	// Component metrics
	ComponentStatus   *prometheus.GaugeVec
	HealthCheckStatus *prometheus.GaugeVec
	ErrorsTotal       *prometheus.CounterVec
	WorkersRunning    *prometheus.GaugeVec

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSRTT        prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates the core metrics. They are registered by NewMetricsRegistry.
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "colsink",
				Subsystem: "component",
				Name:      "status",
				Help:      "Component status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"component"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "colsink",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "colsink",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by classification",
			},
			[]string{"component", "class"},
		),

		WorkersRunning: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "colsink",
				Subsystem: "component",
				Name:      "workers_running",
				Help:      "Number of sink workers currently running",
			},
			[]string{"component"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "colsink",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "colsink",
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "colsink",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

// RecordComponentStatus updates the status gauge of a component
func (c *Metrics) RecordComponentStatus(component string, status int) {
	if c == nil {
		return
	}
	c.ComponentStatus.WithLabelValues(component).Set(float64(status))
}

// RecordError increments the error counter for an error class
func (c *Metrics) RecordError(component, class string) {
	if c == nil {
		return
	}
	c.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	if c == nil {
		return
	}
	c.HealthCheckStatus.WithLabelValues(component).Set(boolValue(healthy))
}

// RecordWorkers sets the number of running workers
func (c *Metrics) RecordWorkers(component string, n int) {
	if c == nil {
		return
	}
	c.WorkersRunning.WithLabelValues(component).Set(float64(n))
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	c.NATSConnected.Set(boolValue(connected))
}

// RecordNATSRTT updates NATS round-trip time
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	if c == nil {
		return
	}
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	if c == nil {
		return
	}
	c.NATSReconnects.Inc()
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
