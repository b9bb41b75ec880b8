package sink

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/colsink/metric"
)

// Metrics holds Prometheus metrics shared by the sink instances of one component.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	recordsReceived *prometheus.CounterVec
	batchesTotal    *prometheus.CounterVec
	insertionsTotal *prometheus.CounterVec
	acksTotal       *prometheus.CounterVec
	ackErrorsTotal  *prometheus.CounterVec
	flushDuration   *prometheus.HistogramVec
	bufferedRecords *prometheus.GaugeVec
}

// NewMetrics creates sink metrics and registers them for the named component.
// A nil registry disables metrics.
func NewMetrics(registry *metric.MetricsRegistry, component string) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		recordsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "colsink",
			Subsystem: "sink",
			Name:      "records_received_total",
			Help:      "Records delivered to the sink",
		}, []string{"instance"}),

		batchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "colsink",
			Subsystem: "sink",
			Name:      "batches_total",
			Help:      "Flushed batches by outcome",
		}, []string{"instance", "status"}),

		insertionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "colsink",
			Subsystem: "sink",
			Name:      "insertions_total",
			Help:      "Column insertions executed against the store",
		}, []string{"instance"}),

		acksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "colsink",
			Subsystem: "sink",
			Name:      "acks_total",
			Help:      "Records acknowledged upstream",
		}, []string{"instance", "policy"}),

		ackErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "colsink",
			Subsystem: "sink",
			Name:      "ack_errors_total",
			Help:      "Acknowledgments the upstream rejected",
		}, []string{"instance"}),

		flushDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "colsink",
			Subsystem: "sink",
			Name:      "flush_duration_seconds",
			Help:      "Time to build and execute one batch",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"instance"}),

		bufferedRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "colsink",
			Subsystem: "sink",
			Name:      "buffered_records",
			Help:      "Records waiting for the next flush",
		}, []string{"instance"}),
	}

	registrations := []struct {
		name string
		vec  *prometheus.CounterVec
	}{
		{"records_received", m.recordsReceived},
		{"batches", m.batchesTotal},
		{"insertions", m.insertionsTotal},
		{"acks", m.acksTotal},
		{"ack_errors", m.ackErrorsTotal},
	}
	for _, r := range registrations {
		if err := registry.RegisterCounterVec(component, r.name, r.vec); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterHistogramVec(component, "flush_duration", m.flushDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeVec(component, "buffered_records", m.bufferedRecords); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) recordReceived(instance string, buffered int) {
	if m == nil {
		return
	}
	m.recordsReceived.WithLabelValues(instance).Inc()
	m.bufferedRecords.WithLabelValues(instance).Set(float64(buffered))
}

func (m *Metrics) recordFlush(instance string, out Outcome, buffered int) {
	if m == nil {
		return
	}
	status := "success"
	if !out.Success {
		status = "failure"
	}
	m.batchesTotal.WithLabelValues(instance, status).Inc()
	m.insertionsTotal.WithLabelValues(instance).Add(float64(out.Insertions))
	m.flushDuration.WithLabelValues(instance).Observe(out.Duration.Seconds())
	m.bufferedRecords.WithLabelValues(instance).Set(float64(buffered))
}

func (m *Metrics) recordAck(instance string, policy AckPolicy) {
	if m == nil {
		return
	}
	m.acksTotal.WithLabelValues(instance, policy.String()).Inc()
}

func (m *Metrics) recordAckError(instance string) {
	if m == nil {
		return
	}
	m.ackErrorsTotal.WithLabelValues(instance).Inc()
}
