package natsclient

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/colsink/metric"
)

// jetstreamMetrics exposes the server-side state of the consumers this client created.
type jetstreamMetrics struct {
	consumerPending     *prometheus.GaugeVec
	consumerAckPending  *prometheus.GaugeVec
	consumerRedelivered *prometheus.GaugeVec
	errors              *prometheus.CounterVec

	mu        sync.RWMutex
	consumers map[string]jetstream.Consumer
}

// newJetStreamMetrics returns nil when registry is nil.
func newJetStreamMetrics(registry *metric.MetricsRegistry) (*jetstreamMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &jetstreamMetrics{
		consumerPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "colsink",
			Subsystem: "jetstream",
			Name:      "consumer_pending_messages",
			Help:      "Messages in the stream not yet delivered to the consumer",
		}, []string{"stream", "consumer"}),

		consumerAckPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "colsink",
			Subsystem: "jetstream",
			Name:      "consumer_ack_pending_messages",
			Help:      "Messages delivered but not yet acknowledged",
		}, []string{"stream", "consumer"}),

		consumerRedelivered: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "colsink",
			Subsystem: "jetstream",
			Name:      "consumer_redelivered_messages",
			Help:      "Messages redelivered at least once and still outstanding",
		}, []string{"stream", "consumer"}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "colsink",
			Subsystem: "jetstream",
			Name:      "operation_errors_total",
			Help:      "JetStream operations that failed",
		}, []string{"operation"}),

		consumers: make(map[string]jetstream.Consumer),
	}

	if err := registry.RegisterGaugeVec("jetstream", "consumer_pending", m.consumerPending); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeVec("jetstream", "consumer_ack_pending", m.consumerAckPending); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeVec("jetstream", "consumer_redelivered", m.consumerRedelivered); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("jetstream", "errors", m.errors); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *jetstreamMetrics) trackConsumer(stream, durable string, consumer jetstream.Consumer) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumers[stream+":"+durable] = consumer
}

func (m *jetstreamMetrics) recordError(operation string) {
	if m != nil {
		m.errors.WithLabelValues(operation).Inc()
	}
}

// updateStats polls every tracked consumer. Unavailable consumers are skipped.
func (m *jetstreamMetrics) updateStats(ctx context.Context) {
	if m == nil {
		return
	}

	m.mu.RLock()
	consumers := make([]jetstream.Consumer, 0, len(m.consumers))
	for _, c := range m.consumers {
		consumers = append(consumers, c)
	}
	m.mu.RUnlock()

	for _, consumer := range consumers {
		info, err := consumer.Info(ctx)
		if err != nil {
			continue
		}
		m.consumerPending.WithLabelValues(info.Stream, info.Name).Set(float64(info.NumPending))
		m.consumerAckPending.WithLabelValues(info.Stream, info.Name).Set(float64(info.NumAckPending))
		m.consumerRedelivered.WithLabelValues(info.Stream, info.Name).Set(float64(info.NumRedelivered))
	}
}

// startPoller polls consumer state every interval until the returned cancel is called.
func (m *jetstreamMetrics) startPoller(ctx context.Context, interval time.Duration) context.CancelFunc {
	if m == nil {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateStats(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	return cancel
}
