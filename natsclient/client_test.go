package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/colsink/errors"
	"github.com/c360/colsink/metric"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Nil(t, client.GetConnection())
}

func TestNewClient_Options(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithMaxReconnects(3),
		WithReconnectWait(time.Second),
		WithPingInterval(5*time.Second),
		WithTimeout(time.Second),
		WithDrainTimeout(2*time.Second),
		WithCredentials("user", "pass"),
		WithName("colsink-test"),
		WithMetricsInterval(0),
	)
	require.NoError(t, err)

	assert.Equal(t, 3, client.maxReconnects)
	assert.Equal(t, time.Second, client.reconnectWait)
	assert.Equal(t, 2*time.Second, client.drainTimeout)
	assert.Equal(t, "colsink-test", client.clientName)
	// handlers + auth + name
	assert.Len(t, client.buildConnectionOptions(), 11)
}

func TestNewClient_MetricsRegistrationError(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	_, err := NewClient("nats://localhost:4222", WithMetrics(registry))
	require.NoError(t, err)

	// a second client on the same registry collides
	_, err = NewClient("nats://localhost:4222", WithMetrics(registry))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "unknown", ConnectionStatus(99).String())
}

func TestConnect_Unreachable(t *testing.T) {
	client, err := NewClient("nats://127.0.0.1:1", WithTimeout(200*time.Millisecond), WithMaxReconnects(0))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = client.Connect(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, int32(1), client.Failures())
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestOperationsWithoutConnection(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = client.JetStream()
	assert.True(t, errors.Is(err, ErrNotConnected))

	_, err = client.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)

	err = client.Consume(ctx, ConsumerSpec{Stream: "S", Durable: "d"}, func(jetstream.Msg) {})
	assert.True(t, errors.Is(err, ErrNotConnected))

	err = client.Consume(ctx, ConsumerSpec{Stream: "S"}, func(jetstream.Msg) {})
	assert.True(t, errors.Is(err, errors.ErrMissingConfig))

	err = client.PublishToStream(ctx, "x", []byte("y"))
	assert.Error(t, err)
}

func TestClose_Idempotent(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	require.NoError(t, client.Close(context.Background()))
	require.NoError(t, client.Close(context.Background()))

	err = client.Connect(context.Background())
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.IsFatal(err))
}

func TestWaitForConnection_Timeout(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err = client.WaitForConnection(ctx)
	assert.True(t, errors.Is(err, errors.ErrConnectionTimeout))
}

func TestConsumerSpec_Config(t *testing.T) {
	spec := ConsumerSpec{
		Stream:        "EVENTS",
		Durable:       "colsink",
		AckWait:       30 * time.Second,
		MaxAckPending: 500,
	}

	cfg := spec.config()
	assert.Equal(t, "colsink", cfg.Durable)
	assert.Equal(t, jetstream.AckExplicitPolicy, cfg.AckPolicy)
	assert.Empty(t, cfg.FilterSubject)
	assert.Empty(t, cfg.FilterSubjects)

	spec.FilterSubjects = []string{"events.>"}
	assert.Equal(t, "events.>", spec.config().FilterSubject)

	spec.FilterSubjects = []string{"events.a", "events.b"}
	cfg = spec.config()
	assert.Empty(t, cfg.FilterSubject)
	assert.Equal(t, []string{"events.a", "events.b"}, cfg.FilterSubjects)
}

func TestStreamConfig(t *testing.T) {
	cfg := StreamConfig("EVENTS", []string{"events.>"})
	assert.Equal(t, "EVENTS", cfg.Name)
	assert.Equal(t, []string{"events.>"}, cfg.Subjects)
	assert.Equal(t, jetstream.FileStorage, cfg.Storage)
}
