package jetstream

import (
	"context"
	"sync"
	"testing"
	"time"

	njs "github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/colsink/errors"
	"github.com/c360/colsink/message"
	"github.com/c360/colsink/natsclient"
)

// fakeMsg implements the jetstream.Msg methods the source calls.
type fakeMsg struct {
	njs.Msg
	subject string
	data    []byte

	mu     sync.Mutex
	acks   int
	naks   int
	terms  int
	reason string
}

func (m *fakeMsg) Subject() string { return m.subject }
func (m *fakeMsg) Data() []byte    { return m.data }

func (m *fakeMsg) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks++
	return nil
}

func (m *fakeMsg) Nak() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.naks++
	return nil
}

func (m *fakeMsg) TermWithReason(reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terms++
	m.reason = reason
	return nil
}

type fakeClient struct {
	mu       sync.Mutex
	streams  []njs.StreamConfig
	specs    []natsclient.ConsumerSpec
	stopped  []natsclient.ConsumerSpec
	handler  func(njs.Msg)
	started  chan struct{}
	consumeE error
}

func newFakeClient() *fakeClient {
	return &fakeClient{started: make(chan struct{})}
}

func (c *fakeClient) EnsureStream(_ context.Context, cfg njs.StreamConfig) (njs.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams = append(c.streams, cfg)
	return nil, nil
}

func (c *fakeClient) Consume(_ context.Context, spec natsclient.ConsumerSpec, handler func(njs.Msg)) error {
	if c.consumeE != nil {
		return c.consumeE
	}
	c.mu.Lock()
	c.specs = append(c.specs, spec)
	c.handler = handler
	c.mu.Unlock()
	close(c.started)
	return nil
}

func (c *fakeClient) StopConsumer(spec natsclient.ConsumerSpec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = append(c.stopped, spec)
}

func (c *fakeClient) deliver(msg njs.Msg) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	h(msg)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Stream = "EVENTS"
	cfg.Subjects = []string{"events.>"}
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing stream", mutate: func(c *Config) { c.Stream = "" }, wantErr: true},
		{name: "missing durable", mutate: func(c *Config) { c.Durable = "" }, wantErr: true},
		{name: "durable with dot", mutate: func(c *Config) { c.Durable = "a.b" }, wantErr: true},
		{name: "bad ack wait", mutate: func(c *Config) { c.AckWait = "soon" }, wantErr: true},
		{name: "bad deliver policy", mutate: func(c *Config) { c.DeliverPolicy = "sometimes" }, wantErr: true},
		{name: "negative max deliver", mutate: func(c *Config) { c.MaxDeliver = -1 }, wantErr: true},
		{name: "create without subjects", mutate: func(c *Config) { c.CreateStream = true; c.Subjects = nil }, wantErr: true},
		{name: "deliver new", mutate: func(c *Config) { c.DeliverPolicy = "new" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfig_ConsumerSpec(t *testing.T) {
	cfg := testConfig()
	cfg.DeliverPolicy = "new"
	cfg.MaxAckPending = 200

	spec := cfg.consumerSpec("w1")
	assert.Equal(t, "EVENTS", spec.Stream)
	assert.Equal(t, "colsink", spec.Durable)
	assert.Equal(t, "w1", spec.Worker)
	assert.Equal(t, 30*time.Second, spec.AckWait)
	assert.Equal(t, njs.DeliverNewPolicy, spec.DeliverPolicy)
	assert.Equal(t, 200, spec.MaxAckPending)
	assert.Equal(t, DefaultMaxDeliver, spec.MaxDeliver)
}

func TestConfig_EffectiveAckWait(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, 30*time.Second, cfg.EffectiveAckWait())

	cfg.AckWait = "10s"
	assert.Equal(t, 10*time.Second, cfg.EffectiveAckWait())

	cfg.AckWait = ""
	assert.Equal(t, ServerAckWait, cfg.EffectiveAckWait())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, testConfig(), "w", nil)
	assert.True(t, errors.Is(err, errors.ErrMissingConfig))

	_, err = New(newFakeClient(), Config{}, "w", nil)
	assert.Error(t, err)
}

func runSource(t *testing.T, src *Source, client *fakeClient, handler func(context.Context, *message.Record) error) (context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, handler) }()

	select {
	case <-client.started:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer not started")
	}
	return cancel, done
}

func TestSource_DeliversDecodedRecords(t *testing.T) {
	client := newFakeClient()
	src, err := New(client, testConfig(), "w1", nil)
	require.NoError(t, err)

	var got []*message.Record
	cancel, done := runSource(t, src, client, func(_ context.Context, rec *message.Record) error {
		got = append(got, rec)
		return nil
	})

	msg := &fakeMsg{subject: "events.click", data: []byte(`{"id":"r1","n":2}`)}
	client.deliver(msg)

	require.Len(t, got, 1)
	assert.Equal(t, "events.click", got[0].Source)
	assert.Equal(t, []string{"id", "n"}, got[0].Names())
	assert.Same(t, msg, got[0].Token)
	assert.Zero(t, msg.acks, "delivery alone must not ack")

	require.NoError(t, src.Ack(context.Background(), got[0]))
	assert.Equal(t, 1, msg.acks)

	cancel()
	require.NoError(t, <-done)
	assert.Len(t, client.stopped, 1)
	assert.Equal(t, "w1", client.stopped[0].Worker)
	assert.Equal(t, int64(1), src.Delivered())
}

func TestSource_TerminatesUndecodable(t *testing.T) {
	client := newFakeClient()
	src, err := New(client, testConfig(), "w1", nil)
	require.NoError(t, err)

	calls := 0
	cancel, done := runSource(t, src, client, func(context.Context, *message.Record) error {
		calls++
		return nil
	})
	defer func() {
		cancel()
		<-done
	}()

	msg := &fakeMsg{subject: "events.bad", data: []byte(`[1,2,3]`)}
	client.deliver(msg)

	assert.Zero(t, calls)
	assert.Equal(t, 1, msg.terms)
	assert.Equal(t, "undecodable payload", msg.reason)
	assert.Equal(t, int64(1), src.Terminated())
}

func TestSource_NaksRejectedRecords(t *testing.T) {
	client := newFakeClient()
	src, err := New(client, testConfig(), "w1", nil)
	require.NoError(t, err)

	cancel, done := runSource(t, src, client, func(context.Context, *message.Record) error {
		return errors.ErrShuttingDown
	})
	defer func() {
		cancel()
		<-done
	}()

	msg := &fakeMsg{subject: "events.x", data: []byte(`{"a":"1"}`)}
	client.deliver(msg)
	assert.Equal(t, 1, msg.naks)
	assert.Zero(t, msg.acks)
}

func TestSource_CreateStream(t *testing.T) {
	client := newFakeClient()
	cfg := testConfig()
	cfg.CreateStream = true
	src, err := New(client, cfg, "w1", nil)
	require.NoError(t, err)

	cancel, done := runSource(t, src, client, func(context.Context, *message.Record) error { return nil })
	cancel()
	require.NoError(t, <-done)

	require.Len(t, client.streams, 1)
	assert.Equal(t, "EVENTS", client.streams[0].Name)
	assert.Equal(t, []string{"events.>"}, client.streams[0].Subjects)
}

func TestSource_ConsumeFailure(t *testing.T) {
	client := newFakeClient()
	client.consumeE = errors.WrapTransient(errors.ErrNoConnection, "Client", "Consume", "connect")
	src, err := New(client, testConfig(), "w1", nil)
	require.NoError(t, err)

	err = src.Run(context.Background(), func(context.Context, *message.Record) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.NoError(t, src.Close(context.Background()))
	assert.Empty(t, client.stopped)
}

func TestSource_AckForeignToken(t *testing.T) {
	src, err := New(newFakeClient(), testConfig(), "w1", nil)
	require.NoError(t, err)

	err = src.Ack(context.Background(), message.NewRecord("not-a-msg"))
	assert.True(t, errors.Is(err, errors.ErrInvalidData))

	err = src.Ack(context.Background(), nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidData))
}

func TestSource_Name(t *testing.T) {
	src, err := New(newFakeClient(), testConfig(), "w1", nil)
	require.NoError(t, err)
	assert.Equal(t, "jetstream:EVENTS/colsink", src.Name())
}
