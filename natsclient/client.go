package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/colsink/errors"
	"github.com/c360/colsink/metric"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrClosed       = stderrors.New("client is closed")
)

// ConsumerSpec describes a durable pull consumer with explicit acknowledgment.
type ConsumerSpec struct {
	Stream         string
	Durable        string
	FilterSubjects []string
	AckWait        time.Duration
	MaxDeliver     int
	MaxAckPending  int
	DeliverPolicy  jetstream.DeliverPolicy

	// Worker distinguishes concurrent consume loops sharing one durable consumer.
	Worker string
}

func (s ConsumerSpec) key() string {
	if s.Worker == "" {
		return s.Stream + ":" + s.Durable
	}
	return s.Stream + ":" + s.Durable + ":" + s.Worker
}

func (s ConsumerSpec) config() jetstream.ConsumerConfig {
	cfg := jetstream.ConsumerConfig{
		Durable:       s.Durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       s.AckWait,
		MaxDeliver:    s.MaxDeliver,
		MaxAckPending: s.MaxAckPending,
		DeliverPolicy: s.DeliverPolicy,
	}
	switch len(s.FilterSubjects) {
	case 0:
	case 1:
		cfg.FilterSubject = s.FilterSubjects[0]
	default:
		cfg.FilterSubjects = s.FilterSubjects
	}
	return cfg
}

// Client owns one NATS connection and the JetStream consumers created on it.
type Client struct {
	url      string
	status   atomic.Value // ConnectionStatus
	failures atomic.Int32
	logger   *slog.Logger

	conn *nats.Conn
	js   jetstream.JetStream

	consumers   map[string]jetstream.ConsumeContext
	consumersMu sync.Mutex

	// Connection options
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	// Authentication, cleared on close
	username string
	password string
	token    string

	tlsEnabled  bool
	tlsCertFile string
	tlsKeyFile  string
	tlsCAFile   string

	clientName string

	jsMetrics       *jetstreamMetrics
	core            *metric.Metrics
	metricsCancel   context.CancelFunc
	metricsInterval time.Duration

	onDisconnect   func(error)
	onReconnect    func()
	onHealthChange func(bool)

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:             url,
		logger:          slog.Default().With("component", "natsclient"),
		maxReconnects:   -1,
		reconnectWait:   2 * time.Second,
		pingInterval:    30 * time.Second,
		timeout:         5 * time.Second,
		drainTimeout:    30 * time.Second,
		metricsInterval: 30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	return c, nil
}

// URL returns the NATS server URL
func (m *Client) URL() string {
	return m.url
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	val := m.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(status)
	m.core.RecordNATSStatus(status == StatusConnected)
}

// IsHealthy returns true if the connection is healthy
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

// Failures returns the number of failed connection attempts since the last success
func (m *Client) Failures() int32 {
	return m.failures.Load()
}

// GetConnection returns the current NATS connection
func (m *Client) GetConnection() *nats.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

// WaitForConnection waits for the connection to be established
func (m *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if m.IsHealthy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrConnectionTimeout, ctx.Err()),
				"Client", "WaitForConnection", "wait for connection")
		case <-ticker.C:
		}
	}
}

func (m *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(m.maxReconnects),
		nats.ReconnectWait(m.reconnectWait),
		nats.PingInterval(m.pingInterval),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(m.drainTimeout),
		nats.DisconnectErrHandler(m.handleDisconnect),
		nats.ReconnectHandler(m.handleReconnect),
		nats.ClosedHandler(m.handleClosed),
		nats.ErrorHandler(m.handleError),
	}

	if m.username != "" && m.password != "" {
		opts = append(opts, nats.UserInfo(m.username, m.password))
	}
	if m.token != "" {
		opts = append(opts, nats.Token(m.token))
	}
	if m.tlsEnabled {
		if m.tlsCertFile != "" && m.tlsKeyFile != "" {
			opts = append(opts, nats.ClientCert(m.tlsCertFile, m.tlsKeyFile))
		}
		if m.tlsCAFile != "" {
			opts = append(opts, nats.RootCAs(m.tlsCAFile))
		}
	}
	if m.clientName != "" {
		opts = append(opts, nats.Name(m.clientName))
	}

	return opts
}

// Connect establishes the connection and the JetStream context.
func (m *Client) Connect(ctx context.Context) error {
	if m.closed.Load() {
		return errors.WrapFatal(ErrClosed, "Client", "Connect", "check client state")
	}

	m.setStatus(StatusConnecting)
	m.logger.Info("Connecting to NATS", "url", m.url)

	opts := m.buildConnectionOptions()

	type result struct {
		conn *nats.Conn
		js   jetstream.JetStream
		err  error
	}
	connectDone := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(m.url, opts...)
		if err != nil {
			connectDone <- result{err: err}
			return
		}
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			connectDone <- result{err: err}
			return
		}
		connectDone <- result{conn: conn, js: js}
	}()

	select {
	case res := <-connectDone:
		if res.err != nil {
			m.failures.Add(1)
			m.setStatus(StatusDisconnected)
			return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrNoConnection, res.err),
				"Client", "Connect", "establish connection")
		}
		m.mu.Lock()
		m.conn = res.conn
		m.js = res.js
		m.mu.Unlock()
	case <-ctx.Done():
		m.failures.Add(1)
		m.setStatus(StatusDisconnected)
		// drop a connection that completes after we gave up
		go func() {
			if res := <-connectDone; res.conn != nil {
				res.conn.Close()
			}
		}()
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	m.failures.Store(0)
	m.setStatus(StatusConnected)
	m.logger.Info("Connected to NATS", "url", m.url)

	if m.jsMetrics != nil && m.metricsInterval > 0 {
		m.metricsCancel = m.jsMetrics.startPoller(context.Background(), m.metricsInterval)
	}

	m.mu.RLock()
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()
	if onHealthChange != nil {
		onHealthChange(true)
	}

	return nil
}

// Close stops all consumers and drains the connection. Buffered acks are
// flushed by the drain before the connection closes.
func (m *Client) Close(ctx context.Context) error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	if m.closed.Load() {
		return nil
	}
	m.closed.Store(true)

	if m.metricsCancel != nil {
		m.metricsCancel()
	}

	m.consumersMu.Lock()
	for key, cc := range m.consumers {
		cc.Stop()
		m.logger.Debug("Stopped consumer", "consumer", key)
	}
	m.consumers = nil
	m.consumersMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	var closeErr error
	if m.conn != nil {
		drainTimeout := m.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		drainDone := make(chan error, 1)
		conn := m.conn
		go func() {
			drainDone <- conn.Drain()
		}()

		timer := time.NewTimer(drainTimeout)
		select {
		case err := <-drainDone:
			if err != nil {
				closeErr = errors.Wrap(err, "Client", "Close", "drain connection")
			}
		case <-timer.C:
			closeErr = errors.WrapTransient(fmt.Errorf("drain timeout after %v", drainTimeout),
				"Client", "Close", "drain connection")
		case <-ctx.Done():
			closeErr = errors.Wrap(ctx.Err(), "Client", "Close", "drain connection")
		}
		timer.Stop()

		if closeErr != nil {
			m.logger.Error("NATS drain failed, closing", "error", closeErr)
		}
		conn.Close()
		m.conn = nil
		m.js = nil
	}

	m.username = ""
	m.password = ""
	m.token = ""
	m.setStatus(StatusDisconnected)

	return closeErr
}

// RTT returns the round-trip time to the NATS server
func (m *Client) RTT() (time.Duration, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return 0, ErrNotConnected
	}
	rtt, err := conn.RTT()
	if err == nil {
		m.core.RecordNATSRTT(rtt)
	}
	return rtt, err
}

// JetStream returns the JetStream context
func (m *Client) JetStream() (jetstream.JetStream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.js == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "JetStream", "get JetStream context")
	}
	return m.js, nil
}

// EnsureStream creates the stream or updates it to cfg.
func (m *Client) EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	js, err := m.JetStream()
	if err != nil {
		return nil, err
	}

	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		m.jsMetrics.recordError("ensure_stream")
		return nil, errors.WrapTransient(err, "Client", "EnsureStream", fmt.Sprintf("create stream %s", cfg.Name))
	}
	return stream, nil
}

// PublishToStream publishes to a JetStream stream and waits for the ack
func (m *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	js, err := m.JetStream()
	if err != nil {
		return err
	}
	if _, err := js.Publish(ctx, subject, data); err != nil {
		m.jsMetrics.recordError("publish")
		return errors.WrapTransient(err, "Client", "PublishToStream", "publish")
	}
	return nil
}

// Consume creates or updates the durable consumer described by spec and
// delivers every message to handler. The handler owns acknowledgment.
// Consuming again with the same stream, durable name and worker replaces the
// previous consume loop.
func (m *Client) Consume(ctx context.Context, spec ConsumerSpec, handler func(jetstream.Msg)) error {
	if m.closed.Load() {
		return errors.WrapFatal(ErrClosed, "Client", "Consume", "check client state")
	}
	if spec.Stream == "" || spec.Durable == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Client", "Consume", "stream and durable name required")
	}

	js, err := m.JetStream()
	if err != nil {
		return err
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, spec.Stream, spec.config())
	if err != nil {
		m.jsMetrics.recordError("create_consumer")
		return errors.WrapTransient(err, "Client", "Consume",
			fmt.Sprintf("create consumer %s on %s", spec.Durable, spec.Stream))
	}
	m.jsMetrics.trackConsumer(spec.Stream, spec.Durable, consumer)

	cc, err := consumer.Consume(handler)
	if err != nil {
		m.jsMetrics.recordError("consume")
		return errors.WrapTransient(err, "Client", "Consume", "start consume loop")
	}

	m.consumersMu.Lock()
	defer m.consumersMu.Unlock()

	if m.closed.Load() {
		cc.Stop()
		return errors.WrapFatal(ErrClosed, "Client", "Consume", "register consumer")
	}
	if m.consumers == nil {
		m.consumers = make(map[string]jetstream.ConsumeContext)
	}
	key := spec.key()
	if existing, ok := m.consumers[key]; ok {
		existing.Stop()
		m.logger.Debug("Replaced existing consumer", "consumer", key)
	}
	m.consumers[key] = cc

	m.logger.Info("Consuming stream",
		"stream", spec.Stream,
		"durable", spec.Durable,
		"worker", spec.Worker,
		"subjects", spec.FilterSubjects)
	return nil
}

// StopConsumer stops the consume loop started with spec. The durable
// consumer itself is kept on the server.
func (m *Client) StopConsumer(spec ConsumerSpec) {
	m.consumersMu.Lock()
	defer m.consumersMu.Unlock()

	key := spec.key()
	if cc, ok := m.consumers[key]; ok {
		cc.Stop()
		delete(m.consumers, key)
	}
}

// Event handlers for NATS connection
func (m *Client) handleDisconnect(_ *nats.Conn, err error) {
	if m.closed.Load() {
		return
	}
	m.setStatus(StatusReconnecting)
	m.logger.Warn("NATS disconnected", "error", err)

	m.mu.RLock()
	onDisconnect := m.onDisconnect
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()

	if onDisconnect != nil {
		go onDisconnect(err)
	}
	if onHealthChange != nil {
		go onHealthChange(false)
	}
}

func (m *Client) handleReconnect(_ *nats.Conn) {
	m.setStatus(StatusConnected)
	m.core.RecordNATSReconnect()
	m.logger.Info("NATS reconnected", "url", m.url)

	m.mu.RLock()
	onReconnect := m.onReconnect
	onHealthChange := m.onHealthChange
	m.mu.RUnlock()

	if onReconnect != nil {
		go onReconnect()
	}
	if onHealthChange != nil {
		go onHealthChange(true)
	}
}

func (m *Client) handleClosed(_ *nats.Conn) {
	m.setStatus(StatusDisconnected)
}

func (m *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	subject := ""
	if sub != nil {
		subject = sub.Subject
	}
	m.logger.Error("NATS error", "subject", subject, "error", err)
}

// StreamConfig returns a file-backed limits stream capturing subjects.
func StreamConfig(name string, subjects []string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
	}
}
