// Package jetstream reads sink records from a durable NATS JetStream consumer.
//
// Each message payload must be a JSON object; it is decoded into a Record whose
// Token is the jetstream.Msg, so Ack maps onto an explicit JetStream ack.
// Payloads that cannot be decoded are terminated so they are not redelivered.
package jetstream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	njs "github.com/nats-io/nats.go/jetstream"

	"github.com/c360/colsink/errors"
	"github.com/c360/colsink/message"
	"github.com/c360/colsink/natsclient"
	"github.com/c360/colsink/source"
)

// Client is the part of natsclient.Client a Source needs.
type Client interface {
	EnsureStream(ctx context.Context, cfg njs.StreamConfig) (njs.Stream, error)
	Consume(ctx context.Context, spec natsclient.ConsumerSpec, handler func(njs.Msg)) error
	StopConsumer(spec natsclient.ConsumerSpec)
}

var _ Client = (*natsclient.Client)(nil)

// Source is one worker's consume loop on a shared durable consumer.
type Source struct {
	client Client
	cfg    Config
	spec   natsclient.ConsumerSpec
	logger *slog.Logger

	delivered  atomic.Int64
	terminated atomic.Int64

	mu      sync.Mutex
	running bool
}

var _ source.Source = (*Source)(nil)

// New creates a Source for worker. Workers sharing cfg.Durable split the
// stream's messages between them.
func New(client Client, cfg Config, worker string, logger *slog.Logger) (*Source, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "JetStreamSource", "New", "NATS client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		client: client,
		cfg:    cfg,
		spec:   cfg.consumerSpec(worker),
		logger: logger.With("source", source.TypeJetStream, "stream", cfg.Stream, "worker", worker),
	}, nil
}

// Name identifies the consumer in logs and health reports
func (s *Source) Name() string {
	return fmt.Sprintf("%s:%s/%s", source.TypeJetStream, s.cfg.Stream, s.cfg.Durable)
}

// Run starts consuming and blocks until ctx is cancelled.
func (s *Source) Run(ctx context.Context, handler source.Handler) error {
	if handler == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "JetStreamSource", "Run", "handler is required")
	}

	if s.cfg.CreateStream {
		if _, err := s.client.EnsureStream(ctx, natsclient.StreamConfig(s.cfg.Stream, s.cfg.Subjects)); err != nil {
			return errors.Wrap(err, "JetStreamSource", "Run", "ensure stream")
		}
	}

	err := s.client.Consume(ctx, s.spec, func(msg njs.Msg) {
		s.handle(ctx, msg, handler)
	})
	if err != nil {
		return errors.Wrap(err, "JetStreamSource", "Run", "start consumer")
	}

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	<-ctx.Done()
	s.stop()
	return nil
}

func (s *Source) handle(ctx context.Context, msg njs.Msg, handler source.Handler) {
	s.delivered.Add(1)

	rec, err := message.DecodeJSON(msg, msg.Data())
	if err != nil {
		s.terminated.Add(1)
		s.logger.Warn("Dropping undecodable message", "subject", msg.Subject(), "error", err)
		if termErr := msg.TermWithReason("undecodable payload"); termErr != nil {
			s.logger.Error("Failed to terminate message", "subject", msg.Subject(), "error", termErr)
		}
		return
	}
	rec.Source = msg.Subject()

	if err := handler(ctx, rec); err != nil {
		s.logger.Debug("Handler rejected message, requesting redelivery", "subject", msg.Subject(), "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			s.logger.Error("Failed to nak message", "subject", msg.Subject(), "error", nakErr)
		}
	}
}

// Ack acknowledges the JetStream message behind rec.
func (s *Source) Ack(_ context.Context, rec *message.Record) error {
	if rec == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "JetStreamSource", "Ack", "nil record")
	}
	msg, ok := rec.Token.(njs.Msg)
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("%w: token %T is not a JetStream message", errors.ErrInvalidData, rec.Token),
			"JetStreamSource", "Ack", "check token")
	}
	if err := msg.Ack(); err != nil {
		return errors.WrapTransient(err, "JetStreamSource", "Ack", "ack message")
	}
	return nil
}

// Close stops the consume loop. Unacknowledged messages are redelivered after
// the consumer's ack wait.
func (s *Source) Close(_ context.Context) error {
	s.stop()
	return nil
}

func (s *Source) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.client.StopConsumer(s.spec)
}

// Delivered returns the number of messages received
func (s *Source) Delivered() int64 {
	return s.delivered.Load()
}

// Terminated returns the number of undecodable messages dropped
func (s *Source) Terminated() int64 {
	return s.terminated.Load()
}
