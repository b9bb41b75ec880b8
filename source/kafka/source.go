// Package kafka reads sink records from Kafka topics as a consumer group
// member.
//
// Ack marks a record's offset for commit; marked offsets are committed in the
// background and once more on Close. Kafka keeps one committed offset per
// partition, so a record is marked only after every earlier record of its
// partition was acknowledged. When an ack arrives while earlier records are
// still unacknowledged, those records belonged to a batch that failed: the
// partition is rewound to the first of them and fetched again, and nothing
// past it is committed until it is acknowledged.
package kafka

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/c360/colsink/errors"
	"github.com/c360/colsink/message"
	"github.com/c360/colsink/sink"
	"github.com/c360/colsink/source"
)

// Client is the part of *kgo.Client a Source needs.
type Client interface {
	PollFetches(ctx context.Context) kgo.Fetches
	MarkCommitRecords(rs ...*kgo.Record)
	CommitMarkedOffsets(ctx context.Context) error
	SetOffsets(setOffsets map[string]map[int32]kgo.EpochOffset)
	Close()
}

var _ Client = (*kgo.Client)(nil)

// Source is one consumer group member.
type Source struct {
	client Client
	cfg    Config
	logger *slog.Logger

	// nil when records are never acknowledged
	offsets *offsetTracker

	delivered atomic.Int64
	skipped   atomic.Int64
	rewinds   atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

var _ source.Source = (*Source)(nil)

// Option configures a Source
type Option func(*Source)

// WithAckPolicy tells the source how the sink acknowledges records. Under
// AckIgnore nothing is ever acknowledged, so offsets are not tracked.
func WithAckPolicy(policy sink.AckPolicy) Option {
	return func(s *Source) {
		if policy == sink.AckIgnore {
			s.offsets = nil
		}
	}
}

// New creates a group member for worker. Brokers are contacted lazily on the
// first poll.
func New(cfg Config, worker string, logger *slog.Logger, opts ...Option) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := newSource(cfg, worker, logger, opts...)
	kopts := cfg.options(worker)
	if s.offsets != nil {
		kopts = append(kopts,
			kgo.OnPartitionsRevoked(s.onPartitionsLost),
			kgo.OnPartitionsLost(s.onPartitionsLost),
		)
	}
	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"KafkaSource", "New", "create client")
	}
	s.client = client
	return s, nil
}

func newWithClient(client Client, cfg Config, worker string, logger *slog.Logger, opts ...Option) *Source {
	s := newSource(cfg, worker, logger, opts...)
	s.client = client
	return s
}

func newSource(cfg Config, worker string, logger *slog.Logger, opts ...Option) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Source{
		cfg:     cfg,
		logger:  logger.With("source", source.TypeKafka, "group", cfg.Group, "worker", worker),
		offsets: newOffsetTracker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Source) onPartitionsLost(_ context.Context, _ *kgo.Client, lost map[string][]int32) {
	s.offsets.forget(lost)
}

// Name identifies the consumer in logs and health reports
func (s *Source) Name() string {
	return fmt.Sprintf("%s:%s", source.TypeKafka, s.cfg.Group)
}

// Run polls and hands records to handler in partition order until ctx is
// cancelled or the client is closed.
func (s *Source) Run(ctx context.Context, handler source.Handler) error {
	if handler == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "KafkaSource", "Run", "handler is required")
	}

	for {
		fetches := s.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		var polledAt uint64
		if s.offsets != nil {
			polledAt = s.offsets.currentEpoch()
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			if stderrors.Is(err, context.Canceled) {
				return
			}
			s.logger.Warn("Fetch error", "topic", topic, "partition", partition, "error", err)
		})

		fetches.EachRecord(func(r *kgo.Record) {
			if s.offsets != nil && s.offsets.stale(r, polledAt) {
				return
			}
			s.handle(ctx, r, handler)
		})
	}
}

func (s *Source) handle(ctx context.Context, r *kgo.Record, handler source.Handler) {
	s.delivered.Add(1)
	origin := fmt.Sprintf("%s/%d@%d", r.Topic, r.Partition, r.Offset)
	if s.offsets != nil {
		s.offsets.deliver(r)
	}

	rec, err := message.DecodeJSON(r, r.Value)
	if err != nil {
		s.skipped.Add(1)
		s.logger.Warn("Skipping undecodable record", "record", origin, "error", err)
		if s.offsets == nil {
			s.client.MarkCommitRecords(r)
		} else if mark := s.offsets.skip(r); mark != nil {
			s.client.MarkCommitRecords(mark)
		}
		return
	}
	rec.Source = origin

	if err := handler(ctx, rec); err != nil {
		s.logger.Debug("Handler rejected record", "record", origin, "error", err)
	}
}

// Ack marks the Kafka record behind rec for commit once every earlier record
// of its partition is acknowledged. An ack that skips unacknowledged records
// rewinds the partition to the first of them instead.
func (s *Source) Ack(_ context.Context, rec *message.Record) error {
	if rec == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "KafkaSource", "Ack", "nil record")
	}
	r, ok := rec.Token.(*kgo.Record)
	if !ok || r == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: token %T is not a Kafka record", errors.ErrInvalidData, rec.Token),
			"KafkaSource", "Ack", "check token")
	}
	if s.offsets == nil {
		s.client.MarkCommitRecords(r)
		return nil
	}

	mark, rw := s.offsets.ack(r)
	if mark != nil {
		s.client.MarkCommitRecords(mark)
	}
	if rw != nil {
		s.rewinds.Add(1)
		s.logger.Warn("Rewinding partition to unacknowledged records",
			"topic", rw.tp.topic, "partition", rw.tp.partition, "offset", rw.offset,
			"acked_offset", r.Offset)
		s.client.SetOffsets(map[string]map[int32]kgo.EpochOffset{
			rw.tp.topic: {rw.tp.partition: {Epoch: -1, Offset: rw.offset}},
		})
	}
	return nil
}

// Close commits marked offsets and leaves the group.
func (s *Source) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		if err := s.client.CommitMarkedOffsets(ctx); err != nil {
			s.closeErr = errors.WrapTransient(err, "KafkaSource", "Close", "commit marked offsets")
		}
		s.client.Close()
	})
	return s.closeErr
}

// Delivered returns the number of records polled
func (s *Source) Delivered() int64 {
	return s.delivered.Load()
}

// Skipped returns the number of undecodable records marked without delivery
func (s *Source) Skipped() int64 {
	return s.skipped.Load()
}

// Rewinds returns how often a partition was rewound to replay records of an
// unacknowledged batch.
func (s *Source) Rewinds() int64 {
	return s.rewinds.Load()
}
