package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/colsink/errors"
	"github.com/c360/colsink/message"
	"github.com/c360/colsink/resolver"
)

// DefaultBatchSize is used when Config.BatchSize is not set.
const DefaultBatchSize = 100

// Config configures one Sink.
type Config struct {
	// BatchSize is the flush threshold T. Values below 1 mean DefaultBatchSize.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
	// FlushInterval, when positive, also flushes a partially filled buffer
	// on this period while Run is active.
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
	AckPolicy     AckPolicy     `json:"ack_policy" yaml:"ack_policy"`
}

// Stats is a point-in-time snapshot of sink counters.
type Stats struct {
	Received       int64
	Buffered       int
	BatchesOK      int64
	BatchesFailed  int64
	Insertions     int64
	Acked          int64
	AckErrors      int64
	LastFlush      time.Time
	LastFlushError error
}

// Option configures a Sink.
type Option func(*Sink)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets shared metrics. Nil disables metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Sink) {
		s.metrics = m
	}
}

// WithInstance sets the instance label used in logs and metrics.
func WithInstance(id string) Option {
	return func(s *Sink) {
		if id != "" {
			s.instance = id
		}
	}
}

// Sink receives records one at a time, writes them to the store in batches of
// BatchSize and acknowledges them upstream according to the ack policy.
//
// A Sink is safe for concurrent use. Flushes are serialised so that the
// outcome of every batch is observed before the next batch starts.
type Sink struct {
	cfg      Config
	logger   *slog.Logger
	metrics  *Metrics
	instance string

	writer *Writer
	coord  *Coordinator
	acc    *Accumulator

	mu     sync.Mutex
	closed bool

	received      int64
	batchesOK     int64
	batchesFailed int64
	insertions    int64
	lastFlush     time.Time
	lastFlushErr  error
}

// New creates a sink over store. The store handle is owned by the caller and
// is not closed by the sink.
func New(cfg Config, store Store, tables resolver.TableResolver, rows resolver.RowKeyResolver,
	acker Acknowledger, opts ...Option,
) (*Sink, error) {
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Sink", "New", "store required")
	}
	if tables == nil || rows == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Sink", "New", "table and row key resolvers required")
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultBatchSize
	}

	s := &Sink{
		cfg:      cfg,
		logger:   slog.Default(),
		instance: "sink",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("instance", s.instance)

	coord, err := NewCoordinator(cfg.AckPolicy, acker, s.logger)
	if err != nil {
		return nil, err
	}
	coord.metrics = s.metrics
	coord.instance = s.instance

	s.coord = coord
	s.writer = NewWriter(store, tables, rows, s.logger)
	s.acc = NewAccumulator(s.writer, cfg.BatchSize, s.observe)

	return s, nil
}

// Append hands one record to the sink. Under AckOnReceive the record is
// acknowledged before it is buffered. When the buffer reaches BatchSize the
// batch is written before Append returns.
//
// The returned error is non-nil only when the sink is closed; write failures
// are reported through metrics, logs and Stats, never to the caller.
func (s *Sink) Append(ctx context.Context, rec *message.Record) error {
	if rec == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "Sink", "Append", "nil record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.WrapFatal(errors.ErrShuttingDown, "Sink", "Append", "append after close")
	}

	s.received++
	s.coord.OnReceive(ctx, rec)
	s.acc.Append(ctx, rec)
	s.metrics.recordReceived(s.instance, s.acc.Len())
	return nil
}

// Flush writes any buffered records now. It reports whether a batch was written.
func (s *Sink) Flush(ctx context.Context) (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acc.Flush(ctx)
}

// Run flushes partially filled batches every FlushInterval until ctx is done.
// It returns immediately when FlushInterval is not positive.
func (s *Sink) Run(ctx context.Context) {
	if s.cfg.FlushInterval <= 0 {
		return
	}

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			if out, flushed := s.Flush(ctx); flushed {
				s.logger.Debug("Interval flush", "records", len(out.Records), "success", out.Success)
			}
		}
	}
}

// Close flushes the remaining buffer and rejects further records. Calling
// Close more than once is a no-op.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	out, flushed := s.acc.Flush(ctx)
	if flushed && !out.Success {
		return errors.Wrap(out.Err, "Sink", "Close", fmt.Sprintf("final flush of %d records", len(out.Records)))
	}
	return nil
}

// Stats returns a snapshot of the sink counters.
func (s *Sink) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Received:       s.received,
		Buffered:       s.acc.Len(),
		BatchesOK:      s.batchesOK,
		BatchesFailed:  s.batchesFailed,
		Insertions:     s.insertions,
		Acked:          s.coord.Acked(),
		AckErrors:      s.coord.AckErrors(),
		LastFlush:      s.lastFlush,
		LastFlushError: s.lastFlushErr,
	}
}

// Config returns the effective configuration.
func (s *Sink) Config() Config {
	return s.cfg
}

// observe runs with s.mu held, after the accumulator cleared its buffer.
func (s *Sink) observe(ctx context.Context, out Outcome) {
	s.lastFlush = time.Now()
	if out.Success {
		s.batchesOK++
		s.insertions += int64(out.Insertions)
		s.lastFlushErr = nil
	} else {
		s.batchesFailed++
		s.lastFlushErr = out.Err
	}
	s.metrics.recordFlush(s.instance, out, s.acc.Len())
	s.coord.OnOutcome(ctx, out)
}
