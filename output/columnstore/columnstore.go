package columnstore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360/colsink/component"
	"github.com/c360/colsink/errors"
	"github.com/c360/colsink/message"
	"github.com/c360/colsink/metric"
	"github.com/c360/colsink/resolver"
	"github.com/c360/colsink/sink"
	"github.com/c360/colsink/source"
	"github.com/c360/colsink/source/jetstream"
	"github.com/c360/colsink/source/kafka"
	"github.com/c360/colsink/storage"
	"github.com/c360/colsink/storage/cassandra"
	"github.com/c360/colsink/storage/memory"
)

const defaultShutdownTimeout = 30 * time.Second

// abortTimeout bounds closing connections after workers missed the shutdown
// deadline.
const abortTimeout = 5 * time.Second

type storeFactory func(ctx context.Context, worker string, logger *slog.Logger) (storage.Backend, error)

type sourceFactory func(worker string, logger *slog.Logger) (source.Source, error)

// worker is one sink instance with the store and upstream it owns
type worker struct {
	id     string
	store  storage.Backend
	source source.Source
	sink   *sink.Sink
}

// Output reads records from a source and writes them to a column store in
// batches, acknowledging them upstream according to the ack policy.
type Output struct {
	name   string
	config Config
	deps   component.Dependencies
	logger *slog.Logger

	tables resolver.TableResolver
	rows   resolver.RowKeyResolver

	newStore  storeFactory
	newSource sourceFactory

	metrics *sink.Metrics
	core    *metric.Metrics

	lifecycleMu sync.Mutex

	mu        sync.RWMutex
	workers   []*worker
	retired   []sink.Stats
	running   bool
	startTime time.Time
	runID     string
	cancel    context.CancelFunc
	done      chan struct{}
	lastError error
}

// NewOutput creates a column store output from configuration
func NewOutput(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	config := DefaultConfig()
	if err := component.SafeUnmarshal(rawConfig, &config); err != nil {
		return nil, errors.WrapInvalid(err, "Output", "NewOutput", "config unmarshal")
	}

	tables, err := resolver.NewTableResolver(config.Table)
	if err != nil {
		return nil, errors.Wrap(err, "Output", "NewOutput", "table resolver")
	}
	rows, err := resolver.NewRowKeyResolver(config.RowKey)
	if err != nil {
		return nil, errors.Wrap(err, "Output", "NewOutput", "row key resolver")
	}

	o := &Output{
		name:   config.Name,
		config: config,
		deps:   deps,
		logger: deps.GetLoggerWithComponent(config.Name),
		tables: tables,
		rows:   rows,
		core:   deps.MetricsRegistry.CoreMetrics(),
	}
	o.newStore = o.openStore
	o.newSource = o.openSource
	return o, nil
}

// Initialize registers the sink metrics. No connections are opened.
func (o *Output) Initialize() error {
	metrics, err := sink.NewMetrics(o.deps.MetricsRegistry, o.name)
	if err != nil {
		return errors.WrapFatal(err, "Output", "Initialize", "register sink metrics")
	}
	o.metrics = metrics
	return nil
}

// Start opens a store session and an upstream consumer per worker and begins
// consuming. A store that cannot be reached fails Start.
func (o *Output) Start(ctx context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	o.mu.RLock()
	running := o.running
	o.mu.RUnlock()
	if running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Output", "Start", "check running state")
	}

	runID := uuid.NewString()
	logger := o.logger.With("run_id", runID)
	logger.Info("Starting column store output",
		"workers", o.config.Workers,
		"source", o.config.Source.Type,
		"store", o.config.Store.Driver,
		"batch_size", o.config.BatchSize,
		"ack_policy", o.config.AckPolicy.String())

	workers := make([]*worker, 0, o.config.Workers)
	for i := 0; i < o.config.Workers; i++ {
		w, err := o.buildWorker(ctx, fmt.Sprintf("%s-%d", o.name, i), logger)
		if err != nil {
			o.closeWorkers(context.Background(), workers)
			return err
		}
		workers = append(workers, w)
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	for _, w := range workers {
		group.Go(func() error {
			return o.runWorker(groupCtx, w)
		})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := group.Wait(); err != nil {
			o.mu.Lock()
			o.lastError = err
			o.mu.Unlock()
			o.core.RecordError(o.name, errors.Classify(err).String())
			logger.Error("Column store output worker failed", "error", err)
		}
	}()

	o.mu.Lock()
	o.workers = workers
	o.running = true
	o.startTime = time.Now()
	o.runID = runID
	o.cancel = cancel
	o.done = done
	o.lastError = nil
	o.mu.Unlock()

	o.core.RecordWorkers(o.name, len(workers))
	logger.Info("Column store output started", "workers", len(workers))
	return nil
}

func (o *Output) buildWorker(ctx context.Context, id string, logger *slog.Logger) (*worker, error) {
	logger = logger.With("worker", id)

	store, err := o.newStore(ctx, id, logger)
	if err != nil {
		return nil, errors.Wrap(err, "Output", "Start", fmt.Sprintf("open store for %s", id))
	}

	src, err := o.newSource(id, logger)
	if err != nil {
		_ = store.Close()
		return nil, errors.Wrap(err, "Output", "Start", fmt.Sprintf("open source for %s", id))
	}

	s, err := sink.New(o.config.sinkConfig(), store, o.tables, o.rows, src,
		sink.WithLogger(logger),
		sink.WithMetrics(o.metrics),
		sink.WithInstance(id))
	if err != nil {
		_ = src.Close(ctx)
		_ = store.Close()
		return nil, errors.Wrap(err, "Output", "Start", fmt.Sprintf("create sink for %s", id))
	}

	return &worker{id: id, store: store, source: src, sink: s}, nil
}

// runWorker delivers records serially to the worker's sink until ctx is done.
func (o *Output) runWorker(ctx context.Context, w *worker) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.sink.Run(ctx)
	}()
	defer wg.Wait()

	err := w.source.Run(ctx, func(ctx context.Context, rec *message.Record) error {
		return w.sink.Append(ctx, rec)
	})
	if err != nil {
		return errors.Wrap(err, "Output", "runWorker", fmt.Sprintf("run %s", w.source.Name()))
	}
	return nil
}

// Stop stops consuming, writes every partially filled batch and releases the
// upstream consumers and store sessions.
func (o *Output) Stop(timeout time.Duration) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	o.mu.RLock()
	running := o.running
	cancel := o.cancel
	done := o.done
	workers := o.workers
	o.mu.RUnlock()

	if !running {
		return nil
	}

	if configured := o.config.shutdownTimeout(); configured > 0 && (timeout <= 0 || configured < timeout) {
		timeout = configured
	}
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	deadline := time.Now().Add(timeout)

	cancel()
	var err error
	select {
	case <-done:
		flushCtx, flushCancel := context.WithDeadline(context.Background(), deadline)
		defer flushCancel()
		err = o.closeWorkers(flushCtx, workers)
	case <-time.After(timeout):
		// Buffered records are dropped unacknowledged; closing the sources
		// and stores unblocks the workers.
		err = errors.WrapTransient(fmt.Errorf("shutdown timeout after %v", timeout), "Output", "Stop", "wait for workers")
		o.logger.Error("Workers did not stop in time, releasing connections", "run_id", o.runID, "error", err)
		abortCtx, abortCancel := context.WithTimeout(context.Background(), abortTimeout)
		defer abortCancel()
		for _, w := range workers {
			if relErr := o.release(abortCtx, w); relErr != nil {
				err = stderrors.Join(err, relErr)
			}
		}
	}

	retired := make([]sink.Stats, 0, len(workers))
	for _, w := range workers {
		retired = append(retired, w.sink.Stats())
	}

	o.mu.Lock()
	o.running = false
	o.workers = nil
	o.retired = retired
	o.cancel = nil
	if err != nil {
		o.lastError = err
	}
	o.mu.Unlock()

	o.core.RecordWorkers(o.name, 0)
	o.logger.Info("Column store output stopped", "run_id", o.runID)
	return err
}

// closeWorkers flushes each sink before its source is closed, so acks for
// the final batch still reach the upstream.
func (o *Output) closeWorkers(ctx context.Context, workers []*worker) error {
	var errs []error
	for _, w := range workers {
		if w.sink != nil {
			if err := w.sink.Close(ctx); err != nil {
				o.logger.Error("Final flush failed", "worker", w.id, "error", err)
				errs = append(errs, err)
			}
		}
		if err := o.release(ctx, w); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// release closes a worker's source and store without flushing its sink.
func (o *Output) release(ctx context.Context, w *worker) error {
	var errs []error
	if err := w.source.Close(ctx); err != nil {
		o.logger.Warn("Failed to close source", "worker", w.id, "error", err)
		errs = append(errs, err)
	}
	if err := w.store.Close(); err != nil {
		o.logger.Warn("Failed to close store", "worker", w.id, "error", err)
		errs = append(errs, err)
	}
	return stderrors.Join(errs...)
}

func (o *Output) openStore(ctx context.Context, _ string, logger *slog.Logger) (storage.Backend, error) {
	switch o.config.Store.Driver {
	case storage.DriverMemory:
		return memory.New(), nil
	default:
		return cassandra.Connect(ctx, o.config.Store.Cassandra, logger)
	}
}

func (o *Output) openSource(worker string, logger *slog.Logger) (source.Source, error) {
	switch o.config.Source.Type {
	case source.TypeKafka:
		return kafka.New(o.config.Source.Kafka, worker, logger, kafka.WithAckPolicy(o.config.AckPolicy))
	default:
		if o.deps.NATSClient == nil {
			return nil, errors.WrapFatal(errors.ErrMissingConfig, "Output", "openSource", "NATS client required for jetstream source")
		}
		return jetstream.New(o.deps.NATSClient, o.config.Source.JetStream, worker, logger)
	}
}

// Stats sums the counters of every worker of the current or last run.
func (o *Output) Stats() sink.Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var all []sink.Stats
	if o.running {
		for _, w := range o.workers {
			all = append(all, w.sink.Stats())
		}
	} else {
		all = o.retired
	}

	var total sink.Stats
	for _, s := range all {
		total.Received += s.Received
		total.Buffered += s.Buffered
		total.BatchesOK += s.BatchesOK
		total.BatchesFailed += s.BatchesFailed
		total.Insertions += s.Insertions
		total.Acked += s.Acked
		total.AckErrors += s.AckErrors
		if s.LastFlush.After(total.LastFlush) {
			total.LastFlush = s.LastFlush
			total.LastFlushError = s.LastFlushError
		}
	}
	return total
}

// Meta returns component metadata
func (o *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        o.name,
		Type:        "output",
		Description: "Batching column store sink",
		Version:     "0.1.0",
	}
}

// Health returns the current health status. A failed batch is reported as
// the last error but does not make the output unhealthy; a failed worker does.
func (o *Output) Health() component.HealthStatus {
	stats := o.Stats()

	o.mu.RLock()
	defer o.mu.RUnlock()

	status := component.HealthStatus{
		Healthy:    o.running && o.lastError == nil,
		LastCheck:  time.Now(),
		ErrorCount: int(stats.BatchesFailed + stats.AckErrors),
	}
	if o.running {
		status.Uptime = time.Since(o.startTime)
	}
	switch {
	case o.lastError != nil:
		status.LastError = o.lastError.Error()
	case stats.LastFlushError != nil:
		status.LastError = stats.LastFlushError.Error()
	}
	return status
}

// DataFlow returns current data flow metrics
func (o *Output) DataFlow() component.FlowMetrics {
	stats := o.Stats()

	o.mu.RLock()
	defer o.mu.RUnlock()

	var flow component.FlowMetrics
	if o.running {
		if elapsed := time.Since(o.startTime).Seconds(); elapsed > 0 {
			flow.MessagesPerSecond = float64(stats.Received) / elapsed
		}
	}
	if batches := stats.BatchesOK + stats.BatchesFailed; batches > 0 {
		flow.ErrorRate = float64(stats.BatchesFailed) / float64(batches)
	}
	flow.LastActivity = stats.LastFlush
	return flow
}

// Register registers the column store output with the given registry
func Register(registry *component.Registry) error {
	return registry.RegisterFactory(&component.Registration{
		Name:        "columnstore",
		Type:        "output",
		Description: "Batching column store sink for Cassandra-compatible stores",
		Version:     "0.1.0",
		Factory:     NewOutput,
	})
}
