package sink

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/colsink/errors"
	"github.com/c360/colsink/message"
	"github.com/c360/colsink/metric"
	"github.com/c360/colsink/resolver"
)

// recordingStore captures every executed request and can fail chosen calls.
type recordingStore struct {
	mu       sync.Mutex
	requests []*MutationRequest
	calls    int
	failOn   map[int]error
}

func (s *recordingStore) Execute(_ context.Context, req *MutationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err, ok := s.failOn[s.calls]; ok {
		return err
	}
	s.requests = append(s.requests, req)
	return nil
}

func (s *recordingStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// ackLog records acknowledgments in order.
type ackLog struct {
	mu     sync.Mutex
	tokens []any
	err    error
}

func (a *ackLog) Ack(_ context.Context, rec *message.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.tokens = append(a.tokens, rec.Token)
	return nil
}

func (a *ackLog) Tokens() []any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]any(nil), a.tokens...)
}

func numbered(n int) []*message.Record {
	recs := make([]*message.Record, n)
	for i := range recs {
		id := fmt.Sprintf("R%d", i+1)
		recs[i] = message.NewRecord(id,
			message.Field{Name: "id", Value: id},
			message.Field{Name: "seq", Value: i + 1},
		)
	}
	return recs
}

func newTestSink(t *testing.T, cfg Config, store Store, acker Acknowledger) *Sink {
	t.Helper()
	s, err := New(cfg, store, resolver.ConstantTable("events"), resolver.FieldRowKey("id"), acker)
	require.NoError(t, err)
	return s
}

func TestSink_FlushCount(t *testing.T) {
	cases := []struct {
		n, threshold int
	}{
		{0, 3}, {2, 3}, {3, 3}, {5, 3}, {9, 3}, {10, 1}, {7, 100},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("N=%d,T=%d", tc.n, tc.threshold), func(t *testing.T) {
			store := &recordingStore{}
			s := newTestSink(t, Config{BatchSize: tc.threshold}, store, nil)

			for _, rec := range numbered(tc.n) {
				require.NoError(t, s.Append(context.Background(), rec))
			}
			assert.Equal(t, tc.n/tc.threshold, store.Calls())
			assert.Equal(t, tc.n%tc.threshold, s.Stats().Buffered)

			require.NoError(t, s.Close(context.Background()))
			expected := tc.n / tc.threshold
			if tc.n%tc.threshold > 0 {
				expected++
			}
			assert.Equal(t, expected, store.Calls())
			assert.Equal(t, 0, s.Stats().Buffered)
		})
	}
}

func TestSink_AckOnReceive(t *testing.T) {
	store := &recordingStore{failOn: map[int]error{1: fmt.Errorf("unavailable")}}
	acks := &ackLog{}
	s := newTestSink(t, Config{BatchSize: 3, AckPolicy: AckOnReceive}, store, acks)

	recs := numbered(2)
	for _, rec := range recs {
		require.NoError(t, s.Append(context.Background(), rec))
	}
	// acked before any flush touched the records
	assert.Equal(t, 0, store.Calls())
	assert.Equal(t, []any{"R1", "R2"}, acks.Tokens())

	require.NoError(t, s.Append(context.Background(), message.NewRecord("R3", message.Field{Name: "id", Value: "R3"})))
	assert.Equal(t, 1, store.Calls())
	// the failed write does not produce additional signals
	assert.Equal(t, []any{"R1", "R2", "R3"}, acks.Tokens())
	assert.Equal(t, int64(3), s.Stats().Acked)
}

func TestSink_AckOnWrite_Scenario(t *testing.T) {
	store := &recordingStore{failOn: map[int]error{2: fmt.Errorf("write timeout")}}
	acks := &ackLog{}
	s := newTestSink(t, Config{BatchSize: 3, AckPolicy: AckOnWrite}, store, acks)

	recs := numbered(5)
	for i, rec := range recs {
		require.NoError(t, s.Append(context.Background(), rec))
		if i == 2 {
			assert.Equal(t, []any{"R1", "R2", "R3"}, acks.Tokens())
		}
	}
	assert.Equal(t, 1, store.Calls(), "no second flush below threshold")
	assert.Equal(t, 2, s.Stats().Buffered)

	err := s.Close(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrWrite))

	assert.Equal(t, 2, store.Calls())
	assert.Equal(t, []any{"R1", "R2", "R3"}, acks.Tokens())

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.BatchesOK)
	assert.Equal(t, int64(1), stats.BatchesFailed)
	assert.Equal(t, int64(5), stats.Received)
	assert.Equal(t, int64(6), stats.Insertions)
	assert.Error(t, stats.LastFlushError)
}

func TestSink_AckOnWrite_ExactlyOnce(t *testing.T) {
	store := &recordingStore{}
	acks := &ackLog{}
	s := newTestSink(t, Config{BatchSize: 4, AckPolicy: AckOnWrite}, store, acks)

	for _, rec := range numbered(10) {
		require.NoError(t, s.Append(context.Background(), rec))
	}
	require.NoError(t, s.Close(context.Background()))

	tokens := acks.Tokens()
	require.Len(t, tokens, 10)
	seen := make(map[any]int)
	for _, tok := range tokens {
		seen[tok]++
	}
	for i := 1; i <= 10; i++ {
		assert.Equal(t, 1, seen["R"+strconv.Itoa(i)])
	}
}

func TestSink_AckIgnore(t *testing.T) {
	store := &recordingStore{failOn: map[int]error{2: fmt.Errorf("boom")}}
	acks := &ackLog{}
	s := newTestSink(t, Config{BatchSize: 2, AckPolicy: AckIgnore}, store, acks)

	for _, rec := range numbered(7) {
		require.NoError(t, s.Append(context.Background(), rec))
	}
	_ = s.Close(context.Background())

	assert.Empty(t, acks.Tokens())
	assert.Equal(t, int64(0), s.Stats().Acked)
}

func TestSink_RoundTrip(t *testing.T) {
	store := &recordingStore{}
	s, err := New(Config{BatchSize: 2}, store,
		resolver.ConstantTable("pairs"), resolver.FieldRowKey("a"), nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		rec := message.NewRecord(i,
			message.Field{Name: "a", Value: "1"},
			message.Field{Name: "b", Value: "2"},
		)
		require.NoError(t, s.Append(context.Background(), rec))
	}

	require.Len(t, store.requests, 1)
	req := store.requests[0]
	require.Equal(t, 4, req.Len())
	for i, ins := range req.Insertions {
		assert.Equal(t, "pairs", ins.Table)
		assert.Equal(t, "1", ins.RowKey)
		if i%2 == 0 {
			assert.Equal(t, "a", ins.Column)
			assert.Equal(t, "1", ins.Value)
		} else {
			assert.Equal(t, "b", ins.Column)
			assert.Equal(t, "2", ins.Value)
		}
	}
}

func TestSink_ResolutionErrorFailsWholeBatch(t *testing.T) {
	store := &recordingStore{}
	acks := &ackLog{}
	s := newTestSink(t, Config{BatchSize: 5, AckPolicy: AckOnWrite}, store, acks)

	recs := numbered(5)
	// record 3 has no id field
	recs[2] = message.NewRecord("R3", message.Field{Name: "seq", Value: 3})

	for _, rec := range recs {
		require.NoError(t, s.Append(context.Background(), rec))
	}

	assert.Equal(t, 0, store.Calls(), "no insertions attempted")
	assert.Empty(t, acks.Tokens())

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.BatchesFailed)
	assert.True(t, errors.Is(stats.LastFlushError, errors.ErrResolution))
	assert.Equal(t, 0, stats.Buffered)

	// the sink keeps working after a failed batch
	for _, rec := range numbered(5) {
		require.NoError(t, s.Append(context.Background(), rec))
	}
	assert.Equal(t, 1, store.Calls())
	assert.Len(t, acks.Tokens(), 5)
}

func TestSink_AckErrorsAreCounted(t *testing.T) {
	store := &recordingStore{}
	acks := &ackLog{err: fmt.Errorf("consumer gone")}
	s := newTestSink(t, Config{BatchSize: 1, AckPolicy: AckOnWrite}, store, acks)

	require.NoError(t, s.Append(context.Background(), numbered(1)[0]))
	stats := s.Stats()
	assert.Equal(t, int64(1), stats.BatchesOK)
	assert.Equal(t, int64(0), stats.Acked)
	assert.Equal(t, int64(1), stats.AckErrors)
}

func TestSink_AppendAfterClose(t *testing.T) {
	acks := &ackLog{}
	s := newTestSink(t, Config{BatchSize: 2, AckPolicy: AckOnReceive}, &recordingStore{}, acks)
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))

	err := s.Append(context.Background(), numbered(1)[0])
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrShuttingDown))
	assert.Empty(t, acks.Tokens())
}

func TestSink_AppendNil(t *testing.T) {
	s := newTestSink(t, Config{}, &recordingStore{}, nil)
	err := s.Append(context.Background(), nil)
	assert.True(t, errors.IsInvalid(err))
	assert.Equal(t, DefaultBatchSize, s.Config().BatchSize)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, nil, resolver.ConstantTable("t"), resolver.FieldRowKey("id"), nil)
	assert.True(t, errors.Is(err, errors.ErrMissingConfig))

	_, err = New(Config{}, &recordingStore{}, nil, resolver.FieldRowKey("id"), nil)
	assert.True(t, errors.Is(err, errors.ErrMissingConfig))

	_, err = New(Config{AckPolicy: AckOnWrite}, &recordingStore{},
		resolver.ConstantTable("t"), resolver.FieldRowKey("id"), nil)
	assert.True(t, errors.Is(err, errors.ErrMissingConfig))
}

func TestSink_RunFlushesOnInterval(t *testing.T) {
	store := &recordingStore{}
	s := newTestSink(t, Config{BatchSize: 100, FlushInterval: 10 * time.Millisecond}, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	for _, rec := range numbered(3) {
		require.NoError(t, s.Append(ctx, rec))
	}

	assert.Eventually(t, func() bool { return store.Calls() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, 0, s.Stats().Buffered)
}

func TestSink_RunWithoutInterval(t *testing.T) {
	s := newTestSink(t, Config{BatchSize: 10}, &recordingStore{}, nil)
	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return when no interval is configured")
	}
}

func TestSink_ConcurrentAppend(t *testing.T) {
	store := &recordingStore{}
	acks := &ackLog{}
	s := newTestSink(t, Config{BatchSize: 7, AckPolicy: AckOnWrite}, store, acks)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				id := fmt.Sprintf("w%d-%d", w, i)
				_ = s.Append(context.Background(), message.NewRecord(id, message.Field{Name: "id", Value: id}))
			}
		}(w)
	}
	wg.Wait()
	require.NoError(t, s.Close(context.Background()))

	assert.Len(t, acks.Tokens(), 100)
	assert.Equal(t, int64(100), s.Stats().Insertions)
}

func TestSink_WithMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m, err := NewMetrics(registry, "columnstore")
	require.NoError(t, err)
	require.NotNil(t, m)

	_, err = NewMetrics(registry, "columnstore")
	assert.Error(t, err, "duplicate registration")

	store := &recordingStore{}
	s, err := New(Config{BatchSize: 2, AckPolicy: AckOnWrite}, store,
		resolver.ConstantTable("t"), resolver.FieldRowKey("id"), &ackLog{},
		WithMetrics(m), WithInstance("worker-0"))
	require.NoError(t, err)

	for _, rec := range numbered(4) {
		require.NoError(t, s.Append(context.Background(), rec))
	}

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["colsink_sink_batches_total"])
	assert.True(t, names["colsink_sink_acks_total"])
	assert.True(t, names["colsink_sink_flush_duration_seconds"])
}

func TestNewMetrics_NilRegistry(t *testing.T) {
	m, err := NewMetrics(nil, "columnstore")
	require.NoError(t, err)
	assert.Nil(t, m)

	// nil metrics are safe to use
	m.recordAck("x", AckOnWrite)
	m.recordAckError("x")
	m.recordReceived("x", 1)
	m.recordFlush("x", Outcome{Success: true}, 0)
}
