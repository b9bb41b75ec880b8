package sink

import (
	"context"

	"github.com/c360/colsink/message"
)

// BatchWriter writes one batch and reports its outcome.
type BatchWriter interface {
	Write(ctx context.Context, batch []*message.Record) Outcome
}

// Accumulator buffers records and hands them to a BatchWriter once the count
// threshold is reached. It is not safe for concurrent use; Sink serialises access.
type Accumulator struct {
	writer    BatchWriter
	threshold int
	buffer    []*message.Record
	onFlush   func(context.Context, Outcome)
}

// NewAccumulator creates an accumulator flushing every threshold records.
// onFlush, if set, observes every outcome after the buffer has been cleared.
func NewAccumulator(writer BatchWriter, threshold int, onFlush func(context.Context, Outcome)) *Accumulator {
	if threshold < 1 {
		threshold = 1
	}
	return &Accumulator{
		writer:    writer,
		threshold: threshold,
		buffer:    make([]*message.Record, 0, threshold),
		onFlush:   onFlush,
	}
}

// Append buffers rec and flushes synchronously when the buffer reaches the
// threshold. flushed reports whether a flush happened.
func (a *Accumulator) Append(ctx context.Context, rec *message.Record) (out Outcome, flushed bool) {
	a.buffer = append(a.buffer, rec)
	if len(a.buffer) < a.threshold {
		return Outcome{}, false
	}
	return a.Flush(ctx)
}

// Flush writes the whole buffer as one batch. The buffer is empty when Flush
// returns, whatever the outcome; a failed batch is not retried. Flushing an
// empty buffer is a no-op and reports flushed=false.
func (a *Accumulator) Flush(ctx context.Context) (out Outcome, flushed bool) {
	if len(a.buffer) == 0 {
		return Outcome{}, false
	}

	batch := a.buffer
	a.buffer = make([]*message.Record, 0, a.threshold)

	out = a.writer.Write(ctx, batch)
	if a.onFlush != nil {
		a.onFlush(ctx, out)
	}
	return out, true
}

// Len returns the number of buffered records.
func (a *Accumulator) Len() int {
	return len(a.buffer)
}

// Threshold returns the configured batch size.
func (a *Accumulator) Threshold() int {
	return a.threshold
}
