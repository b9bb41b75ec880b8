// Package sink batches records into column-store writes and acknowledges them
// upstream.
//
// A Sink composes three parts:
//
//   - an Accumulator that buffers records and flushes every BatchSize records
//   - a Writer that resolves each record's destination, turns every field into
//     one Insertion and executes the whole batch as a single MutationRequest
//   - a Coordinator that applies the AckPolicy when a record arrives and when a
//     batch outcome is known
//
// Write failures never propagate to the caller of Append. A failed batch is
// logged, counted and dropped; under AckOnWrite its records stay
// unacknowledged so the upstream source redelivers them. Under AckIgnore and
// AckOnReceive the loss is only visible in logs and metrics.
//
// Basic usage:
//
//	s, err := sink.New(sink.Config{BatchSize: 500, AckPolicy: sink.AckOnWrite},
//	    store, resolver.ConstantTable("events"), resolver.FieldRowKey("id"), acker,
//	    sink.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer s.Close(ctx)
//
//	for rec := range records {
//	    if err := s.Append(ctx, rec); err != nil {
//	        return err
//	    }
//	}
//
// A Sink is owned by one worker. Parallel workers each get their own Sink and
// their own store handle.
package sink
