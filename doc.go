// Package colsink is a streaming sink that batches records from NATS
// JetStream or Kafka and writes them to a Cassandra-compatible column store.
//
// # Architecture
//
//	┌──────────────────────────────┐
//	│  source (jetstream | kafka)  │  delivers records serially,
//	│                              │  acks on request
//	└──────────────┬───────────────┘
//	               │ Append(record)
//	┌──────────────▼───────────────┐
//	│  sink.Sink                   │  Coordinator.OnReceive
//	│   Accumulator ──▶ Writer     │  batch of BatchSize records
//	│                              │  Coordinator.OnOutcome
//	└──────────────┬───────────────┘
//	               │ one MutationRequest per batch
//	┌──────────────▼───────────────┐
//	│  storage (cassandra|memory)  │  one batch statement
//	└──────────────────────────────┘
//
// The table and row key of every record come from the resolver package. Each
// field of a record becomes one insertion: row key, field name, textual value.
//
// # Acknowledgment
//
// The ack policy decides when the upstream considers a record done:
//
//   - ignore: never; the upstream replays according to its own rules
//   - on_receive: when the record reaches the sink, before it is written
//   - on_write: after the batch containing it was written; records of a
//     failed batch are not acknowledged and get redelivered
//
// Batch writes are never retried by the sink. Under ignore and on_receive a
// failed batch is lost; on_write is the policy for at-least-once delivery.
//
// # Packages
//
//   - message: Record and JSON decoding
//   - resolver: table and row key strategies
//   - sink: accumulator, writer, ack coordinator
//   - storage/cassandra, storage/memory: column stores
//   - source/jetstream, source/kafka: upstream consumers
//   - output/columnstore: the component wiring them per worker
//   - component, config, metric, health, natsclient: process plumbing
//
// # Running
//
//	./bin/colsink --config configs/colsink.yaml
//
// The binary registers its components through componentregistry.Register
// and serves Prometheus metrics and /health on the metrics port.
package colsink
