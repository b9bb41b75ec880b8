// Package columnstore provides the "columnstore" output component: a batching
// sink that reads records from NATS JetStream or Kafka and writes them to a
// Cassandra-compatible wide-row store.
//
// # Configuration
//
//	{
//	  "name": "events-to-cassandra",
//	  "source": {
//	    "type": "jetstream",
//	    "jetstream": {"stream": "EVENTS", "durable": "colsink", "subjects": ["events.>"]}
//	  },
//	  "store": {
//	    "driver": "cassandra",
//	    "cassandra": {"hosts": ["10.0.0.1", "10.0.0.2"], "keyspace": "events"}
//	  },
//	  "table":   {"strategy": "constant", "name": "raw_events"},
//	  "row_key": {"strategy": "field", "field": "id"},
//	  "batch_size": 500,
//	  "flush_interval": "5s",
//	  "ack_policy": "on_write",
//	  "workers": 4
//	}
//
// Every record is decoded from a JSON object. Each field becomes one column of
// the row named by the row key resolver, in the table named by the table
// resolver.
//
// # Workers
//
// Each of the configured workers owns a sink, a store session and an upstream
// consumer. JetStream workers share the durable consumer; Kafka workers join
// the same consumer group. Nothing mutable is shared between workers, so the
// number of workers bounds the number of concurrent batch writes.
//
// # Acknowledgment
//
// ack_policy is one of ignore, on_receive or on_write. With on_write a record
// is acknowledged only after the batch that contains it was written; records
// of a failed batch are redelivered by the upstream. Stop writes every
// partially filled batch before closing the consumers, so the final batch is
// acknowledged too.
//
// A JetStream consumer redelivers anything left unacknowledged for longer
// than its ack_wait. Under on_write the flush_interval must therefore be set
// and shorter than ack_wait, and a max_ack_pending, when set, must allow
// every worker to fill a batch.
package columnstore
