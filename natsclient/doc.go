// Package natsclient manages the NATS connection a JetStream source reads from.
//
// A Client owns one connection and every consume loop started on it. Consumers
// are durable pull consumers with explicit acknowledgment; the handler passed
// to Consume decides when each message is acked, so the sink's ack policy
// maps directly onto JetStream delivery:
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry))
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	err = client.Consume(ctx, natsclient.ConsumerSpec{
//	    Stream:         "EVENTS",
//	    Durable:        "colsink",
//	    FilterSubjects: []string{"events.>"},
//	    AckWait:        30 * time.Second,
//	}, func(msg jetstream.Msg) {
//	    // hand msg to the sink; ack now, after the batch write, or never
//	})
//
// Messages that are never acknowledged are redelivered by the server after
// AckWait, up to MaxDeliver times.
//
// Reconnection after a dropped connection is left to nats.go
// (WithMaxReconnects, WithReconnectWait). Close stops the consume loops and
// drains the connection, which flushes pending acks before closing.
//
// # Metrics
//
// WithMetrics polls the server-side state of the consumers created through
// the client: pending, ack pending and redelivered message counts.
//
// # Testing
//
// NewTestClient and NewSharedTestClient start a JetStream-enabled NATS
// container with testcontainers and return a connected Client. Tests that use
// them are skipped unless INTEGRATION_TESTS is set.
package natsclient
