// Package cassandra writes sink mutation requests to Apache Cassandra.
//
// Every destination table is a wide-row table: the row key is the partition
// key, every record field becomes one clustering row named after the field,
// and the value holds the field's text.
//
//	CREATE TABLE events (
//	    key     text,
//	    column1 text,
//	    value   text,
//	    PRIMARY KEY (key, column1)
//	);
//
// This is the CQL shape of a dynamic column family, so tables written by
// older Thrift clients can be targeted unchanged. Column names are
// configurable for tables that use a different layout.
//
// A mutation request is executed as one gocql batch, unlogged unless
// batch_type is "logged". The batch is rejected or accepted as a whole from
// the sink's point of view.
//
// Connect opens the session and retries session creation ConnectAttempts
// times. When it gives up the returned error wraps errors.ErrConnection and is
// classified fatal; the owning component fails its startup.
//
// The sink does not manage schema. CreateTableStatement renders the expected
// table definition for provisioning scripts and tests.
package cassandra
