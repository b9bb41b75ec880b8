// Package retry runs an operation with exponential backoff.
//
// It is used where the system is allowed to wait for a dependency: opening
// store sessions and broker connections at startup. Batch writes are never
// retried; a failed batch is reported and dropped by the sink.
//
//	session, err := retry.DoWithResult(ctx, retry.Quick(), cluster.CreateSession)
//
// Errors wrapped with NonRetryable, and errors classified as invalid input by
// the errors package, end the loop immediately. Cancelling ctx stops both
// running backoff delays and further attempts.
package retry
