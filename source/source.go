// Package source defines the upstream side of a sink worker: something that
// delivers records one at a time and can acknowledge them afterwards.
package source

import (
	"context"

	"github.com/c360/colsink/message"
)

// Type names accepted in configuration
const (
	TypeJetStream = "jetstream"
	TypeKafka     = "kafka"
)

// Handler receives one decoded record. Records are delivered serially, a
// handler is never invoked concurrently by the same Source.
type Handler func(ctx context.Context, rec *message.Record) error

// Source delivers upstream records and acknowledges them on request.
//
// Run blocks until ctx is cancelled or the upstream fails permanently. Ack
// accepts only records produced by the same Source.
type Source interface {
	Name() string
	Run(ctx context.Context, handler Handler) error
	Ack(ctx context.Context, rec *message.Record) error
	Close(ctx context.Context) error
}

// Types returns the source types that can be configured.
func Types() []string {
	return []string{TypeJetStream, TypeKafka}
}
