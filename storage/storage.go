// Package storage defines the column-store backends a sink writes to.
package storage

import (
	"github.com/c360/colsink/sink"
)

// Driver names accepted in store configuration.
const (
	DriverCassandra = "cassandra"
	DriverMemory    = "memory"
)

// Backend is a column store with an explicitly owned connection.
//
// Each sink worker opens its own Backend and closes it when the worker stops.
// Backends are never shared between workers, so an implementation only needs
// to tolerate Close being called concurrently with a final Execute.
//
// Execute receives every insertion of one batch and submits them as a single
// request. It returns nil only when the store accepted the whole request.
type Backend interface {
	sink.Store

	// Close releases the connection. Calling Close twice is a no-op.
	Close() error
}

// Drivers lists the supported driver names.
func Drivers() []string {
	return []string{DriverCassandra, DriverMemory}
}

// IsDriver reports whether name is a supported driver.
func IsDriver(name string) bool {
	for _, d := range Drivers() {
		if d == name {
			return true
		}
	}
	return false
}
