// Package componentregistry registers every colsink component factory.
package componentregistry

import (
	"errors"

	"github.com/c360/colsink/component"
	pkgerrors "github.com/c360/colsink/errors"
	"github.com/c360/colsink/output/columnstore"
)

// Register registers all colsink components with the provided registry:
//   - columnstore output (JetStream or Kafka into Cassandra)
func Register(registry *component.Registry) error {
	// Nil registry is a programming error (fatal), not invalid input
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"ComponentRegistry", "Register", "registry validation")
	}

	if err := columnstore.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "ComponentRegistry", "Register", "columnstore output component registration")
	}

	return nil
}
