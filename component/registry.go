package component

import (
	"encoding/json"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/c360/colsink/errors"
)

// Factory creates a component instance from its raw JSON configuration.
// Factories parse and validate config but perform no I/O; connections are
// opened in Start.
type Factory func(rawConfig json.RawMessage, deps Dependencies) (Discoverable, error)

// Registration holds factory and metadata for a component type
type Registration struct {
	Name        string  `json:"name"`        // Factory name referenced by config "type" (e.g. "columnstore")
	Type        string  `json:"type"`        // input, processor, output
	Description string  `json:"description"` // Human-readable description
	Version     string  `json:"version"`     // Component version
	Factory     Factory `json:"-"`
}

// Registry manages component factories and the instances created from them
type Registry struct {
	factories map[string]*Registration
	instances map[string]Discoverable
	mu        sync.RWMutex
}

// NewRegistry creates a new empty component registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]*Registration),
		instances: make(map[string]Discoverable),
	}
}

// RegisterFactory registers a component factory under registration.Name
func (r *Registry) RegisterFactory(registration *Registration) error {
	if registration == nil || registration.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterFactory", "factory function validation")
	}
	if err := ValidateComponentName(registration.Name); err != nil {
		return errors.Wrap(err, "Registry", "RegisterFactory", "factory name validation")
	}
	if registration.Type == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterFactory", "component type validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[registration.Name]; exists {
		msg := fmt.Errorf("factory '%s' is already registered", registration.Name)
		return errors.WrapInvalid(msg, "Registry", "RegisterFactory", "duplicate factory check")
	}

	r.factories[registration.Name] = registration
	return nil
}

// CreateComponent creates and registers a component instance named
// instanceName using the factory registered as factoryName.
func (r *Registry) CreateComponent(
	instanceName, factoryName string, rawConfig json.RawMessage, deps Dependencies,
) (Discoverable, error) {
	if err := ValidateComponentName(instanceName); err != nil {
		return nil, errors.Wrap(err, "Registry", "CreateComponent", "instance name validation")
	}
	if err := ValidateFactoryConfig(rawConfig); err != nil {
		return nil, errors.Wrap(err, "Registry", "CreateComponent", "config security validation")
	}

	r.mu.RLock()
	registration, exists := r.factories[factoryName]
	r.mu.RUnlock()

	if !exists {
		msg := fmt.Errorf("%w: unknown component factory '%s'", errors.ErrInvalidConfig, factoryName)
		return nil, errors.WrapInvalid(msg, "Registry", "CreateComponent", "factory lookup")
	}

	component, err := registration.Factory(rawConfig, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "CreateComponent", "factory execution")
	}

	if err := r.RegisterInstance(instanceName, component); err != nil {
		return nil, errors.Wrap(err, "Registry", "CreateComponent", "instance registration")
	}

	return component, nil
}

// RegisterInstance registers a component instance with the given name
func (r *Registry) RegisterInstance(name string, component Discoverable) error {
	if name == "" || component == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterInstance", "instance validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[name]; exists {
		msg := fmt.Errorf("instance '%s' is already registered", name)
		return errors.WrapInvalid(msg, "Registry", "RegisterInstance", "duplicate instance check")
	}

	r.instances[name] = component
	return nil
}

// UnregisterInstance removes a component instance from the registry
func (r *Registry) UnregisterInstance(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, name)
}

// ListComponents returns a copy of all registered component instances
func (r *Registry) ListComponents() map[string]Discoverable {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]Discoverable, len(r.instances))
	maps.Copy(result, r.instances)
	return result
}

// Component retrieves a specific component instance by name, or nil
func (r *Registry) Component(name string) Discoverable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instances[name]
}

// ListComponentTypes returns the registered factory names, sorted
func (r *Registry) ListComponentTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
