// Package component provides the registry, lifecycle and health plumbing that
// every colsink component runs on.
//
// # Registration
//
// Components are registered explicitly rather than through init() side
// effects. Each component package exports a Register(*Registry) error
// function and componentregistry.RegisterAll calls them in one place:
//
//	registry := component.NewRegistry()
//	if err := componentregistry.RegisterAll(registry); err != nil {
//	    return err
//	}
//
// A Registration names the factory referenced by a component's "type" in
// configuration. Factories receive the raw JSON config and shared
// Dependencies; they parse and validate but never open connections.
//
// # Lifecycle
//
// Components that implement LifecycleComponent are driven by a Manager:
//
//	mgr := component.NewManager(registry, deps)
//	for name, cc := range cfg.EnabledComponents() {
//	    if err := mgr.Create(name, cc.Type, cc.Config); err != nil {
//	        return err
//	    }
//	}
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop(30 * time.Second)
//
// Start runs components in name order and rolls back the ones already
// started when one fails. Stop runs in reverse start order, sharing a single
// deadline, so a sink gets its final flush before the process exits.
//
// # Configuration safety
//
// SafeUnmarshal bounds size, nesting depth, string length and array size of
// the raw config, decodes it over the target's defaults rejecting unknown
// fields, then calls Validate on targets that implement Validatable.
package component
