package component

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360/colsink/errors"
	"github.com/c360/colsink/metric"
)

// Manager creates components from configuration and drives their lifecycle.
// Components start in name order and stop in reverse start order.
type Manager struct {
	registry *Registry
	deps     Dependencies
	logger   *slog.Logger
	core     *metric.Metrics

	mu         sync.Mutex
	components map[string]*ManagedComponent
	startOrder []string
	started    bool
}

// NewManager creates a manager that builds components with deps
func NewManager(registry *Registry, deps Dependencies) *Manager {
	return &Manager{
		registry:   registry,
		deps:       deps,
		logger:     deps.GetLoggerWithComponent("component-manager"),
		core:       deps.MetricsRegistry.CoreMetrics(),
		components: make(map[string]*ManagedComponent),
	}
}

// Create builds the instance name from factory and initializes it.
func (m *Manager) Create(name, factory string, rawConfig json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.WrapInvalid(fmt.Errorf("manager already started"), "Manager", "Create", "check state")
	}

	comp, err := m.registry.CreateComponent(name, factory, rawConfig, m.deps)
	if err != nil {
		return err
	}

	mc := &ManagedComponent{Name: name, Component: comp, State: StateCreated}
	m.components[name] = mc

	if lc, ok := AsLifecycleComponent(comp); ok {
		if err := lc.Initialize(); err != nil {
			mc.State = StateFailed
			mc.LastError = err
			m.registry.UnregisterInstance(name)
			delete(m.components, name)
			return errors.Wrap(err, "Manager", "Create", fmt.Sprintf("initialize %s", name))
		}
	}
	mc.State = StateInitialized
	m.logger.Info("Component created", "name", name, "factory", factory)
	return nil
}

// Start starts every initialized component. If one fails, the components
// already started are stopped again and the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}

	names := make([]string, 0, len(m.components))
	for name := range m.components {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		mc := m.components[name]
		lc, ok := AsLifecycleComponent(mc.Component)
		if !ok {
			continue
		}

		childCtx, cancel := context.WithCancel(ctx)
		m.core.RecordComponentStatus(name, metric.StatusStarting)
		m.logger.Info("Starting component", "name", name, "type", mc.Component.Meta().Type)

		if err := lc.Start(childCtx); err != nil {
			cancel()
			mc.State = StateFailed
			mc.LastError = err
			m.core.RecordComponentStatus(name, metric.StatusFailed)
			m.core.RecordError(name, errors.Classify(err).String())
			m.logger.Error("Component failed to start", "name", name, "error", err)

			m.stopLocked(30 * time.Second)
			return errors.Wrap(err, "Manager", "Start", fmt.Sprintf("start %s", name))
		}

		mc.Cancel = cancel
		mc.State = StateStarted
		mc.StartOrder = len(m.startOrder)
		m.startOrder = append(m.startOrder, name)
		m.core.RecordComponentStatus(name, metric.StatusRunning)
	}

	m.started = true
	return nil
}

// Stop stops the started components in reverse start order, giving each the
// remaining share of timeout. Errors from individual components are joined.
func (m *Manager) Stop(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}
	m.started = false
	return m.stopLocked(timeout)
}

// stopLocked requires m.mu
func (m *Manager) stopLocked(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var errs []error

	for i := len(m.startOrder) - 1; i >= 0; i-- {
		name := m.startOrder[i]
		mc := m.components[name]
		lc, _ := AsLifecycleComponent(mc.Component)

		m.core.RecordComponentStatus(name, metric.StatusStopping)
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}

		err := lc.Stop(remaining)
		if mc.Cancel != nil {
			mc.Cancel()
			mc.Cancel = nil
		}
		if err != nil {
			mc.State = StateFailed
			mc.LastError = err
			m.core.RecordComponentStatus(name, metric.StatusFailed)
			m.core.RecordError(name, errors.Classify(err).String())
			m.logger.Error("Component stop failed", "name", name, "error", err)
			errs = append(errs, fmt.Errorf("component '%s': %w", name, err))
			continue
		}

		mc.State = StateStopped
		m.core.RecordComponentStatus(name, metric.StatusStopped)
		m.logger.Info("Component stopped", "name", name)
	}

	m.startOrder = nil
	return stderrors.Join(errs...)
}

// States returns the lifecycle state of every managed component
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make(map[string]State, len(m.components))
	for name, mc := range m.components {
		states[name] = mc.State
	}
	return states
}

// Health returns the health of every managed component and updates the
// health gauges.
func (m *Manager) Health() map[string]HealthStatus {
	m.mu.Lock()
	comps := make(map[string]Discoverable, len(m.components))
	for name, mc := range m.components {
		comps[name] = mc.Component
	}
	m.mu.Unlock()

	health := make(map[string]HealthStatus, len(comps))
	for name, comp := range comps {
		status := comp.Health()
		m.core.RecordHealthStatus(name, status.Healthy)
		health[name] = status
	}
	return health
}
