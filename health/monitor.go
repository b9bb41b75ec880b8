package health

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/c360/colsink/component"
)

// Source returns the current health of every component by name.
// component.Manager.Health satisfies it.
type Source func() map[string]component.HealthStatus

// Monitor keeps the last health snapshot of a set of components.
type Monitor struct {
	name   string
	source Source

	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates a monitor named name that reads from source.
func NewMonitor(name string, source Source) *Monitor {
	return &Monitor{
		name:     name,
		source:   source,
		statuses: make(map[string]Status),
	}
}

// Refresh reads every component's health and returns the aggregate.
func (m *Monitor) Refresh() Status {
	statuses := make(map[string]Status)
	if m.source != nil {
		for name, ch := range m.source() {
			statuses[name] = FromComponentHealth(name, ch)
		}
	}

	m.mu.Lock()
	m.statuses = statuses
	m.mu.Unlock()

	return m.Aggregate()
}

// Get retrieves the last status of a component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.statuses[name]
	return status, exists
}

// Aggregate returns the aggregate of the last snapshot, components sorted by name
func (m *Monitor) Aggregate() Status {
	m.mu.RLock()
	subStatuses := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subStatuses = append(subStatuses, status)
	}
	m.mu.RUnlock()

	sort.Slice(subStatuses, func(i, j int) bool {
		return subStatuses[i].Component < subStatuses[j].Component
	})
	return Aggregate(m.name, subStatuses)
}

// Check refreshes and returns an error naming the unhealthy components.
// Degraded components pass.
func (m *Monitor) Check() error {
	agg := m.Refresh()
	if !agg.IsUnhealthy() {
		return nil
	}

	var parts []string
	for _, sub := range agg.SubStatuses {
		if sub.IsUnhealthy() {
			parts = append(parts, fmt.Sprintf("%s: %s", sub.Component, sub.Message))
		}
	}
	return fmt.Errorf("%s unhealthy: %s", m.name, strings.Join(parts, "; "))
}
