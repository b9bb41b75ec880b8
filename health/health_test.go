package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/colsink/component"
)

func TestFromComponentHealth(t *testing.T) {
	tests := []struct {
		name        string
		in          component.HealthStatus
		wantStatus  string
		wantMessage string
	}{
		{
			name:        "running",
			in:          component.HealthStatus{Healthy: true, Uptime: time.Minute},
			wantStatus:  StatusHealthy,
			wantMessage: "Component healthy",
		},
		{
			name:        "running with failed batch",
			in:          component.HealthStatus{Healthy: true, LastError: "CassandraStore.Execute: write failed", ErrorCount: 1},
			wantStatus:  StatusDegraded,
			wantMessage: "CassandraStore.Execute: write failed",
		},
		{
			name:        "stopped",
			in:          component.HealthStatus{Healthy: false},
			wantStatus:  StatusUnhealthy,
			wantMessage: "Component not running",
		},
		{
			name:        "worker failed",
			in:          component.HealthStatus{Healthy: false, LastError: "dial tcp 10.0.0.7:9042: connection refused"},
			wantStatus:  StatusUnhealthy,
			wantMessage: "dial tcp [IP][PORT]: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromComponentHealth("events", tt.in)
			assert.Equal(t, "events", got.Component)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantMessage, got.Message)
			require.NotNil(t, got.Metrics)
			assert.Equal(t, tt.in.ErrorCount, got.Metrics.ErrorCount)
		})
	}
}

func TestSanitizeErrorMessage(t *testing.T) {
	assert.Equal(t, "", sanitizeErrorMessage(""))
	assert.Equal(t, "connect [URL] failed", sanitizeErrorMessage("connect nats://user:pw@nats:4222 failed"))
	assert.Equal(t, "open [PATH]: denied", sanitizeErrorMessage("open /etc/colsink/tls.key: denied"))
	assert.Equal(t, "auth failed [REDACTED]", sanitizeErrorMessage("auth failed password=hunter2"))
}

func TestAggregate(t *testing.T) {
	healthy := Status{Component: "a", Status: StatusHealthy}
	degraded := Status{Component: "b", Status: StatusDegraded}
	unhealthy := Status{Component: "c", Status: StatusUnhealthy}

	assert.True(t, Aggregate("colsink", nil).IsHealthy())
	assert.True(t, Aggregate("colsink", []Status{healthy}).IsHealthy())
	assert.True(t, Aggregate("colsink", []Status{healthy, degraded}).IsDegraded())
	assert.True(t, Aggregate("colsink", []Status{unhealthy, degraded}).IsUnhealthy())
	assert.True(t, Aggregate("colsink", []Status{degraded, unhealthy, healthy}).IsUnhealthy())

	agg := Aggregate("colsink", []Status{healthy, degraded})
	assert.Len(t, agg.SubStatuses, 2)
}

func TestMonitor(t *testing.T) {
	current := map[string]component.HealthStatus{
		"b": {Healthy: true},
		"a": {Healthy: true, LastError: "batch failed"},
	}
	m := NewMonitor("colsink", func() map[string]component.HealthStatus { return current })

	agg := m.Refresh()
	assert.True(t, agg.IsDegraded())
	require.Len(t, agg.SubStatuses, 2)
	assert.Equal(t, "a", agg.SubStatuses[0].Component)
	assert.NoError(t, m.Check(), "degraded passes")

	status, ok := m.Get("b")
	require.True(t, ok)
	assert.True(t, status.IsHealthy())

	current = map[string]component.HealthStatus{
		"a": {Healthy: false, LastError: "consume failed"},
		"b": {Healthy: true},
	}
	err := m.Check()
	require.Error(t, err)
	assert.Equal(t, "colsink unhealthy: a: consume failed", err.Error())

	_, ok = m.Get("missing")
	assert.False(t, ok)
}

func TestMonitor_NilSource(t *testing.T) {
	m := NewMonitor("colsink", nil)
	assert.True(t, m.Refresh().IsHealthy())
	assert.NoError(t, m.Check())
}
