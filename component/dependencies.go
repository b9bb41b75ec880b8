package component

import (
	"log/slog"

	"github.com/c360/colsink/metric"
	"github.com/c360/colsink/natsclient"
)

// Dependencies provides the shared process resources components are built with.
type Dependencies struct {
	NATSClient      *natsclient.Client      // Shared NATS connection (can be nil when no component reads JetStream)
	MetricsRegistry *metric.MetricsRegistry // Metrics registry for Prometheus (can be nil)
	Logger          *slog.Logger            // Structured logger (can be nil, defaults to slog.Default())
}

// GetLogger returns the configured logger or a default logger if none is provided
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger configured with component context
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}
