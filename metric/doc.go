// Package metric provides the Prometheus registry and HTTP server used by
// colsink components.
//
// A MetricsRegistry holds the core metrics every process exposes (component
// status and health, error counts by class, running workers and NATS
// connectivity) plus the Go runtime and process collectors. Components add
// their own collectors through the MetricsRegistrar methods; registering the
// same service and metric name twice fails with an invalid-class error.
//
//	registry := metric.NewMetricsRegistry()
//	registry.CoreMetrics().RecordComponentStatus("columnstore", metric.StatusRunning)
//
//	server := metric.NewServer(metric.ServerConfig{Port: 9090}, registry, healthFn)
//	go func() {
//	    if err := server.Start(); err != nil {
//	        logger.Error("Metrics server failed", "error", err)
//	    }
//	}()
//	defer server.Stop(ctx)
//
// Metrics are served at /metrics (OpenMetrics enabled) and process health at
// /health.
//
// # Disabled metrics
//
// Packages accept a nil *MetricsRegistry to mean metrics are disabled.
// CoreMetrics on a nil registry returns nil and every Record method on a nil
// *Metrics is a no-op, so callers do not branch on configuration.
package metric
