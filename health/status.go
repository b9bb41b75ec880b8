// Package health aggregates component health for the process health endpoint.
//
// A component is healthy while it runs without errors, degraded while it runs
// but its last batch failed, and unhealthy when it stopped or a worker died.
// Degraded does not fail the health check: the upstream redelivers the
// records of a failed batch and the next batch may well succeed.
package health

import (
	"regexp"
	"strings"
	"time"

	"github.com/c360/colsink/component"
)

// Status values
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Pre-compiled regexes for error message sanitization
var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|wss?|tcp)://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status represents the health state of a component or of the process
type Status struct {
	Component   string    `json:"component"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics contains health-related metrics
type Metrics struct {
	Uptime     time.Duration `json:"uptime"`
	ErrorCount int           `json:"error_count"`
	LastCheck  time.Time     `json:"last_check,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == StatusHealthy
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == StatusDegraded
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == StatusUnhealthy
}

// sanitizeErrorMessage strips hosts, paths and credentials from store and
// broker errors before they are exposed on the health endpoint.
func sanitizeErrorMessage(err string) string {
	if err == "" {
		return ""
	}

	sanitized := urlRegex.ReplaceAllString(err, "[URL]")
	sanitized = unixPathRegex.ReplaceAllString(sanitized, "[PATH]")
	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")
	sanitized = portRegex.ReplaceAllString(sanitized, "[PORT]")

	lower := strings.ToLower(sanitized)
	if strings.Contains(lower, "password") || strings.Contains(lower, "token") ||
		strings.Contains(lower, "secret") || strings.Contains(lower, "credential") {
		sanitized = credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
	}

	return sanitized
}

// FromComponentHealth converts a component.HealthStatus to a Status
func FromComponentHealth(name string, ch component.HealthStatus) Status {
	status := Status{
		Component: name,
		Status:    StatusHealthy,
		Message:   "Component healthy",
		Timestamp: time.Now(),
		Metrics: &Metrics{
			Uptime:     ch.Uptime,
			ErrorCount: ch.ErrorCount,
			LastCheck:  ch.LastCheck,
		},
	}

	switch {
	case !ch.Healthy:
		status.Status = StatusUnhealthy
		status.Message = "Component not running"
		if ch.LastError != "" {
			status.Message = sanitizeErrorMessage(ch.LastError)
		}
	case ch.LastError != "":
		status.Status = StatusDegraded
		status.Message = sanitizeErrorMessage(ch.LastError)
	}

	return status
}

// Aggregate combines sub-statuses: unhealthy if any is unhealthy, else
// degraded if any is degraded, else healthy.
func Aggregate(name string, subStatuses []Status) Status {
	status := Status{
		Component: name,
		Status:    StatusHealthy,
		Message:   "All components healthy",
		Timestamp: time.Now(),
	}
	if len(subStatuses) == 0 {
		status.Message = "No components"
		return status
	}

	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			status.Status = StatusUnhealthy
			status.Message = "One or more components are unhealthy"
		case sub.IsDegraded() && !status.IsUnhealthy():
			status.Status = StatusDegraded
			status.Message = "One or more components are degraded"
		}
	}

	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)
	return status
}
