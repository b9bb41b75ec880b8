package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/c360/colsink/errors"
	"github.com/c360/colsink/metric"
)

// ComponentConfigs holds component instance configurations keyed by instance
// name (e.g. "events-to-cassandra").
type ComponentConfigs map[string]ComponentConfig

// ComponentConfig selects a component type and carries its raw config, which
// the component's factory decodes and validates.
type ComponentConfig struct {
	Type    string          `json:"type"`
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// Validate checks the fields common to every component
func (c ComponentConfig) Validate() error {
	if c.Type == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "ComponentConfig", "Validate", "type is required")
	}
	return nil
}

// Config represents the complete application configuration
type Config struct {
	Version    string           `json:"version,omitempty"`
	Service    ServiceConfig    `json:"service"`
	NATS       NATSConfig       `json:"nats"`
	Metrics    MetricsConfig    `json:"metrics"`
	Components ComponentConfigs `json:"components"`
}

// ServiceConfig identifies the process and configures its logging
type ServiceConfig struct {
	Name      string `json:"name"`
	LogLevel  string `json:"log_level,omitempty"`
	LogFormat string `json:"log_format,omitempty"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	TLS           NATSTLSConfig `json:"tls,omitempty"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// URL returns the comma-joined server list accepted by nats.Connect
func (n NATSConfig) URL() string {
	return strings.Join(n.URLs, ",")
}

// UnmarshalJSON accepts reconnect_wait as a Go duration string or nanoseconds.
func (n *NATSConfig) UnmarshalJSON(data []byte) error {
	type alias NATSConfig
	aux := &struct {
		ReconnectWait any `json:"reconnect_wait,omitempty"`
		*alias
	}{
		alias: (*alias)(n),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	switch v := aux.ReconnectWait.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("nats.reconnect_wait: %w", err)
		}
		n.ReconnectWait = d
	case float64:
		n.ReconnectWait = time.Duration(v)
	}
	return nil
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
	TLSCert string `json:"tls_cert,omitempty"`
	TLSKey  string `json:"tls_key,omitempty"`
}

// ServerConfig converts to the metric server configuration
func (m MetricsConfig) ServerConfig() metric.ServerConfig {
	return metric.ServerConfig{
		Port:    m.Port,
		Path:    m.Path,
		TLSCert: m.TLSCert,
		TLSKey:  m.TLSKey,
	}
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Version != "" {
		if _, _, _, err := parseSemVer(c.Version); err != nil {
			return invalid("version", err)
		}
	}

	if c.Service.Name == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "service.name is required")
	}
	switch strings.ToLower(c.Service.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return invalid("service.log_level", fmt.Errorf("unknown level %q", c.Service.LogLevel))
	}
	switch strings.ToLower(c.Service.LogFormat) {
	case "", "json", "text":
	default:
		return invalid("service.log_format", fmt.Errorf("unknown format %q", c.Service.LogFormat))
	}

	if c.NATS.TLS.Enabled && (c.NATS.TLS.CertFile == "") != (c.NATS.TLS.KeyFile == "") {
		return invalid("nats.tls", fmt.Errorf("cert_file and key_file must be set together"))
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return invalid("metrics.port", fmt.Errorf("port %d out of range", c.Metrics.Port))
		}
		if (c.Metrics.TLSCert == "") != (c.Metrics.TLSKey == "") {
			return invalid("metrics", fmt.Errorf("tls_cert and tls_key must be set together"))
		}
	}

	for instanceName, component := range c.Components {
		if instanceName == "" {
			return invalid("components", fmt.Errorf("component instance name cannot be empty"))
		}
		if err := component.Validate(); err != nil {
			return fmt.Errorf("component %s: %w", instanceName, err)
		}
	}

	return nil
}

// EnabledComponents returns the names of enabled component instances
func (c *Config) EnabledComponents() []string {
	var names []string
	for name, component := range c.Components {
		if component.Enabled {
			names = append(names, name)
		}
	}
	return names
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	data, _ := json.MarshalIndent(&masked, "", "  ")
	return string(data)
}

func invalid(field string, err error) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s: %w", errors.ErrInvalidConfig, field, err),
		"Config", "Validate", "validate "+field)
}

// parseSemVer parses a semantic version string (e.g., "1.2.3")
func parseSemVer(version string) (int, int, int, error) {
	version = strings.TrimPrefix(version, "v")

	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("version must be in format 'major.minor.patch', got '%s'", version)
	}

	var nums [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, 0, 0, fmt.Errorf("invalid version component '%s'", part)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nil
}
