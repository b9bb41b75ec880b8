package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/colsink/errors"
)

// DefaultEnvPrefix prefixes every environment override
const DefaultEnvPrefix = "COLSINK"

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
	}
}

// AddLayer adds a configuration file layer. JSON and YAML files can be mixed.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every layer in order and environment overrides, then
// validates when enabled.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Defaults())
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "encode defaults")
	}

	for _, path := range l.layers {
		layer, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %s: %w", errors.ErrInvalidConfig, path, err),
				"Loader", "Load", "load layer")
		}
		merged = deepMergeMaps(merged, layer)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "encode merged config")
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"Loader", "Load", "decode merged config")
	}

	if err := l.applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// Defaults returns the configuration used before any layer is applied
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "colsink",
			LogLevel:  "info",
			LogFormat: "json",
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Components: ComponentConfigs{},
	}
}

// loadRaw reads a layer into a generic map. The format follows the extension.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, format, err := readLayer(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch format {
	case formatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
		// normalise YAML scalars (ints, nested maps) through JSON
		if raw, err = roundTrip(raw); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	}
	if err := checkDepth(raw, 0); err != nil {
		return nil, err
	}
	return raw, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func roundTrip(m map[string]any) (map[string]any, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("YAML layer is not representable as JSON: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence.
// Null values in override leave the base value in place.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}

	return result
}

// applyEnvOverrides applies PREFIX_* environment variables
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	lookup := func(name string) (string, bool, error) {
		key := l.envPrefix + "_" + name
		val := os.Getenv(key)
		if val == "" {
			return "", false, nil
		}
		if err := checkEnvValue(key, val); err != nil {
			return "", false, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
				"Loader", "applyEnvOverrides", "read "+key)
		}
		return val, true, nil
	}

	strs := []struct {
		name   string
		target *string
	}{
		{"SERVICE_NAME", &cfg.Service.Name},
		{"LOG_LEVEL", &cfg.Service.LogLevel},
		{"LOG_FORMAT", &cfg.Service.LogFormat},
		{"NATS_USERNAME", &cfg.NATS.Username},
		{"NATS_PASSWORD", &cfg.NATS.Password},
		{"NATS_TOKEN", &cfg.NATS.Token},
	}
	for _, s := range strs {
		val, ok, err := lookup(s.name)
		if err != nil {
			return err
		}
		if ok {
			*s.target = val
		}
	}

	if val, ok, err := lookup("NATS_URLS"); err != nil {
		return err
	} else if ok {
		cfg.NATS.URLs = strings.Split(val, ",")
	}

	if val, ok, err := lookup("NATS_RECONNECT_WAIT"); err != nil {
		return err
	} else if ok {
		d, perr := time.ParseDuration(val)
		if perr != nil {
			return envError("NATS_RECONNECT_WAIT", perr)
		}
		cfg.NATS.ReconnectWait = d
	}

	if val, ok, err := lookup("METRICS_ENABLED"); err != nil {
		return err
	} else if ok {
		b, perr := strconv.ParseBool(val)
		if perr != nil {
			return envError("METRICS_ENABLED", perr)
		}
		cfg.Metrics.Enabled = b
	}

	if val, ok, err := lookup("METRICS_PORT"); err != nil {
		return err
	} else if ok {
		port, perr := strconv.Atoi(val)
		if perr != nil {
			return envError("METRICS_PORT", perr)
		}
		cfg.Metrics.Port = port
	}

	return nil
}

func envError(name string, err error) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s: %w", errors.ErrInvalidConfig, name, err),
		"Loader", "applyEnvOverrides", "parse "+name)
}
