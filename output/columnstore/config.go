package columnstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/colsink/errors"
	"github.com/c360/colsink/resolver"
	"github.com/c360/colsink/sink"
	"github.com/c360/colsink/source"
	"github.com/c360/colsink/source/jetstream"
	"github.com/c360/colsink/source/kafka"
	"github.com/c360/colsink/storage"
	"github.com/c360/colsink/storage/cassandra"
)

// SourceConfig selects where records come from. Only the section named by
// Type is used.
type SourceConfig struct {
	Type      string           `json:"type"      yaml:"type"`
	JetStream jetstream.Config `json:"jetstream" yaml:"jetstream"`
	Kafka     kafka.Config     `json:"kafka"     yaml:"kafka"`
}

// StoreConfig selects the column store records are written to.
type StoreConfig struct {
	Driver    string           `json:"driver"    yaml:"driver"`
	Cassandra cassandra.Config `json:"cassandra" yaml:"cassandra"`
}

// Config holds configuration for the column store output
type Config struct {
	// Name labels logs and metrics. It must be unique per process.
	Name string `json:"name" yaml:"name"`

	Source SourceConfig `json:"source" yaml:"source"`
	Store  StoreConfig  `json:"store"  yaml:"store"`

	Table  resolver.TableConfig  `json:"table"   yaml:"table"`
	RowKey resolver.RowKeyConfig `json:"row_key" yaml:"row_key"`

	BatchSize     int            `json:"batch_size"     yaml:"batch_size"`
	FlushInterval string         `json:"flush_interval" yaml:"flush_interval"`
	AckPolicy     sink.AckPolicy `json:"ack_policy"     yaml:"ack_policy"`

	// Workers is the number of independent sink instances. Each owns its
	// buffer, its store session and its upstream consumer.
	Workers         int    `json:"workers"          yaml:"workers"`
	ShutdownTimeout string `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DefaultConfig returns default configuration for the column store output
func DefaultConfig() Config {
	return Config{
		Name: "columnstore",
		Source: SourceConfig{
			Type:      source.TypeJetStream,
			JetStream: jetstream.DefaultConfig(),
			Kafka:     kafka.DefaultConfig(),
		},
		Store: StoreConfig{
			Driver:    storage.DriverCassandra,
			Cassandra: cassandra.DefaultConfig(),
		},
		Table:           resolver.TableConfig{Strategy: resolver.StrategyConstant},
		RowKey:          resolver.RowKeyConfig{Strategy: resolver.StrategyField, Field: "id"},
		BatchSize:       sink.DefaultBatchSize,
		FlushInterval:   "5s",
		AckPolicy:       sink.AckOnWrite,
		Workers:         1,
		ShutdownTimeout: "30s",
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "name is required")
	}
	if c.BatchSize < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "batch_size must be at least 1")
	}
	if c.Workers < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "workers must be at least 1")
	}
	interval, err := parseDuration("flush_interval", c.FlushInterval)
	if err != nil {
		return err
	}
	if _, err := parseDuration("shutdown_timeout", c.ShutdownTimeout); err != nil {
		return err
	}

	switch c.Source.Type {
	case source.TypeJetStream:
		if err := c.Source.JetStream.Validate(); err != nil {
			return errors.Wrap(err, "Config", "Validate", "jetstream source")
		}
		if c.AckPolicy == sink.AckOnWrite {
			if err := c.validateRedelivery(interval); err != nil {
				return err
			}
		}
	case source.TypeKafka:
		if err := c.Source.Kafka.Validate(); err != nil {
			return errors.Wrap(err, "Config", "Validate", "kafka source")
		}
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: source type %q, expected one of %v", errors.ErrInvalidConfig, c.Source.Type, source.Types()),
			"Config", "Validate", "source type")
	}

	switch c.Store.Driver {
	case storage.DriverCassandra:
		if err := c.Store.Cassandra.Validate(); err != nil {
			return errors.Wrap(err, "Config", "Validate", "cassandra store")
		}
	case storage.DriverMemory:
	default:
		return errors.WrapInvalid(
			fmt.Errorf("%w: store driver %q, expected one of %v", errors.ErrInvalidConfig, c.Store.Driver, storage.Drivers()),
			"Config", "Validate", "store driver")
	}

	if _, err := resolver.NewTableResolver(c.Table); err != nil {
		return err
	}
	if _, err := resolver.NewRowKeyResolver(c.RowKey); err != nil {
		return err
	}
	return nil
}

// validateRedelivery keeps on_write buffers from outliving the JetStream ack
// wait. A record still buffered when the ack wait expires is redelivered into
// the same sink, and a consumer whose ack pending limit is below what the
// workers buffer stops delivering before any batch fills.
func (c *Config) validateRedelivery(interval time.Duration) error {
	ackWait := c.Source.JetStream.EffectiveAckWait()
	if interval <= 0 || interval >= ackWait {
		return errors.WrapInvalid(
			fmt.Errorf("%w: flush_interval %q must be set and shorter than ack_wait %s under on_write",
				errors.ErrInvalidConfig, c.FlushInterval, ackWait),
			"Config", "Validate", "check flush_interval")
	}
	if pending := c.Source.JetStream.MaxAckPending; pending > 0 && pending < c.BatchSize*c.Workers {
		return errors.WrapInvalid(
			fmt.Errorf("%w: max_ack_pending %d is below batch_size %d times workers %d",
				errors.ErrInvalidConfig, pending, c.BatchSize, c.Workers),
			"Config", "Validate", "check max_ack_pending")
	}
	return nil
}

// sinkConfig converts to the per-worker sink settings. Validate must have
// succeeded.
func (c *Config) sinkConfig() sink.Config {
	interval, _ := parseDuration("flush_interval", c.FlushInterval)
	return sink.Config{
		BatchSize:     c.BatchSize,
		FlushInterval: interval,
		AckPolicy:     c.AckPolicy,
	}
}

func (c *Config) shutdownTimeout() time.Duration {
	timeout, _ := parseDuration("shutdown_timeout", c.ShutdownTimeout)
	return timeout
}

// RequiresNATS reports whether a raw columnstore config reads from JetStream
// and therefore needs a NATS connection in its dependencies.
func RequiresNATS(rawConfig json.RawMessage) bool {
	cfg := DefaultConfig()
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return false
		}
	}
	return cfg.Source.Type == source.TypeJetStream
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, errors.WrapInvalid(fmt.Errorf("%w: %s %q", errors.ErrInvalidConfig, field, value),
			"Config", "Validate", "parse "+field)
	}
	return d, nil
}
