package kafka

import (
	"fmt"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/c360/colsink/errors"
)

// Config selects the topics and consumer group a sink reads from.
type Config struct {
	Brokers     []string `json:"brokers" yaml:"brokers"`
	Topics      []string `json:"topics" yaml:"topics"`
	Group       string   `json:"group" yaml:"group"`
	ClientID    string   `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	StartOffset string   `json:"start_offset,omitempty" yaml:"start_offset,omitempty"`

	SessionTimeout string `json:"session_timeout,omitempty" yaml:"session_timeout,omitempty"`
	FetchMaxWait   string `json:"fetch_max_wait,omitempty" yaml:"fetch_max_wait,omitempty"`
}

// DefaultConfig returns a consumer group config starting at the earliest
// offset when the group has no commits.
func DefaultConfig() Config {
	return Config{
		Brokers:        []string{"localhost:9092"},
		Group:          "colsink",
		ClientID:       "colsink",
		StartOffset:    "earliest",
		SessionTimeout: "45s",
		FetchMaxWait:   "5s",
	}
}

// Validate checks required fields and parses durations.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "KafkaConfig", "Validate", "at least one broker is required")
	}
	if len(c.Topics) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "KafkaConfig", "Validate", "at least one topic is required")
	}
	if c.Group == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "KafkaConfig", "Validate", "group is required")
	}
	if _, err := c.resetOffset(); err != nil {
		return err
	}
	for name, value := range map[string]string{
		"session_timeout": c.SessionTimeout,
		"fetch_max_wait":  c.FetchMaxWait,
	} {
		if _, err := parseDuration(name, value); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) resetOffset() (kgo.Offset, error) {
	switch strings.ToLower(c.StartOffset) {
	case "", "earliest":
		return kgo.NewOffset().AtStart(), nil
	case "latest":
		return kgo.NewOffset().AtEnd(), nil
	default:
		return kgo.NewOffset(), errors.WrapInvalid(
			fmt.Errorf("%w: start_offset %q", errors.ErrInvalidConfig, c.StartOffset),
			"KafkaConfig", "Validate", "parse start_offset")
	}
}

// options builds the kgo client options for one group member. Offsets are
// committed only for records marked through Ack.
func (c Config) options(worker string) []kgo.Opt {
	offset, _ := c.resetOffset()
	clientID := c.ClientID
	if clientID == "" {
		clientID = c.Group
	}
	if worker != "" {
		clientID += "-" + worker
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(c.Brokers...),
		kgo.ConsumerGroup(c.Group),
		kgo.ConsumeTopics(c.Topics...),
		kgo.ConsumeResetOffset(offset),
		kgo.ClientID(clientID),
		kgo.AutoCommitMarks(),
	}
	if d, _ := parseDuration("session_timeout", c.SessionTimeout); d > 0 {
		opts = append(opts, kgo.SessionTimeout(d))
	}
	if d, _ := parseDuration("fetch_max_wait", c.FetchMaxWait); d > 0 {
		opts = append(opts, kgo.FetchMaxWait(d))
	}
	return opts
}

func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, errors.WrapInvalid(fmt.Errorf("%w: %s %q", errors.ErrInvalidConfig, name, value),
			"KafkaConfig", "Validate", "parse "+name)
	}
	return d, nil
}
