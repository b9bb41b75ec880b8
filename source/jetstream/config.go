package jetstream

import (
	"fmt"
	"strings"
	"time"

	njs "github.com/nats-io/nats.go/jetstream"

	"github.com/c360/colsink/errors"
	"github.com/c360/colsink/natsclient"
)

// Config selects the stream and durable consumer a sink reads from.
type Config struct {
	Stream        string   `json:"stream" yaml:"stream"`
	Subjects      []string `json:"subjects,omitempty" yaml:"subjects,omitempty"`
	Durable       string   `json:"durable" yaml:"durable"`
	AckWait       string   `json:"ack_wait,omitempty" yaml:"ack_wait,omitempty"`
	MaxDeliver    int      `json:"max_deliver,omitempty" yaml:"max_deliver,omitempty"`
	MaxAckPending int      `json:"max_ack_pending,omitempty" yaml:"max_ack_pending,omitempty"`
	DeliverPolicy string   `json:"deliver_policy,omitempty" yaml:"deliver_policy,omitempty"`

	// CreateStream creates the stream with Subjects when it does not exist.
	CreateStream bool `json:"create_stream,omitempty" yaml:"create_stream,omitempty"`
}

// ServerAckWait is the ack wait the server applies when none is configured.
const ServerAckWait = 30 * time.Second

// DefaultMaxDeliver bounds redelivery of a message that keeps failing its
// batch. With the default ack wait it allows about five minutes of failed
// writes before the message is given up.
const DefaultMaxDeliver = 10

// DefaultConfig returns a consumer config with a 30s ack wait delivering all
// retained messages.
func DefaultConfig() Config {
	return Config{
		Durable:       "colsink",
		AckWait:       "30s",
		MaxDeliver:    DefaultMaxDeliver,
		DeliverPolicy: "all",
	}
}

// Validate checks required fields and parses durations.
func (c Config) Validate() error {
	if c.Stream == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "JetStreamConfig", "Validate", "stream is required")
	}
	if c.Durable == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "JetStreamConfig", "Validate", "durable is required")
	}
	if strings.ContainsAny(c.Durable, ". *>") {
		return errors.WrapInvalid(fmt.Errorf("%w: durable %q contains reserved characters", errors.ErrInvalidConfig, c.Durable),
			"JetStreamConfig", "Validate", "check durable name")
	}
	if c.CreateStream && len(c.Subjects) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "JetStreamConfig", "Validate",
			"subjects are required when create_stream is set")
	}
	if c.MaxDeliver < 0 || c.MaxAckPending < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "JetStreamConfig", "Validate",
			"max_deliver and max_ack_pending must not be negative")
	}
	if _, err := c.ackWait(); err != nil {
		return err
	}
	if _, err := c.deliverPolicy(); err != nil {
		return err
	}
	return nil
}

func (c Config) ackWait() (time.Duration, error) {
	if c.AckWait == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.AckWait)
	if err != nil || d < 0 {
		return 0, errors.WrapInvalid(fmt.Errorf("%w: ack_wait %q", errors.ErrInvalidConfig, c.AckWait),
			"JetStreamConfig", "Validate", "parse ack_wait")
	}
	return d, nil
}

// EffectiveAckWait returns how long the server waits for an ack before
// redelivering. Validate must have succeeded.
func (c Config) EffectiveAckWait() time.Duration {
	if d, _ := c.ackWait(); d > 0 {
		return d
	}
	return ServerAckWait
}

func (c Config) deliverPolicy() (njs.DeliverPolicy, error) {
	switch strings.ToLower(c.DeliverPolicy) {
	case "", "all":
		return njs.DeliverAllPolicy, nil
	case "new":
		return njs.DeliverNewPolicy, nil
	case "last":
		return njs.DeliverLastPolicy, nil
	case "last_per_subject":
		return njs.DeliverLastPerSubjectPolicy, nil
	default:
		return njs.DeliverAllPolicy, errors.WrapInvalid(
			fmt.Errorf("%w: deliver_policy %q", errors.ErrInvalidConfig, c.DeliverPolicy),
			"JetStreamConfig", "Validate", "parse deliver_policy")
	}
}

// consumerSpec builds the natsclient consumer for one worker.
func (c Config) consumerSpec(worker string) natsclient.ConsumerSpec {
	ackWait, _ := c.ackWait()
	policy, _ := c.deliverPolicy()
	return natsclient.ConsumerSpec{
		Stream:         c.Stream,
		Durable:        c.Durable,
		FilterSubjects: c.Subjects,
		AckWait:        ackWait,
		MaxDeliver:     c.MaxDeliver,
		MaxAckPending:  c.MaxAckPending,
		DeliverPolicy:  policy,
		Worker:         worker,
	}
}
