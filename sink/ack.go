package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/c360/colsink/errors"
	"github.com/c360/colsink/message"
)

// AckPolicy decides when a record is acknowledged upstream.
type AckPolicy int

const (
	// AckIgnore never acknowledges records.
	AckIgnore AckPolicy = iota
	// AckOnReceive acknowledges a record as soon as it reaches the sink.
	AckOnReceive
	// AckOnWrite acknowledges the records of a batch once the batch was written.
	// Records of a failed batch are left unacknowledged for upstream replay.
	AckOnWrite
)

// String returns the configuration name of the policy
func (p AckPolicy) String() string {
	switch p {
	case AckIgnore:
		return "ignore"
	case AckOnReceive:
		return "on_receive"
	case AckOnWrite:
		return "on_write"
	default:
		return "unknown"
	}
}

// ParseAckPolicy parses a policy name. Both the short names (on_write) and the
// legacy constant names (ACK_ON_WRITE) are accepted, case-insensitively.
func ParseAckPolicy(s string) (AckPolicy, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "ack_")
	switch name {
	case "ignore", "":
		return AckIgnore, nil
	case "on_receive":
		return AckOnReceive, nil
	case "on_write":
		return AckOnWrite, nil
	default:
		return AckIgnore, errors.WrapInvalid(fmt.Errorf("%w: unknown ack policy %q", errors.ErrInvalidConfig, s),
			"AckPolicy", "Parse", "parse policy")
	}
}

// MarshalText implements encoding.TextMarshaler
func (p AckPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *AckPolicy) UnmarshalText(text []byte) error {
	parsed, err := ParseAckPolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Acknowledger signals upstream that a record is done.
type Acknowledger interface {
	Ack(ctx context.Context, rec *message.Record) error
}

// AckFunc adapts a function to Acknowledger.
type AckFunc func(ctx context.Context, rec *message.Record) error

// Ack calls f(ctx, rec).
func (f AckFunc) Ack(ctx context.Context, rec *message.Record) error {
	return f(ctx, rec)
}

// Coordinator applies the ack policy. It is consulted at exactly two points:
// when a record arrives and when a batch outcome is known.
type Coordinator struct {
	policy   AckPolicy
	acker    Acknowledger
	logger   *slog.Logger
	metrics  *Metrics
	instance string

	acked     atomic.Int64
	ackErrors atomic.Int64
}

// NewCoordinator creates a coordinator. acker may be nil only with AckIgnore.
func NewCoordinator(policy AckPolicy, acker Acknowledger, logger *slog.Logger) (*Coordinator, error) {
	if policy != AckIgnore && acker == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Coordinator", "NewCoordinator",
			fmt.Sprintf("acknowledger required for policy %s", policy))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		policy: policy,
		acker:  acker,
		logger: logger,
	}, nil
}

// Policy returns the configured policy.
func (c *Coordinator) Policy() AckPolicy {
	return c.policy
}

// OnReceive is called for every record before it is buffered.
func (c *Coordinator) OnReceive(ctx context.Context, rec *message.Record) {
	if c.policy != AckOnReceive {
		return
	}
	c.ack(ctx, rec)
}

// OnOutcome is called once per flushed batch.
func (c *Coordinator) OnOutcome(ctx context.Context, out Outcome) {
	if c.policy != AckOnWrite || !out.Success {
		return
	}
	for _, rec := range out.Records {
		c.ack(ctx, rec)
	}
}

// Acked returns the number of successful acknowledgments.
func (c *Coordinator) Acked() int64 {
	return c.acked.Load()
}

// AckErrors returns the number of failed acknowledgments.
func (c *Coordinator) AckErrors() int64 {
	return c.ackErrors.Load()
}

func (c *Coordinator) ack(ctx context.Context, rec *message.Record) {
	if err := c.acker.Ack(ctx, rec); err != nil {
		c.ackErrors.Add(1)
		c.metrics.recordAckError(c.instance)
		c.logger.Warn("Failed to acknowledge record",
			"policy", c.policy.String(),
			"source", rec.Source,
			"error", err)
		return
	}
	c.acked.Add(1)
	c.metrics.recordAck(c.instance, c.policy)
}
