package cassandra

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/c360/colsink/errors"
)

// identifierPattern matches unquoted CQL identifiers. Keyspace and table names
// are interpolated into statements, so nothing else is accepted.
var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,47}$`)

// Batch types accepted in Config.BatchType.
const (
	BatchUnlogged = "unlogged"
	BatchLogged   = "logged"
)

// Config holds the connection settings of a Cassandra store.
type Config struct {
	Hosts    []string  `json:"hosts"    yaml:"hosts"`
	Port     int       `json:"port"     yaml:"port"`
	Keyspace string    `json:"keyspace" yaml:"keyspace"`
	Username string    `json:"username,omitempty" yaml:"username,omitempty"`
	Password string    `json:"password,omitempty" yaml:"password,omitempty"`
	TLS      TLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`

	// Consistency is a gocql consistency name such as QUORUM or LOCAL_ONE.
	Consistency string `json:"consistency" yaml:"consistency"`
	// BatchType is "unlogged" (default) or "logged".
	BatchType string `json:"batch_type" yaml:"batch_type"`

	Timeout        string `json:"timeout"         yaml:"timeout"`
	ConnectTimeout string `json:"connect_timeout" yaml:"connect_timeout"`
	// ConnectAttempts bounds session creation at startup. Writes are never retried.
	ConnectAttempts int `json:"connect_attempts" yaml:"connect_attempts"`
	ProtoVersion    int `json:"proto_version,omitempty" yaml:"proto_version,omitempty"`

	// Column names of the wide-row tables: one partition per row key, one
	// clustering row per field.
	KeyColumn   string `json:"key_column"   yaml:"key_column"`
	NameColumn  string `json:"name_column"  yaml:"name_column"`
	ValueColumn string `json:"value_column" yaml:"value_column"`
}

// TLSConfig enables client TLS. The files are read by the driver when it
// dials each host.
type TLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
	// SkipHostVerification accepts server certificates issued for other names.
	SkipHostVerification bool `json:"skip_host_verification,omitempty" yaml:"skip_host_verification,omitempty"`
}

// DefaultConfig returns settings for a local single-node cluster.
func DefaultConfig() Config {
	return Config{
		Hosts:           []string{"127.0.0.1"},
		Port:            9042,
		Consistency:     "QUORUM",
		BatchType:       BatchUnlogged,
		Timeout:         "10s",
		ConnectTimeout:  "5s",
		ConnectAttempts: 3,
		KeyColumn:       "key",
		NameColumn:      "column1",
		ValueColumn:     "value",
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if len(c.Hosts) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "at least one host is required")
	}
	for _, h := range c.Hosts {
		if strings.TrimSpace(h) == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "host cannot be empty")
		}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("port %d out of range", c.Port))
	}
	if err := ValidateIdentifier(c.Keyspace); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "keyspace")
	}
	if _, err := c.consistency(); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "Config", "Validate", "consistency")
	}
	if _, err := c.batchType(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "batch_type")
	}
	if _, err := parseDuration(c.Timeout); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "timeout")
	}
	if _, err := parseDuration(c.ConnectTimeout); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "connect_timeout")
	}
	if c.ConnectAttempts < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "connect_attempts cannot be negative")
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return errors.WrapInvalid(fmt.Errorf("%w: tls cert_file and key_file must be set together", errors.ErrInvalidConfig),
			"Config", "Validate", "tls")
	}
	for _, col := range []string{c.KeyColumn, c.NameColumn, c.ValueColumn} {
		if err := ValidateIdentifier(col); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "column names")
		}
	}
	return nil
}

// ValidateIdentifier checks that name can be used as a keyspace, table or column.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: invalid CQL identifier %q", errors.ErrInvalidConfig, name)
	}
	return nil
}

func (c *Config) consistency() (gocql.Consistency, error) {
	if c.Consistency == "" {
		return gocql.Quorum, nil
	}
	return gocql.ParseConsistencyWrapper(strings.ToUpper(c.Consistency))
}

func (c *Config) batchType() (gocql.BatchType, error) {
	switch strings.ToLower(c.BatchType) {
	case "", BatchUnlogged:
		return gocql.UnloggedBatch, nil
	case BatchLogged:
		return gocql.LoggedBatch, nil
	default:
		return 0, fmt.Errorf("%w: unknown batch type %q", errors.ErrInvalidConfig, c.BatchType)
	}
}

// cluster builds the gocql cluster configuration. Validate must pass first.
func (c *Config) cluster() (*gocql.ClusterConfig, error) {
	consistency, err := c.consistency()
	if err != nil {
		return nil, err
	}
	timeout, err := parseDuration(c.Timeout)
	if err != nil {
		return nil, err
	}
	connectTimeout, err := parseDuration(c.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	cluster := gocql.NewCluster(c.Hosts...)
	cluster.Port = c.Port
	cluster.Keyspace = c.Keyspace
	cluster.Consistency = consistency
	if timeout > 0 {
		cluster.Timeout = timeout
	}
	if connectTimeout > 0 {
		cluster.ConnectTimeout = connectTimeout
	}
	if c.ProtoVersion > 0 {
		cluster.ProtoVersion = c.ProtoVersion
	}
	if c.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: c.Username,
			Password: c.Password,
		}
	}
	if c.TLS.Enabled {
		cluster.SslOpts = &gocql.SslOptions{
			CertPath:               c.TLS.CertFile,
			KeyPath:                c.TLS.KeyFile,
			CaPath:                 c.TLS.CAFile,
			EnableHostVerification: !c.TLS.SkipHostVerification,
		}
	}
	return cluster, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: negative duration %q", errors.ErrInvalidConfig, s)
	}
	return d, nil
}
