package cassandra

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gocql/gocql"

	"github.com/c360/colsink/errors"
	"github.com/c360/colsink/pkg/retry"
	"github.com/c360/colsink/sink"
)

// Store writes mutation requests to Cassandra wide-row tables.
type Store struct {
	cfg       Config
	session   *gocql.Session
	batchType gocql.BatchType
	logger    *slog.Logger

	// insert statements by table
	statements sync.Map

	mu     sync.RWMutex
	closed bool
}

// Connect validates cfg and opens a session. Session creation is attempted up
// to ConnectAttempts times; a failure after the last attempt is fatal.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cluster, err := cfg.cluster()
	if err != nil {
		return nil, errors.WrapInvalid(err, "CassandraStore", "Connect", "build cluster config")
	}
	batchType, err := cfg.batchType()
	if err != nil {
		return nil, errors.WrapInvalid(err, "CassandraStore", "Connect", "batch type")
	}

	retryCfg := retry.Quick()
	retryCfg.MaxAttempts = cfg.ConnectAttempts
	retryCfg.OnRetry = func(attempt int, err error) {
		logger.Warn("Cassandra connection attempt failed",
			"attempt", attempt,
			"hosts", cfg.Hosts,
			"keyspace", cfg.Keyspace,
			"error", err)
	}

	session, err := retry.DoWithResult(ctx, retryCfg, cluster.CreateSession)
	if err != nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrConnection, err),
			"CassandraStore", "Connect", "create session")
	}

	logger.Info("Connected to Cassandra",
		"hosts", cfg.Hosts,
		"port", cfg.Port,
		"keyspace", cfg.Keyspace,
		"consistency", cluster.Consistency.String())

	return &Store{
		cfg:       cfg,
		session:   session,
		batchType: batchType,
		logger:    logger,
	}, nil
}

// Execute submits every insertion of req as one batch.
func (s *Store) Execute(ctx context.Context, req *sink.MutationRequest) error {
	if req.Len() == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.WrapTransient(errors.ErrNoConnection, "CassandraStore", "Execute", "session closed")
	}

	batch := s.session.NewBatch(s.batchType).WithContext(ctx)
	for _, ins := range req.Insertions {
		stmt, err := s.insertStatement(ins.Table)
		if err != nil {
			return errors.WrapInvalid(err, "CassandraStore", "Execute", "build statement")
		}
		batch.Query(stmt, ins.RowKey, ins.Column, ins.Value)
	}

	start := time.Now()
	if err := s.session.ExecuteBatch(batch); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrStorageUnavailable, err),
			"CassandraStore", "Execute", fmt.Sprintf("execute batch of %d statements", req.Len()))
	}

	s.logger.Debug("Batch executed",
		"statements", req.Len(),
		"tables", req.Tables(),
		"duration", time.Since(start))
	return nil
}

// Close closes the session.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.session.Close()
	return nil
}

// Keyspace returns the configured keyspace.
func (s *Store) Keyspace() string {
	return s.cfg.Keyspace
}

func (s *Store) insertStatement(table string) (string, error) {
	if stmt, ok := s.statements.Load(table); ok {
		return stmt.(string), nil
	}
	stmt, err := InsertStatement(s.cfg, table)
	if err != nil {
		return "", err
	}
	s.statements.Store(table, stmt)
	return stmt, nil
}

// InsertStatement returns the CQL insert for one column of one row of table.
func InsertStatement(cfg Config, table string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", err
	}
	return fmt.Sprintf(`INSERT INTO "%s"."%s" ("%s", "%s", "%s") VALUES (?, ?, ?)`,
		cfg.Keyspace, table, cfg.KeyColumn, cfg.NameColumn, cfg.ValueColumn), nil
}

// CreateTableStatement returns the CQL that creates a wide-row table matching
// InsertStatement. The sink never runs it; it is provided for provisioning.
func CreateTableStatement(cfg Config, table string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", err
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s"."%s" ("%s" text, "%s" text, "%s" text, PRIMARY KEY ("%s", "%s"))`,
		cfg.Keyspace, table, cfg.KeyColumn, cfg.NameColumn, cfg.ValueColumn, cfg.KeyColumn, cfg.NameColumn), nil
}
