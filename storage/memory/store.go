// Package memory provides an in-process column store.
//
// It applies mutation requests to nested maps and is used for dry runs
// (store.driver "memory") and for exercising sinks in tests without a
// cluster. A request is applied entirely or not at all.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/c360/colsink/errors"
	"github.com/c360/colsink/sink"
)

type row map[string]string

// Store keeps tables in memory. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	tables   map[string]map[string]row
	requests int
	failNext []error
	closed   bool
}

// New creates an empty store.
func New() *Store {
	return &Store{tables: make(map[string]map[string]row)}
}

// Execute applies every insertion of req. Later insertions of the same
// column overwrite earlier ones.
func (s *Store) Execute(ctx context.Context, req *sink.MutationRequest) error {
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "MemoryStore", "Execute", "context done")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.WrapTransient(errors.ErrNoConnection, "MemoryStore", "Execute", "store closed")
	}
	s.requests++
	if len(s.failNext) > 0 {
		err := s.failNext[0]
		s.failNext = s.failNext[1:]
		if err != nil {
			return err
		}
	}

	for _, ins := range req.Insertions {
		rows, ok := s.tables[ins.Table]
		if !ok {
			rows = make(map[string]row)
			s.tables[ins.Table] = rows
		}
		r, ok := rows[ins.RowKey]
		if !ok {
			r = make(row)
			rows[ins.RowKey] = r
		}
		r[ins.Column] = ins.Value
	}
	return nil
}

// FailNext queues results for upcoming Execute calls. A nil entry lets the
// matching call succeed.
func (s *Store) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = append(s.failNext, errs...)
}

// Close marks the store closed. Data stays readable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called
func (s *Store) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Row returns a copy of the columns stored under key in table.
func (s *Store) Row(table, key string) (map[string]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.tables[table][key]
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out, true
}

// Tables returns the table names in sorted order.
func (s *Store) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RowKeys returns the row keys of table in sorted order.
func (s *Store) RowKeys(table string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.tables[table]))
	for k := range s.tables[table] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Requests returns the number of Execute calls that reached the store.
func (s *Store) Requests() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requests
}
