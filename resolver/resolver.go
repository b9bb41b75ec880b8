// Package resolver maps a Record to its destination in the column store.
//
// A destination is a (table, row key) pair. The two halves are resolved by
// independent strategies so they can be swapped separately. Every resolver is
// pure: the same record always resolves to the same value, and a resolver
// either resolves a record or fails with an error wrapping errors.ErrResolution.
package resolver

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/c360/colsink/errors"
	"github.com/c360/colsink/message"
)

// TableResolver resolves the table a record is written to.
type TableResolver interface {
	ResolveTable(rec *message.Record) (string, error)
}

// RowKeyResolver resolves the row key a record is written under.
type RowKeyResolver interface {
	ResolveRowKey(rec *message.Record) (string, error)
}

// TableFunc adapts a function to TableResolver.
type TableFunc func(rec *message.Record) (string, error)

// ResolveTable calls f(rec).
func (f TableFunc) ResolveTable(rec *message.Record) (string, error) {
	return f(rec)
}

// RowKeyFunc adapts a function to RowKeyResolver.
type RowKeyFunc func(rec *message.Record) (string, error)

// ResolveRowKey calls f(rec).
func (f RowKeyFunc) ResolveRowKey(rec *message.Record) (string, error) {
	return f(rec)
}

// ConstantTable writes every record to the same table.
type ConstantTable string

// ResolveTable returns the configured table name.
func (c ConstantTable) ResolveTable(_ *message.Record) (string, error) {
	if c == "" {
		return "", resolutionError("ConstantTable", "table name is empty")
	}
	return string(c), nil
}

// FieldTable names the table after the value of one field.
type FieldTable string

// ResolveTable returns the textual value of the configured field.
func (f FieldTable) ResolveTable(rec *message.Record) (string, error) {
	return fieldText(rec, string(f), "FieldTable")
}

// FieldRowKey uses the value of one field as the row key.
type FieldRowKey string

// ResolveRowKey returns the textual value of the configured field.
func (f FieldRowKey) ResolveRowKey(rec *message.Record) (string, error) {
	return fieldText(rec, string(f), "FieldRowKey")
}

// CompositeRowKey joins the values of several fields into one row key.
type CompositeRowKey struct {
	Fields    []string
	Separator string
}

// ResolveRowKey joins the configured fields' values with the separator.
func (c CompositeRowKey) ResolveRowKey(rec *message.Record) (string, error) {
	if len(c.Fields) == 0 {
		return "", resolutionError("CompositeRowKey", "no fields configured")
	}

	parts := make([]string, len(c.Fields))
	for i, name := range c.Fields {
		v, err := fieldText(rec, name, "CompositeRowKey")
		if err != nil {
			return "", err
		}
		parts[i] = v
	}
	return strings.Join(parts, c.Separator), nil
}

// HashedRowKey replaces another resolver's key with its hex SHA-256 digest.
// Useful to spread monotonically increasing keys across the token ring.
type HashedRowKey struct {
	Inner RowKeyResolver
}

// ResolveRowKey hashes the inner resolver's key.
func (h HashedRowKey) ResolveRowKey(rec *message.Record) (string, error) {
	if h.Inner == nil {
		return "", resolutionError("HashedRowKey", "no inner resolver")
	}
	key, err := h.Inner.ResolveRowKey(rec)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]), nil
}

// TimeBucketTable writes records into time-bucketed tables such as events_202405.
//
// The bucket is taken from a timestamp field: a time.Time, an RFC3339 string, or
// a number of Unix seconds. Layout is a Go time layout applied in UTC.
type TimeBucketTable struct {
	Prefix string
	Field  string
	Layout string
}

// ResolveTable formats the record's timestamp into a table name.
func (tb TimeBucketTable) ResolveTable(rec *message.Record) (string, error) {
	v, ok := rec.Value(tb.Field)
	if !ok || v == nil {
		return "", resolutionError("TimeBucketTable", fmt.Sprintf("record has no %q field", tb.Field))
	}

	ts, err := toTime(v)
	if err != nil {
		return "", resolutionError("TimeBucketTable", fmt.Sprintf("field %q: %v", tb.Field, err))
	}

	layout := tb.Layout
	if layout == "" {
		layout = "200601"
	}
	return tb.Prefix + ts.UTC().Format(layout), nil
}

func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		return time.Parse(time.RFC3339Nano, x)
	case int64:
		return time.Unix(x, 0), nil
	case int:
		return time.Unix(int64(x), 0), nil
	case float64:
		return time.Unix(int64(x), 0), nil
	case interface{ Int64() (int64, error) }:
		secs, err := x.Int64()
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(secs, 0), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func fieldText(rec *message.Record, name, strategy string) (string, error) {
	v, ok := rec.Value(name)
	if !ok {
		return "", resolutionError(strategy, fmt.Sprintf("record has no %q field", name))
	}
	text, err := message.Text(v)
	if err != nil {
		return "", resolutionError(strategy, fmt.Sprintf("field %q: %v", name, err))
	}
	return text, nil
}

func resolutionError(strategy, reason string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrResolution, reason), strategy, "Resolve", "resolve destination")
}
