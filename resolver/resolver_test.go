package resolver

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/colsink/errors"
	"github.com/c360/colsink/message"
)

func record(fields ...message.Field) *message.Record {
	return message.NewRecord(nil, fields...)
}

func TestConstantTable(t *testing.T) {
	table, err := ConstantTable("events").ResolveTable(record())
	require.NoError(t, err)
	assert.Equal(t, "events", table)

	_, err = ConstantTable("").ResolveTable(record())
	assert.True(t, errors.Is(err, errors.ErrResolution))
}

func TestFieldRowKey(t *testing.T) {
	rec := record(message.Field{Name: "id", Value: 1234}, message.Field{Name: "name", Value: "x"})

	key, err := FieldRowKey("id").ResolveRowKey(rec)
	require.NoError(t, err)
	assert.Equal(t, "1234", key)

	_, err = FieldRowKey("missing").ResolveRowKey(rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrResolution))
	assert.True(t, errors.IsInvalid(err))
}

func TestFieldRowKey_NilValueFails(t *testing.T) {
	rec := record(message.Field{Name: "id", Value: nil})
	_, err := FieldRowKey("id").ResolveRowKey(rec)
	assert.True(t, errors.Is(err, errors.ErrResolution))
}

func TestFieldTable(t *testing.T) {
	rec := record(message.Field{Name: "kind", Value: "clicks"})
	table, err := FieldTable("kind").ResolveTable(rec)
	require.NoError(t, err)
	assert.Equal(t, "clicks", table)
}

func TestCompositeRowKey(t *testing.T) {
	rec := record(
		message.Field{Name: "tenant", Value: "acme"},
		message.Field{Name: "user", Value: 7},
	)

	key, err := CompositeRowKey{Fields: []string{"tenant", "user"}, Separator: "|"}.ResolveRowKey(rec)
	require.NoError(t, err)
	assert.Equal(t, "acme|7", key)

	_, err = CompositeRowKey{Fields: []string{"tenant", "device"}, Separator: "|"}.ResolveRowKey(rec)
	assert.True(t, errors.Is(err, errors.ErrResolution))

	_, err = CompositeRowKey{}.ResolveRowKey(rec)
	assert.True(t, errors.Is(err, errors.ErrResolution))
}

func TestHashedRowKey_Deterministic(t *testing.T) {
	rec := record(message.Field{Name: "id", Value: "r-1"})
	h := HashedRowKey{Inner: FieldRowKey("id")}

	first, err := h.ResolveRowKey(rec)
	require.NoError(t, err)
	second, err := h.ResolveRowKey(rec)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
	assert.Equal(t, strings.ToLower(first), first)

	other, err := h.ResolveRowKey(record(message.Field{Name: "id", Value: "r-2"}))
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	_, err = HashedRowKey{}.ResolveRowKey(rec)
	assert.True(t, errors.Is(err, errors.ErrResolution))
}

func TestTimeBucketTable(t *testing.T) {
	tb := TimeBucketTable{Prefix: "events_", Field: "ts", Layout: "20060102"}

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"time value", time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC), "events_20240501"},
		{"rfc3339 string", "2024-05-01T23:00:00-02:00", "events_20240502"},
		{"unix seconds json number", json.Number("1714521600"), "events_20240501"},
		{"unix seconds int64", int64(1714521600), "events_20240501"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := tb.ResolveTable(record(message.Field{Name: "ts", Value: tt.value}))
			require.NoError(t, err)
			assert.Equal(t, tt.want, table)
		})
	}
}

func TestTimeBucketTable_DefaultLayoutAndErrors(t *testing.T) {
	tb := TimeBucketTable{Prefix: "m_", Field: "ts"}
	table, err := tb.ResolveTable(record(message.Field{Name: "ts", Value: "2024-05-01T00:00:00Z"}))
	require.NoError(t, err)
	assert.Equal(t, "m_202405", table)

	_, err = tb.ResolveTable(record())
	assert.True(t, errors.Is(err, errors.ErrResolution))

	_, err = tb.ResolveTable(record(message.Field{Name: "ts", Value: "yesterday"}))
	assert.True(t, errors.Is(err, errors.ErrResolution))

	_, err = tb.ResolveTable(record(message.Field{Name: "ts", Value: true}))
	assert.True(t, errors.Is(err, errors.ErrResolution))
}

func TestFuncAdapters(t *testing.T) {
	tables := TableFunc(func(rec *message.Record) (string, error) {
		return "t_" + rec.Names()[0], nil
	})
	rows := RowKeyFunc(func(rec *message.Record) (string, error) {
		return "k", nil
	})

	rec := record(message.Field{Name: "a", Value: "1"})
	table, err := tables.ResolveTable(rec)
	require.NoError(t, err)
	assert.Equal(t, "t_a", table)

	key, err := rows.ResolveRowKey(rec)
	require.NoError(t, err)
	assert.Equal(t, "k", key)
}

func TestNewTableResolver(t *testing.T) {
	r, err := NewTableResolver(TableConfig{Name: "events"})
	require.NoError(t, err)
	assert.Equal(t, ConstantTable("events"), r)

	r, err = NewTableResolver(TableConfig{Strategy: StrategyField, Field: "kind"})
	require.NoError(t, err)
	assert.Equal(t, FieldTable("kind"), r)

	r, err = NewTableResolver(TableConfig{Strategy: StrategyTimeBucket, Field: "ts", Prefix: "e_"})
	require.NoError(t, err)
	assert.Equal(t, TimeBucketTable{Prefix: "e_", Field: "ts"}, r)

	for _, cfg := range []TableConfig{
		{Strategy: StrategyConstant},
		{Strategy: StrategyField},
		{Strategy: StrategyTimeBucket},
		{Strategy: "random"},
	} {
		_, err := NewTableResolver(cfg)
		assert.True(t, errors.Is(err, errors.ErrInvalidConfig), "config %+v", cfg)
	}
}

func TestNewRowKeyResolver(t *testing.T) {
	r, err := NewRowKeyResolver(RowKeyConfig{Field: "id"})
	require.NoError(t, err)
	assert.Equal(t, FieldRowKey("id"), r)

	r, err = NewRowKeyResolver(RowKeyConfig{Strategy: StrategyComposite, Fields: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, CompositeRowKey{Fields: []string{"a", "b"}, Separator: ":"}, r)

	r, err = NewRowKeyResolver(RowKeyConfig{Field: "id", Hashed: true})
	require.NoError(t, err)
	assert.Equal(t, HashedRowKey{Inner: FieldRowKey("id")}, r)

	for _, cfg := range []RowKeyConfig{
		{Strategy: StrategyField},
		{Strategy: StrategyComposite},
		{Strategy: "uuid"},
	} {
		_, err := NewRowKeyResolver(cfg)
		assert.True(t, errors.Is(err, errors.ErrInvalidConfig), "config %+v", cfg)
	}
}
