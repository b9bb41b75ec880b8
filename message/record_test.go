package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/colsink/errors"
)

func TestNewRecord_PreservesOrder(t *testing.T) {
	rec := NewRecord("tok",
		Field{Name: "z", Value: "1"},
		Field{Name: "a", Value: "2"},
		Field{Name: "m", Value: 3},
	)

	assert.Equal(t, []string{"z", "a", "m"}, rec.Names())
	assert.Equal(t, 3, rec.Len())
	assert.Equal(t, "tok", rec.Token)

	v, ok := rec.Value("m")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = rec.Value("missing")
	assert.False(t, ok)
	assert.False(t, rec.Has("missing"))
}

func TestNewRecord_DuplicateNameReplacesInPlace(t *testing.T) {
	rec := NewRecord(nil,
		Field{Name: "a", Value: "first"},
		Field{Name: "b", Value: "x"},
		Field{Name: "a", Value: "second"},
	)

	assert.Equal(t, []string{"a", "b"}, rec.Names())
	v, _ := rec.Value("a")
	assert.Equal(t, "second", v)
}

func TestRecord_FieldsIsACopy(t *testing.T) {
	rec := NewRecord(nil, Field{Name: "a", Value: "1"})
	fields := rec.Fields()
	fields[0].Value = "changed"

	v, _ := rec.Value("a")
	assert.Equal(t, "1", v)
}

func TestDecodeJSON(t *testing.T) {
	rec, err := DecodeJSON("tok", []byte(`{"id": "r-1", "count": 42, "ok": true, "ratio": 0.5,
		"tags": ["a", "b"], "meta": {"x": 1}, "missing": null}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "count", "ok", "ratio", "tags", "meta", "missing"}, rec.Names())

	id, _ := rec.Value("id")
	assert.Equal(t, "r-1", id)

	count, _ := rec.Value("count")
	assert.Equal(t, json.Number("42"), count)

	ok, _ := rec.Value("ok")
	assert.Equal(t, true, ok)

	tags, _ := rec.Value("tags")
	text, err := Text(tags)
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, text)

	meta, _ := rec.Value("meta")
	text, err = Text(meta)
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, text)

	missing, present := rec.Value("missing")
	assert.True(t, present)
	assert.Nil(t, missing)
}

func TestDecodeJSON_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not an object", `["a"]`},
		{"scalar", `"a"`},
		{"null", `null`},
		{"truncated", `{"a": "b"`},
		{"trailing data", `{"a": "b"} {"c": 1}`},
		{"empty", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJSON(nil, []byte(tt.payload))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), "decode errors are invalid input: %v", err)
		})
	}
}

func TestDecodeJSON_EmptyObject(t *testing.T) {
	rec, err := DecodeJSON(nil, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Len())
}

type stringerValue struct{}

func (stringerValue) String() string { return "stringer" }

func TestText(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		value    any
		expected string
	}{
		{"string", "1", "1"},
		{"bytes", []byte("raw"), "raw"},
		{"int", 42, "42"},
		{"negative int64", int64(-7), "-7"},
		{"uint8", uint8(255), "255"},
		{"float64", 1.25, "1.25"},
		{"float32", float32(0.5), "0.5"},
		{"bool", false, "false"},
		{"json number", json.Number("12.0"), "12.0"},
		{"raw json", json.RawMessage(`{ "a" : 1 }`), `{"a":1}`},
		{"time", ts, "2024-05-01T12:30:00Z"},
		{"duration stringer", 2 * time.Second, "2s"},
		{"stringer", stringerValue{}, "stringer"},
		{"struct", struct{ A int }{A: 1}, "{1}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Text(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestText_Nil(t *testing.T) {
	_, err := Text(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidData))
}
