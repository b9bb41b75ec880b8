package message

import (
	"fmt"
	"strings"
)

// Field is one named value of a Record.
type Field struct {
	Name  string
	Value any
}

// Record is one unit of streaming input: an ordered sequence of named fields
// plus the upstream identity used to acknowledge it.
//
// A Record is treated as immutable once it has been handed to a sink.
type Record struct {
	// Token is the upstream delivery handle (a jetstream.Msg, a *kgo.Record, ...).
	// Only the source that produced the record interprets it.
	Token any

	// Source describes where the record came from (subject, topic/partition/offset).
	// Used for logging only.
	Source string

	fields []Field
	index  map[string]int
}

// NewRecord creates a record from the given fields, preserving their order.
// A later field with the same name replaces the value of the earlier one in place.
func NewRecord(token any, fields ...Field) *Record {
	r := &Record{
		Token:  token,
		fields: make([]Field, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		if i, ok := r.index[f.Name]; ok {
			r.fields[i].Value = f.Value
			continue
		}
		r.index[f.Name] = len(r.fields)
		r.fields = append(r.fields, f)
	}
	return r
}

// Len returns the number of fields.
func (r *Record) Len() int {
	return len(r.fields)
}

// Fields returns a copy of the record's fields in order.
func (r *Record) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Names returns the field names in order.
func (r *Record) Names() []string {
	names := make([]string, len(r.fields))
	for i, f := range r.fields {
		names[i] = f.Name
	}
	return names
}

// Value returns the value of the named field.
func (r *Record) Value(name string) (any, bool) {
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.fields[i].Value, true
}

// Has reports whether the record carries the named field.
func (r *Record) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

// String renders the record for logs.
func (r *Record) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", f.Name, f.Value)
	}
	b.WriteByte('}')
	if r.Source != "" {
		b.WriteString("@")
		b.WriteString(r.Source)
	}
	return b.String()
}
