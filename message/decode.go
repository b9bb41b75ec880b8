package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/c360/colsink/errors"
)

// DecodeJSON decodes a JSON object payload into a Record, keeping the field
// order of the document.
//
// Scalars decode to string, bool, json.Number or nil. Nested objects and arrays
// are kept as json.RawMessage and written as compact JSON text.
func DecodeJSON(token any, data []byte) (*Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, errors.WrapInvalid(err, "message", "DecodeJSON", "read opening token")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "message", "DecodeJSON",
			fmt.Sprintf("expected JSON object, got %v", tok))
	}

	var fields []Field
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, errors.WrapInvalid(err, "message", "DecodeJSON", "read field name")
		}
		name, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, errors.WrapInvalid(err, "message", "DecodeJSON", fmt.Sprintf("read field %q", name))
		}

		value, err := scalar(raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "message", "DecodeJSON", fmt.Sprintf("decode field %q", name))
		}
		fields = append(fields, Field{Name: name, Value: value})
	}

	if _, err := dec.Token(); err != nil {
		return nil, errors.WrapInvalid(err, "message", "DecodeJSON", "read closing token")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "message", "DecodeJSON", "trailing data after object")
	}

	return NewRecord(token, fields...), nil
}

func scalar(raw json.RawMessage) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.ErrParsingFailed
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, err
		}
		return s, nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return nil, err
		}
		return b, nil
	case 'n':
		return nil, nil
	case '{', '[':
		return json.RawMessage(trimmed), nil
	default:
		return json.Number(string(trimmed)), nil
	}
}
