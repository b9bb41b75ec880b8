package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/c360/colsink/errors"
)

// Text returns the textual representation written to the store for a field value.
//
// A nil value has no textual representation and is reported as ErrInvalidData.
func Text(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", errors.WrapInvalid(errors.ErrInvalidData, "message", "Text", "convert nil value")
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case json.RawMessage:
		var buf bytes.Buffer
		if err := json.Compact(&buf, x); err != nil {
			return "", errors.WrapInvalid(err, "message", "Text", "compact raw JSON")
		}
		return buf.String(), nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.FormatInt(int64(x), 10), nil
	case int8:
		return strconv.FormatInt(int64(x), 10), nil
	case int16:
		return strconv.FormatInt(int64(x), 10), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return x.String(), nil
	case error:
		return x.Error(), nil
	default:
		return fmt.Sprint(x), nil
	}
}
