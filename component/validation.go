package component

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/c360/colsink/errors"
)

// Limits applied to raw component configuration
const (
	MaxStringLength = 1024        // longest accepted string value or key
	MaxJSONSize     = 1024 * 1024 // largest accepted raw config
	maxConfigDepth  = 10
	maxArrayLen     = 1000
)

// Validatable is implemented by configs that check their own fields after
// decoding.
type Validatable interface {
	Validate() error
}

// ValidateFactoryConfig checks raw configuration before it reaches a
// factory: size, nesting, string and array bounds, and control characters.
// An empty config is valid; the factory applies its defaults.
func ValidateFactoryConfig(rawConfig json.RawMessage) error {
	if len(rawConfig) > MaxJSONSize {
		return errors.WrapInvalid(
			fmt.Errorf("%w: config is %d bytes, limit is %d", errors.ErrInvalidConfig, len(rawConfig), MaxJSONSize),
			"Component", "ValidateFactoryConfig", "check size")
	}
	if len(rawConfig) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(rawConfig))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"Component", "ValidateFactoryConfig", "parse config")
	}

	if path, err := checkValue(value, "$", 0); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %s: %w", errors.ErrInvalidConfig, path, err),
			"Component", "ValidateFactoryConfig", "check config")
	}
	return nil
}

// checkValue walks a decoded config and returns the path of the first value
// outside the limits.
func checkValue(value any, path string, depth int) (string, error) {
	if depth > maxConfigDepth {
		return path, fmt.Errorf("nested deeper than %d levels", maxConfigDepth)
	}

	switch v := value.(type) {
	case string:
		return path, checkString(v)
	case []any:
		if len(v) > maxArrayLen {
			return path, fmt.Errorf("%d elements, limit is %d", len(v), maxArrayLen)
		}
		for i, elem := range v {
			if p, err := checkValue(elem, fmt.Sprintf("%s[%d]", path, i), depth+1); err != nil {
				return p, err
			}
		}
	case map[string]any:
		for key, elem := range v {
			if err := checkString(key); err != nil {
				return path, fmt.Errorf("key: %w", err)
			}
			if p, err := checkValue(elem, path+"."+key, depth+1); err != nil {
				return p, err
			}
		}
	}
	return "", nil
}

func checkString(s string) error {
	if len(s) > MaxStringLength {
		return fmt.Errorf("%d bytes, limit is %d", len(s), MaxStringLength)
	}
	for _, r := range s {
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			return fmt.Errorf("control character 0x%02x", r)
		}
	}
	return nil
}

// SafeUnmarshal validates rawConfig, decodes it over the defaults already in
// target and runs target's Validate. Unknown fields are rejected so a
// misspelled option fails instead of silently keeping its default.
func SafeUnmarshal(rawConfig json.RawMessage, target any) error {
	if err := ValidateFactoryConfig(rawConfig); err != nil {
		return err
	}

	if t := reflect.TypeOf(target); t == nil || t.Kind() != reflect.Ptr {
		return errors.WrapInvalid(fmt.Errorf("target must be a pointer, got %T", target),
			"Component", "SafeUnmarshal", "check target")
	}

	if len(rawConfig) > 0 {
		dec := json.NewDecoder(bytes.NewReader(rawConfig))
		dec.DisallowUnknownFields()
		if err := dec.Decode(target); err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
				"Component", "SafeUnmarshal", "decode config")
		}
	}

	if v, ok := target.(Validatable); ok {
		if err := v.Validate(); err != nil {
			return errors.Wrap(err, "Component", "SafeUnmarshal", "validate config")
		}
	}
	return nil
}

// ValidateComponentName accepts letters, digits, dash, underscore and dot.
func ValidateComponentName(name string) error {
	if name == "" || len(name) > MaxStringLength {
		return errors.WrapInvalid(fmt.Errorf("%w: component name length %d", errors.ErrInvalidConfig, len(name)),
			"Component", "ValidateComponentName", "check length")
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.') {
			return errors.WrapInvalid(fmt.Errorf("%w: component name %q", errors.ErrInvalidConfig, name),
				"Component", "ValidateComponentName", "check characters")
		}
	}
	return nil
}
