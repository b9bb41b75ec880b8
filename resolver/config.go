package resolver

import (
	"fmt"

	"github.com/c360/colsink/errors"
)

// Strategy names accepted in configuration.
const (
	StrategyConstant   = "constant"
	StrategyField      = "field"
	StrategyTimeBucket = "time_bucket"
	StrategyComposite  = "composite"
	StrategyHashed     = "hashed"
)

// TableConfig selects and parameterises a TableResolver.
type TableConfig struct {
	Strategy string `json:"strategy" yaml:"strategy"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Field    string `json:"field,omitempty" yaml:"field,omitempty"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Layout   string `json:"layout,omitempty" yaml:"layout,omitempty"`
}

// RowKeyConfig selects and parameterises a RowKeyResolver.
type RowKeyConfig struct {
	Strategy  string   `json:"strategy" yaml:"strategy"`
	Field     string   `json:"field,omitempty" yaml:"field,omitempty"`
	Fields    []string `json:"fields,omitempty" yaml:"fields,omitempty"`
	Separator string   `json:"separator,omitempty" yaml:"separator,omitempty"`
	Hashed    bool     `json:"hashed,omitempty" yaml:"hashed,omitempty"`
}

// NewTableResolver builds the TableResolver described by cfg.
func NewTableResolver(cfg TableConfig) (TableResolver, error) {
	switch cfg.Strategy {
	case StrategyConstant, "":
		if cfg.Name == "" {
			return nil, invalidConfig("NewTableResolver", "constant table strategy requires name")
		}
		return ConstantTable(cfg.Name), nil
	case StrategyField:
		if cfg.Field == "" {
			return nil, invalidConfig("NewTableResolver", "field table strategy requires field")
		}
		return FieldTable(cfg.Field), nil
	case StrategyTimeBucket:
		if cfg.Field == "" {
			return nil, invalidConfig("NewTableResolver", "time_bucket table strategy requires field")
		}
		return TimeBucketTable{Prefix: cfg.Prefix, Field: cfg.Field, Layout: cfg.Layout}, nil
	default:
		return nil, invalidConfig("NewTableResolver", fmt.Sprintf("unknown table strategy %q", cfg.Strategy))
	}
}

// NewRowKeyResolver builds the RowKeyResolver described by cfg.
func NewRowKeyResolver(cfg RowKeyConfig) (RowKeyResolver, error) {
	var r RowKeyResolver
	switch cfg.Strategy {
	case StrategyField, "":
		if cfg.Field == "" {
			return nil, invalidConfig("NewRowKeyResolver", "field row key strategy requires field")
		}
		r = FieldRowKey(cfg.Field)
	case StrategyComposite:
		if len(cfg.Fields) == 0 {
			return nil, invalidConfig("NewRowKeyResolver", "composite row key strategy requires fields")
		}
		sep := cfg.Separator
		if sep == "" {
			sep = ":"
		}
		r = CompositeRowKey{Fields: cfg.Fields, Separator: sep}
	default:
		return nil, invalidConfig("NewRowKeyResolver", fmt.Sprintf("unknown row key strategy %q", cfg.Strategy))
	}

	if cfg.Hashed {
		r = HashedRowKey{Inner: r}
	}
	return r, nil
}

func invalidConfig(method, reason string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, reason), "resolver", method, "build resolver")
}
