package config

import (
	"fmt"
	"math"
	"sort"

	"github.com/spf13/cast"
)

type ParamType string

const (
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeString  ParamType = "string"
	TypeBoolean ParamType = "boolean"
)

// ParamSpec describes one accepted parameter. It serialises to a JSON-schema
// style object so admin surfaces can render forms from it.
type ParamSpec struct {
	Type             ParamType `json:"type"`
	Description      string    `json:"description,omitempty"`
	Default          any       `json:"default,omitempty"`
	Minimum          *float64  `json:"minimum,omitempty"`
	Maximum          *float64  `json:"maximum,omitempty"`
	ExclusiveMinimum *float64  `json:"exclusiveMinimum,omitempty"`
	Enum             []string  `json:"enum,omitempty"`
}

// Schema is the full parameter description of a strategy type.
type Schema struct {
	Title      string               `json:"title,omitempty"`
	Type       string               `json:"type"`
	Properties map[string]ParamSpec `json:"properties"`
	Required   []string             `json:"required,omitempty"`
}

// Bound is a convenience for filling Minimum/Maximum.
func Bound(v float64) *float64 { return &v }

// Validate returns the first violation found. Required keys are checked in
// declaration order, then present keys in lexical order, so the same bad
// config always yields the same message.
func (s Schema) Validate(p Params) error {
	for _, key := range s.Required {
		if !p.Has(key) {
			return fmt.Errorf("%w: %s", ErrMissingParam, key)
		}
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		spec, ok := s.Properties[key]
		if !ok || p[key] == nil {
			continue
		}
		if err := spec.check(key, p[key]); err != nil {
			return err
		}
	}
	return nil
}

// WithDefaults returns a copy of p with every missing key that has a default
// filled in.
func (s Schema) WithDefaults(p Params) Params {
	out := p.Clone()
	for key, spec := range s.Properties {
		if !out.Has(key) && spec.Default != nil {
			out[key] = spec.Default
		}
	}
	return out
}

// Check verifies the schema is self-consistent: every required key is
// declared and every default satisfies its own constraints.
func (s Schema) Check() error {
	for _, key := range s.Required {
		if _, ok := s.Properties[key]; !ok {
			return fmt.Errorf("required key %q is not declared", key)
		}
	}
	for key, spec := range s.Properties {
		switch spec.Type {
		case TypeNumber, TypeInteger, TypeString, TypeBoolean:
		default:
			return fmt.Errorf("parameter %q has unknown type %q", key, spec.Type)
		}
		if spec.Default == nil {
			continue
		}
		if err := spec.check(key, spec.Default); err != nil {
			return fmt.Errorf("default of %q: %w", key, err)
		}
	}
	return nil
}

func (spec ParamSpec) check(key string, v any) error {
	switch spec.Type {
	case TypeNumber, TypeInteger:
		if _, isBool := v.(bool); isBool {
			return fmt.Errorf("%w: %s must be a %s, got bool", ErrInvalidParam, key, spec.Type)
		}
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return fmt.Errorf("%w: %s must be a %s, got %T", ErrInvalidParam, key, spec.Type, v)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: %s must be finite", ErrInvalidParam, key)
		}
		if spec.Type == TypeInteger && f != math.Trunc(f) {
			return fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidParam, key, f)
		}
		if spec.ExclusiveMinimum != nil && f <= *spec.ExclusiveMinimum {
			return fmt.Errorf("%w: %s (%v) must be > %v", ErrInvalidParam, key, f, *spec.ExclusiveMinimum)
		}
		if spec.Minimum != nil && f < *spec.Minimum {
			return fmt.Errorf("%w: %s (%v) must be >= %v", ErrInvalidParam, key, f, *spec.Minimum)
		}
		if spec.Maximum != nil && f > *spec.Maximum {
			return fmt.Errorf("%w: %s (%v) must be <= %v", ErrInvalidParam, key, f, *spec.Maximum)
		}
	case TypeBoolean:
		if _, err := cast.ToBoolE(v); err != nil {
			return fmt.Errorf("%w: %s must be a boolean, got %T", ErrInvalidParam, key, v)
		}
	case TypeString:
		s, err := cast.ToStringE(v)
		if err != nil {
			return fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidParam, key, v)
		}
		if len(spec.Enum) > 0 && !contains(spec.Enum, s) {
			return fmt.Errorf("%w: %s (%q) must be one of %v", ErrInvalidParam, key, s, spec.Enum)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
