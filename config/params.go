package config

import (
	"errors"

	"github.com/spf13/cast"
)

var (
	ErrMissingParam = errors.New("missing required parameter")
	ErrInvalidParam = errors.New("invalid parameter")
)

// Params is the loosely typed configuration map a strategy instance is
// started with. Values usually come from YAML or JSON, so numbers may arrive
// as int, float64 or string; the accessors coerce them.
type Params map[string]any

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func (p Params) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

func (p Params) Float(key string, def float64) float64 {
	if !p.Has(key) {
		return def
	}
	f, err := cast.ToFloat64E(p[key])
	if err != nil {
		return def
	}
	return f
}

func (p Params) Int(key string, def int) int {
	if !p.Has(key) {
		return def
	}
	i, err := cast.ToIntE(p[key])
	if err != nil {
		return def
	}
	return i
}

func (p Params) String(key, def string) string {
	if !p.Has(key) {
		return def
	}
	s, err := cast.ToStringE(p[key])
	if err != nil || s == "" {
		return def
	}
	return s
}

func (p Params) Bool(key string, def bool) bool {
	if !p.Has(key) {
		return def
	}
	b, err := cast.ToBoolE(p[key])
	if err != nil {
		return def
	}
	return b
}
