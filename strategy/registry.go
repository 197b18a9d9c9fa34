package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/evdnx/gofloor/config"
)

var (
	ErrAlreadyRegistered = errors.New("strategy already registered")
	ErrNotFound          = errors.New("strategy not found")
	ErrInvalidDefinition = errors.New("invalid strategy definition")
)

// ID names a strategy type.
type ID string

// Constructor builds a running instance. It is only called with parameters
// that passed validation and have defaults applied.
type Constructor func(ctx context.Context, inst Instance, deps Deps) (Strategy, error)

// Definition is what a strategy type registers.
type Definition struct {
	Description string
	Schema      config.Schema
	New         Constructor
	// Validate runs cross-field checks the schema cannot express.
	Validate func(config.Params) error
}

// Registry maps strategy ids to their definitions. It is owned by whoever
// bootstraps strategies; there is no package-level instance.
type Registry struct {
	mu   sync.RWMutex
	defs map[ID]Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[ID]Definition)}
}

// Register adds a definition. It fails on a duplicate id, a missing
// constructor or an inconsistent schema.
func (r *Registry) Register(id ID, def Definition) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidDefinition)
	}
	if def.New == nil {
		return fmt.Errorf("%w: %s has no constructor", ErrInvalidDefinition, id)
	}
	if err := def.Schema.Check(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, id, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[id]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, id)
	}
	r.defs[id] = def
	return nil
}

// Get returns the definition of id, or an error listing what is available.
func (r *Registry) Get(id ID) (Definition, error) {
	r.mu.RLock()
	def, ok := r.defs[id]
	r.mu.RUnlock()
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s, available: %v", ErrNotFound, id, r.Names())
	}
	return def, nil
}

// ConfigSchema returns the parameter schema of id.
func (r *Registry) ConfigSchema(id ID) (config.Schema, error) {
	def, err := r.Get(id)
	if err != nil {
		return config.Schema{}, err
	}
	return def.Schema, nil
}

// Names lists registered ids in lexical order.
func (r *Registry) Names() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ID, 0, len(r.defs))
	for id := range r.defs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ValidateConfig checks a stored configuration against the schema and the
// strategy's own rules. Defaults are applied first.
func (r *Registry) ValidateConfig(id ID, params config.Params) error {
	def, err := r.Get(id)
	if err != nil {
		return err
	}
	return validateWith(def, params)
}

func validateWith(def Definition, params config.Params) error {
	full := def.Schema.WithDefaults(params)
	if err := def.Schema.Validate(full); err != nil {
		return err
	}
	if def.Validate != nil {
		return def.Validate(full)
	}
	return nil
}

// New validates inst.Params and constructs the strategy. Invalid
// configuration never reaches the constructor.
func (r *Registry) New(ctx context.Context, id ID, inst Instance, deps Deps) (Strategy, error) {
	def, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if err := validateWith(def, inst.Params); err != nil {
		return nil, fmt.Errorf("strategy %s (%s): %w", inst.ID, id, err)
	}
	inst.Params = def.Schema.WithDefaults(inst.Params)
	return def.New(ctx, inst, deps)
}
