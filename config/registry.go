package config

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Registry holds named variables. Lookup is the create-or-fetch entry point;
// YAML documents load onto registered variables via LoadYAML or LoadFile.
type Registry struct {
	vars map[string]BaseVar
	log  *Logger
	mu   sync.Mutex
}

// NewRegistry returns an empty registry. Binding diagnostics during YAML
// loads go to log; nil disables them.
func NewRegistry(log *Logger) *Registry {
	return &Registry{vars: make(map[string]BaseVar), log: log}
}

// Lookup returns the variable registered under name, creating it with def
// and desc on first use. An existing entry whose value type is not T fails
// with ErrTypeMismatch.
func Lookup[T any](r *Registry, name string, def T, desc string) (*Var[T], error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if base, ok := r.vars[name]; ok {
		v, ok := base.(*Var[T])
		if !ok {
			return nil, fmt.Errorf("%w: %s holds %s", ErrTypeMismatch, name, base.TypeName())
		}
		return v, nil
	}
	v := &Var[T]{name: name, desc: desc, val: def}
	r.vars[name] = v
	return v, nil
}

// Find returns the variable registered under name, or nil when there is
// none. An entry whose value type is not T fails with ErrTypeMismatch.
func Find[T any](r *Registry, name string) (*Var[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	base, ok := r.vars[name]
	if !ok {
		return nil, nil
	}
	v, ok := base.(*Var[T])
	if !ok {
		return nil, fmt.Errorf("%w: %s holds %s", ErrTypeMismatch, name, base.TypeName())
	}
	return v, nil
}

// Base returns the type-erased variable registered under name, or nil.
func (r *Registry) Base(name string) BaseVar {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vars[name]
}

// Visit calls fn for every registered variable in name order. fn runs
// outside the registry lock and may call back into the registry.
func (r *Registry) Visit(fn func(BaseVar)) {
	r.mu.Lock()
	vars := make([]BaseVar, 0, len(r.vars))
	for _, name := range slices.Sorted(maps.Keys(r.vars)) {
		vars = append(vars, r.vars[name])
	}
	r.mu.Unlock()

	for _, v := range vars {
		fn(v)
	}
}
