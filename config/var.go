package config

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

// Monitor observes a committed change to a variable's value.
type Monitor[T any] func(old, now T)

// BaseVar is the type-erased view of a variable held by a Registry. The
// string and node forms carry YAML documents, so container types round-trip.
type BaseVar interface {
	Name() string
	Description() string
	// TypeName reports the Go type of the variable's value, for diagnostics.
	TypeName() string
	// FromString decodes a YAML document and commits the result.
	FromString(s string) error
	// ToString encodes the current value as a YAML document.
	ToString() (string, error)
	// FromNode decodes an already-parsed YAML node and commits the result.
	FromNode(node *yaml.Node) error
	// ToNode encodes the current value as a YAML node.
	ToNode() (*yaml.Node, error)
}

// Var is a named, typed configuration variable. All methods are safe for
// concurrent use. Values are compared with reflect.DeepEqual on Set, so T
// should be a value type (or a slice/map of them) rather than anything
// carrying channels or function pointers.
type Var[T any] struct {
	monitors map[uint64]Monitor[T]
	name     string
	desc     string
	val      T
	nextID   uint64
	mu       sync.RWMutex
}

var _ BaseVar = (*Var[string])(nil)

// NewVar constructs a standalone variable. Most code obtains variables from
// a Registry via Lookup instead.
func NewVar[T any](name string, def T, desc string) (*Var[T], error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return &Var[T]{name: name, desc: desc, val: def}, nil
}

// Name returns the variable's registry name.
func (v *Var[T]) Name() string { return v.name }

// Description returns the human-readable description supplied at creation.
func (v *Var[T]) Description() string { return v.desc }

// TypeName reports the Go type of T.
func (v *Var[T]) TypeName() string { return reflect.TypeFor[T]().String() }

// Get returns the current value.
func (v *Var[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.val
}

// Set commits val. When it differs from the previous value (per
// reflect.DeepEqual) the monitors run with the old and new values, after the
// commit and outside the variable's lock. Setting an equal value is a no-op
// and fires nothing.
func (v *Var[T]) Set(val T) {
	v.mu.Lock()
	if reflect.DeepEqual(val, v.val) {
		v.mu.Unlock()
		return
	}
	old := v.val
	v.val = val
	var monitors []Monitor[T]
	for _, id := range slices.Sorted(maps.Keys(v.monitors)) {
		monitors = append(monitors, v.monitors[id])
	}
	v.mu.Unlock()

	for _, m := range monitors {
		m(old, val)
	}
}

// AddMonitor registers m and returns an id usable with DelMonitor. Monitors
// run in registration order.
func (v *Var[T]) AddMonitor(m Monitor[T]) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.monitors == nil {
		v.monitors = make(map[uint64]Monitor[T])
	}
	id := v.nextID
	v.nextID++
	v.monitors[id] = m
	return id
}

// DelMonitor unregisters the monitor added under id.
func (v *Var[T]) DelMonitor(id uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.monitors, id)
}

// FromString decodes a YAML document into a value of T and commits it.
func (v *Var[T]) FromString(s string) error {
	var val T
	if err := yaml.Unmarshal([]byte(s), &val); err != nil {
		return fmt.Errorf("config: decode %s: %w", v.name, err)
	}
	v.Set(val)
	return nil
}

// ToString encodes the current value as a YAML document.
func (v *Var[T]) ToString() (string, error) {
	b, err := yaml.Marshal(v.Get())
	if err != nil {
		return "", fmt.Errorf("config: encode %s: %w", v.name, err)
	}
	return string(b), nil
}

// FromNode decodes an already-parsed YAML node and commits it.
func (v *Var[T]) FromNode(node *yaml.Node) error {
	var val T
	if err := node.Decode(&val); err != nil {
		return fmt.Errorf("config: decode %s: %w", v.name, err)
	}
	v.Set(val)
	return nil
}

// ToNode encodes the current value as a YAML node.
func (v *Var[T]) ToNode() (*yaml.Node, error) {
	var node yaml.Node
	if err := node.Encode(v.Get()); err != nil {
		return nil, fmt.Errorf("config: encode %s: %w", v.name, err)
	}
	return &node, nil
}
