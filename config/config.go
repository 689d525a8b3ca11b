// Package config provides a registry of named, typed configuration
// variables. Variables carry a default, expose Get/Set with change monitors
// fired after a committed change, and convert to and from YAML so whole
// documents can be loaded onto the registry with nested mapping keys
// flattened into dotted names.
package config

import (
	"errors"
	"regexp"

	"github.com/joeycumines/logiface"
)

// Logger is the structured logger type used by this package, aliased from
// logiface. A nil *Logger is a valid, disabled logger.
type Logger = logiface.Logger[logiface.Event]

var (
	// ErrInvalidName is returned for variable names outside [A-Za-z0-9._].
	ErrInvalidName = errors.New("config: invalid variable name")
	// ErrTypeMismatch is returned when a registry entry exists under the
	// requested name but with a different value type.
	ErrTypeMismatch = errors.New("config: variable registered with a different type")
)

// Variable names are dotted alphanumerics, case preserved.
var nameRE = regexp.MustCompile(`^[A-Za-z0-9._]+$`)

// ValidName reports whether name can be used as a variable name.
func ValidName(name string) bool { return nameRE.MatchString(name) }
