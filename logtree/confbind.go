package logtree

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"

	"github.com/joeycumines/go-cosched/config"
)

// Appender config type and console destination values.
const (
	AppenderTypeConsole = "console"
	AppenderTypeFile    = "file"
	ConsoleMetaStdout   = "out"
	ConsoleMetaStderr   = "error"
)

// AppenderConfig describes one appender of a configured logger. Type selects
// console or file; Meta is the console destination ("out"/"error") or the
// file path. An empty FormatPattern inherits the owning logger's formatter,
// and the zero Level passes everything.
type AppenderConfig struct {
	Type          string `yaml:"type"`
	Meta          string `yaml:"meta"`
	FormatPattern string `yaml:"format_pattern,omitempty"`
	Level         Level  `yaml:"level,omitempty"`
}

// LoggerConfig describes one logger: its threshold, formatter pattern (empty
// inherits the root's), and the full replacement set of appenders.
type LoggerConfig struct {
	Name          string           `yaml:"name"`
	FormatPattern string           `yaml:"format_pattern,omitempty"`
	Appenders     []AppenderConfig `yaml:"appenders,omitempty"`
	Level         Level            `yaml:"level,omitempty"`
}

func (c AppenderConfig) build() (Appender, error) {
	var a Appender
	switch c.Type {
	case AppenderTypeConsole:
		switch c.Meta {
		case ConsoleMetaStdout:
			a = NewStreamAppender(os.Stdout)
		case ConsoleMetaStderr:
			a = NewStreamAppender(os.Stderr)
		default:
			return nil, fmt.Errorf("logtree: console appender meta %q (want %q or %q)",
				c.Meta, ConsoleMetaStdout, ConsoleMetaStderr)
		}
	case AppenderTypeFile:
		if c.Meta == "" {
			return nil, errors.New("logtree: file appender requires a path in meta")
		}
		fa, err := NewFileAppender(c.Meta)
		if err != nil {
			return nil, err
		}
		a = fa
	default:
		return nil, fmt.Errorf("logtree: unknown appender type %q", c.Type)
	}
	if c.FormatPattern != "" {
		f, err := NewFormatter(c.FormatPattern)
		if err != nil {
			return nil, err
		}
		a.SetFormatter(f)
	}
	a.SetLevel(c.Level)
	return a, nil
}

// Configure applies confs: each named logger is created or fetched, its
// level set, its formatter replaced (an empty pattern inherits the root's),
// and its appender set rebuilt. Entries that fail - a bad pattern, an
// unknown appender type, an unopenable file - are skipped and their errors
// joined into the return value; the rest of the configuration still applies.
func (r *Registry) Configure(confs ...LoggerConfig) error {
	var errs []error
	for _, conf := range confs {
		if err := r.apply(conf); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) apply(conf LoggerConfig) error {
	if conf.Name == "" {
		return errors.New("logtree: logger config without a name")
	}
	l := r.GetLogger(conf.Name)
	l.SetLevel(conf.Level)

	var errs []error
	if conf.FormatPattern != "" {
		f, err := NewFormatter(conf.FormatPattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("logger %s: %w", conf.Name, err))
		} else {
			l.SetFormatter(f)
		}
	} else {
		l.SetFormatter(r.root.Formatter())
	}

	l.ClearAppenders()
	for _, ac := range conf.Appenders {
		a, err := ac.build()
		if err != nil {
			errs = append(errs, fmt.Errorf("logger %s: %w", conf.Name, err))
			continue
		}
		l.AddAppender(a)
	}
	return errors.Join(errs...)
}

// BindVar registers (or fetches) a []LoggerConfig variable under name in cfg
// and wires a monitor reconfiguring r on every committed change: new or
// changed logger configs are applied, and loggers named in the old
// configuration but absent from the new one are removed from the registry.
// Configuration errors surface through the root logger.
func BindVar(r *Registry, cfg *config.Registry, name string) (*config.Var[[]LoggerConfig], error) {
	v, err := config.Lookup(cfg, name, []LoggerConfig(nil), "logger tree configuration")
	if err != nil {
		return nil, err
	}
	v.AddMonitor(func(old, now []LoggerConfig) {
		var changed []LoggerConfig
		for _, conf := range now {
			same := slices.ContainsFunc(old, func(o LoggerConfig) bool {
				return reflect.DeepEqual(o, conf)
			})
			if !same {
				changed = append(changed, conf)
			}
		}
		if err := r.Configure(changed...); err != nil {
			r.Root().Errorf("logger reconfiguration: %v", err)
		}

		for _, o := range old {
			gone := !slices.ContainsFunc(now, func(n LoggerConfig) bool {
				return n.Name == o.Name
			})
			if gone {
				r.RemoveLogger(o.Name)
			}
		}
	})
	return v, nil
}
