package logtree

import (
	"os"
	"sync"
)

// RootLoggerName is the name of the logger every Registry is created with.
const RootLoggerName = "root"

// Registry owns a tree of named loggers. It starts with a root logger
// carrying the default pattern and a stdout appender; loggers fetched by
// name are created on demand, parented to root, so unconfigured loggers log
// through the root's appenders.
type Registry struct {
	root    *Logger
	loggers map[string]*Logger
	mu      sync.Mutex
}

// NewRegistry returns a registry whose root logger writes to stdout with the
// default pattern.
func NewRegistry() *Registry {
	root := newLogger(RootLoggerName)
	root.AddAppender(NewStreamAppender(os.Stdout))
	return &Registry{
		root:    root,
		loggers: map[string]*Logger{RootLoggerName: root},
	}
}

// Root returns the root logger.
func (r *Registry) Root() *Logger { return r.root }

// GetLogger returns the logger registered under name, creating it on first
// use. A fresh logger starts with the root's formatter, root as parent, and
// no appenders of its own.
func (r *Registry) GetLogger(name string) *Logger {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.loggers[name]; ok {
		return l
	}
	l := newLogger(name)
	_ = l.SetParent(r.root) // fresh logger, cannot cycle
	l.SetFormatter(r.root.Formatter())
	r.loggers[name] = l
	return l
}

// RemoveLogger forgets the logger registered under name. Existing references
// stay usable; a later GetLogger(name) starts over with a fresh logger.
func (r *Registry) RemoveLogger(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.loggers, name)
}
