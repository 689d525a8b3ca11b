package logtree

import (
	"fmt"
	"io"
	"os"
	"sync"

	uberatomic "go.uber.org/atomic"
)

// Appender delivers formatted events to one destination. An appender filters
// by its own level before writing; its formatter is either set explicitly or
// inherited from the owning logger, and only inherited formatters follow
// later changes to the logger's formatter.
//
// Implementations live in this package; both share appenderCore.
type Appender interface {
	// Append formats and writes ev when ev.Level passes the appender's
	// threshold.
	Append(ev *Event) error
	// SetFormatter installs f as the appender's own formatter, detaching it
	// from the owning logger's.
	SetFormatter(f *Formatter)
	Formatter() *Formatter
	SetLevel(l Level)
	Level() Level

	// adoptFormatter installs a formatter on behalf of the owning logger,
	// leaving the appender eligible for future propagation.
	adoptFormatter(f *Formatter)
	ownsFormatter() bool
}

var defaultFormatter = MustFormatter(DefaultPattern)

// appenderCore carries the level and formatter handling shared by the
// concrete appenders. The level is read lock-free on the hot path; the
// formatter and the write itself serialize on mu.
type appenderCore struct {
	f     *Formatter
	mu    sync.Mutex
	owned bool
	level uberatomic.Int32
}

func (c *appenderCore) SetFormatter(f *Formatter) {
	c.mu.Lock()
	c.f = f
	c.owned = f != nil
	c.mu.Unlock()
}

func (c *appenderCore) adoptFormatter(f *Formatter) {
	c.mu.Lock()
	c.f = f
	c.owned = false
	c.mu.Unlock()
}

func (c *appenderCore) Formatter() *Formatter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.f
}

func (c *appenderCore) ownsFormatter() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owned
}

func (c *appenderCore) SetLevel(l Level) { c.level.Store(int32(l)) }

func (c *appenderCore) Level() Level { return Level(c.level.Load()) }

// StreamAppender writes formatted events to an io.Writer, serializing writes
// so concurrent loggers do not interleave records.
type StreamAppender struct {
	appenderCore
	w io.Writer
}

// NewStreamAppender returns an appender writing to w, initially carrying the
// package default formatter.
func NewStreamAppender(w io.Writer) *StreamAppender {
	a := &StreamAppender{w: w}
	a.f = defaultFormatter
	return a
}

func (a *StreamAppender) Append(ev *Event) error {
	if ev.Level < a.Level() {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.w.Write(a.f.AppendFormat(nil, ev))
	return err
}

// FileAppender writes formatted events to a file opened in append mode.
// Reopen re-opens the path, which is how log rotation is picked up.
type FileAppender struct {
	appenderCore
	file *os.File
	path string
}

func openLogFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logtree: open log file: %w", err)
	}
	return f, nil
}

// NewFileAppender opens path for appending, creating it when absent.
func NewFileAppender(path string) (*FileAppender, error) {
	f, err := openLogFile(path)
	if err != nil {
		return nil, err
	}
	a := &FileAppender{file: f, path: path}
	a.f = defaultFormatter
	return a, nil
}

func (a *FileAppender) Append(ev *Event) error {
	if ev.Level < a.Level() {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return os.ErrClosed
	}
	_, err := a.file.Write(a.f.AppendFormat(nil, ev))
	return err
}

// Reopen closes the backing file and opens the path again. Writes issued
// concurrently block until the swap completes.
func (a *FileAppender) Reopen() error {
	f, err := openLogFile(a.path)
	if err != nil {
		return err
	}
	a.mu.Lock()
	old := a.file
	a.file = f
	a.mu.Unlock()
	if old != nil {
		return old.Close()
	}
	return nil
}

// Close closes the backing file; subsequent appends fail with os.ErrClosed.
func (a *FileAppender) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// Path returns the file path the appender was opened with.
func (a *FileAppender) Path() string { return a.path }
