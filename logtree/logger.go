package logtree

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	uberatomic "go.uber.org/atomic"

	cosched "github.com/joeycumines/go-cosched"
	"github.com/joeycumines/go-cosched/thread"
)

// ErrCyclicParent is returned by Logger.SetParent when the requested link
// would make the parent chain reach back to the logger itself.
var ErrCyclicParent = errors.New("logtree: cyclic logger parent")

// Logger is one node in the logger tree. Events below the logger's level are
// dropped; events passing it go to the logger's appenders, or, when it has
// none, to its parent (which applies its own level again). Loggers are
// created through a Registry and are safe for concurrent use.
type Logger struct {
	parent    *Logger
	formatter *Formatter
	name      string
	appenders []Appender
	mu        sync.Mutex
	level     uberatomic.Int32
}

func newLogger(name string) *Logger {
	return &Logger{name: name, formatter: defaultFormatter}
}

// Name returns the registry name the logger was created under.
func (l *Logger) Name() string { return l.name }

// Level returns the logger's threshold; events below it are dropped.
func (l *Logger) Level() Level { return Level(l.level.Load()) }

// SetLevel sets the logger's threshold. LevelUnknown passes everything.
func (l *Logger) SetLevel(v Level) { l.level.Store(int32(v)) }

// Log delivers ev to the logger's appenders when ev.Level passes the
// threshold, falling back to the parent when no appenders are attached. An
// orphan logger with no appenders drops the event.
func (l *Logger) Log(ev *Event) {
	if ev.Level < l.Level() {
		return
	}

	// Duplicate the appender slice to keep the critical section short;
	// appending is the expensive part.
	l.mu.Lock()
	parent := l.parent
	appenders := append([]Appender(nil), l.appenders...)
	l.mu.Unlock()

	if len(appenders) == 0 {
		if parent != nil {
			parent.Log(ev)
		}
		return
	}
	for _, a := range appenders {
		_ = a.Append(ev)
	}
}

// LogAt stamps level and the logger's name onto ev, then logs it.
func (l *Logger) LogAt(level Level, ev *Event) {
	ev.Level = level
	ev.LoggerName = l.name
	l.Log(ev)
}

// Debugf logs a formatted message at LevelDebug, capturing the call site,
// kernel thread id, and current coroutine id.
func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }

// Infof logs a formatted message at LevelInfo.
func (l *Logger) Infof(format string, args ...any) { l.logf(LevelInfo, format, args...) }

// Warnf logs a formatted message at LevelWarn.
func (l *Logger) Warnf(format string, args ...any) { l.logf(LevelWarn, format, args...) }

// Errorf logs a formatted message at LevelError.
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }

// Fatalf logs a formatted message at LevelFatal. Unlike the standard
// library's log.Fatalf it does not exit the process.
func (l *Logger) Fatalf(format string, args ...any) { l.logf(LevelFatal, format, args...) }

func (l *Logger) logf(level Level, format string, args ...any) {
	if level < l.Level() {
		return
	}
	_, file, line, _ := runtime.Caller(2)
	l.Log(&Event{
		Time:        time.Now(),
		File:        file,
		Message:     fmt.Sprintf(format, args...),
		LoggerName:  l.name,
		Line:        line,
		ThreadID:    thread.CurrentTID(),
		CoroutineID: cosched.CurrentID(),
		Level:       level,
	})
}

// AddAppender attaches a to the logger. An appender without a formatter of
// its own inherits the logger's.
func (l *Logger) AddAppender(a Appender) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !a.ownsFormatter() {
		a.adoptFormatter(l.formatter)
	}
	l.appenders = append(l.appenders, a)
}

// ClearAppenders detaches every appender.
func (l *Logger) ClearAppenders() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appenders = nil
}

// Formatter returns the logger's formatter.
func (l *Logger) Formatter() *Formatter {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.formatter
}

// SetFormatter installs f (which must not be nil) and propagates it to every
// attached appender that has not set its own.
func (l *Logger) SetFormatter(f *Formatter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.formatter = f
	for _, a := range l.appenders {
		if !a.ownsFormatter() {
			a.adoptFormatter(f)
		}
	}
}

// Parent returns the logger's parent, or nil for a root or detached logger.
func (l *Logger) Parent() *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.parent
}

// SetParent links l under parent; nil detaches. It refuses a link whose
// parent chain reaches back to l.
func (l *Logger) SetParent(parent *Logger) error {
	for p := parent; p != nil; p = p.Parent() {
		if p == l {
			return fmt.Errorf("%w: %s", ErrCyclicParent, l.name)
		}
	}
	l.mu.Lock()
	l.parent = parent
	l.mu.Unlock()
	return nil
}
