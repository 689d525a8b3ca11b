package logtree

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// newBufAppender returns a buffer-backed appender carrying its own formatter,
// so attaching it to a logger does not disturb the output under test.
func newBufAppender(pattern string) (*StreamAppender, *bytes.Buffer) {
	var buf bytes.Buffer
	a := NewStreamAppender(&buf)
	a.SetFormatter(MustFormatter(pattern))
	return a, &buf
}

func TestLoggerLevelFilter(t *testing.T) {
	reg := NewRegistry()
	lg := reg.GetLogger("svc")
	a, buf := newBufAppender("%m%n")
	lg.AddAppender(a)
	lg.SetLevel(LevelWarn)

	lg.Debugf("dropped debug")
	lg.Infof("dropped info")
	lg.Warnf("kept warn")
	lg.Errorf("kept error")
	lg.Fatalf("kept fatal")

	want := "kept warn\nkept error\nkept fatal\n"
	if got := buf.String(); got != want {
		t.Errorf("filtered output:\n got %q\nwant %q", got, want)
	}
}

// A logger with no appenders logs through its parent, which applies its own
// level again. The event keeps the name of the logger it entered through.
func TestLoggerParentFallback(t *testing.T) {
	reg := NewRegistry()
	root := reg.Root()
	root.ClearAppenders()
	a, buf := newBufAppender("%c:%m")
	root.AddAppender(a)

	child := reg.GetLogger("child")
	child.Infof("hello")
	if got := buf.String(); got != "child:hello" {
		t.Errorf("got %q, want %q", got, "child:hello")
	}

	// The parent's threshold applies on the fallback path.
	buf.Reset()
	root.SetLevel(LevelError)
	child.Infof("filtered at root")
	if got := buf.String(); got != "" {
		t.Errorf("root level ignored on fallback: %q", got)
	}
}

// An orphan logger with no appenders drops events rather than panicking.
func TestLoggerOrphanDropsEvents(t *testing.T) {
	reg := NewRegistry()
	lg := reg.GetLogger("orphan")
	if err := lg.SetParent(nil); err != nil {
		t.Fatalf("SetParent(nil) failed: %v", err)
	}
	lg.Infof("nowhere to go")
}

func TestLoggerAddAppenderAdoptsFormatter(t *testing.T) {
	reg := NewRegistry()
	lg := reg.GetLogger("svc")
	f1 := MustFormatter("%m")
	lg.SetFormatter(f1)

	// A fresh appender has no formatter of its own and inherits the
	// logger's, following later changes.
	var buf bytes.Buffer
	inherited := NewStreamAppender(&buf)
	lg.AddAppender(inherited)
	if inherited.Formatter() != f1 {
		t.Error("appender did not adopt the logger's formatter")
	}
	f2 := MustFormatter("%m%n")
	lg.SetFormatter(f2)
	if inherited.Formatter() != f2 {
		t.Error("formatter change did not propagate to the adopting appender")
	}

	// An appender with its own formatter keeps it.
	own := MustFormatter("[%L] %m")
	pinned := NewStreamAppender(&buf)
	pinned.SetFormatter(own)
	lg.AddAppender(pinned)
	lg.SetFormatter(f1)
	if pinned.Formatter() != own {
		t.Error("explicit appender formatter was overwritten by propagation")
	}
	if inherited.Formatter() != f1 {
		t.Error("adopting appender missed the second propagation")
	}
}

func TestAppenderLevelFilter(t *testing.T) {
	reg := NewRegistry()
	lg := reg.GetLogger("svc")
	a, buf := newBufAppender("%m%n")
	a.SetLevel(LevelError)
	lg.AddAppender(a)

	lg.Infof("below appender level")
	lg.Errorf("at appender level")
	if got := buf.String(); got != "at appender level\n" {
		t.Errorf("got %q", got)
	}
}

func TestLoggerSetParentCycle(t *testing.T) {
	reg := NewRegistry()
	a := reg.GetLogger("a")
	b := reg.GetLogger("b")

	if err := a.SetParent(a); !errors.Is(err, ErrCyclicParent) {
		t.Errorf("self parent: got %v, want ErrCyclicParent", err)
	}
	if err := b.SetParent(a); err != nil {
		t.Fatalf("b under a failed: %v", err)
	}
	if err := a.SetParent(b); !errors.Is(err, ErrCyclicParent) {
		t.Errorf("a under b (cycle): got %v, want ErrCyclicParent", err)
	}
	// The failed call must not have changed a's parent.
	if a.Parent() != reg.Root() {
		t.Error("rejected SetParent modified the parent link")
	}
}

// The printf helpers capture the call site and thread id.
func TestLoggerCapturesCallSite(t *testing.T) {
	reg := NewRegistry()
	lg := reg.GetLogger("svc")
	a, buf := newBufAppender("%f:%l %T %R")
	lg.AddAppender(a)

	lg.Infof("x")
	got := buf.String()
	if !strings.Contains(got, "logger_test.go") {
		t.Errorf("record %q does not name this test file", got)
	}
	fields := strings.Fields(got)
	if len(fields) != 3 {
		t.Fatalf("record %q: want three fields", got)
	}
	if fields[1] == "0" || fields[1] == "" {
		t.Errorf("thread id missing from record %q", got)
	}
	// Not inside a coroutine, so the coroutine id renders as zero.
	if fields[2] != "0" {
		t.Errorf("coroutine id %q, want 0 outside a coroutine", fields[2])
	}
}

func TestLoggerLogAtStampsEvent(t *testing.T) {
	reg := NewRegistry()
	lg := reg.GetLogger("svc")
	a, buf := newBufAppender("%c/%L/%m")
	lg.AddAppender(a)

	lg.LogAt(LevelWarn, &Event{Message: "stamped"})
	if got := buf.String(); got != "svc/WARN/stamped" {
		t.Errorf("got %q, want %q", got, "svc/WARN/stamped")
	}
}
