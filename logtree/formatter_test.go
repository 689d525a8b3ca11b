package logtree

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func testEvent() *Event {
	return &Event{
		Time:        time.Date(2024, 3, 1, 12, 34, 56, 0, time.UTC),
		File:        "server/accept.go",
		Message:     "client connected",
		LoggerName:  "net",
		Line:        42,
		ThreadID:    12345,
		CoroutineID: 7,
		Level:       LevelInfo,
	}
}

// Every one-character code renders the matching event field.
func TestFormatterCodes(t *testing.T) {
	f, err := NewFormatter("%m|%c|%L|%l|%t|%f|%T|%R|%%")
	if err != nil {
		t.Fatalf("NewFormatter failed: %v", err)
	}
	got := f.Format(testEvent())
	want := "client connected|net|INFO|42|\t|server/accept.go|12345|7|%"
	if got != want {
		t.Errorf("Format mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestFormatterNewline(t *testing.T) {
	f, err := NewFormatter("%m%n")
	if err != nil {
		t.Fatalf("NewFormatter failed: %v", err)
	}
	if got := f.Format(testEvent()); got != "client connected\n" {
		t.Errorf("got %q, want message plus newline", got)
	}
}

func TestFormatterTimeLayout(t *testing.T) {
	f, err := NewFormatter("%d{%Y-%m-%d %H:%M:%S}")
	if err != nil {
		t.Fatalf("NewFormatter failed: %v", err)
	}
	if got := f.Format(testEvent()); got != "2024-03-01 12:34:56" {
		t.Errorf("got %q, want %q", got, "2024-03-01 12:34:56")
	}
}

// Literal text survives around codes, including text after the last code.
func TestFormatterLiteralText(t *testing.T) {
	f, err := NewFormatter("hello %m!")
	if err != nil {
		t.Fatalf("NewFormatter failed: %v", err)
	}
	if got := f.Format(testEvent()); got != "hello client connected!" {
		t.Errorf("got %q", got)
	}
}

func TestFormatterEmptyPattern(t *testing.T) {
	f, err := NewFormatter("")
	if err != nil {
		t.Fatalf("NewFormatter(\"\") failed: %v", err)
	}
	if got := f.Format(testEvent()); got != "" {
		t.Errorf("empty pattern formatted %q", got)
	}
	if got := f.Pattern(); got != "" {
		t.Errorf("empty pattern re-emitted %q", got)
	}
}

// Pattern re-emits the exact string the formatter was parsed from, for every
// kind of item (text, codes, %%, and %d{...}).
func TestFormatterPatternRoundTrip(t *testing.T) {
	patterns := []string{
		DefaultPattern,
		"plain text only",
		"%%",
		"a%%b",
		"%m",
		"%m%n",
		"[%L] %m%n",
		"%d{%H:%M}",
		"%d{}",
		"x %d{%Y} y %t z",
		"100%% of %m",
	}
	for _, pattern := range patterns {
		f, err := NewFormatter(pattern)
		if err != nil {
			t.Errorf("NewFormatter(%q) failed: %v", pattern, err)
			continue
		}
		if got := f.Pattern(); got != pattern {
			t.Errorf("Pattern round trip: got %q, want %q", got, pattern)
		}
	}
}

func TestFormatterBadPatterns(t *testing.T) {
	// Trailing '%', unknown codes, '%d' without (or with an unclosed)
	// layout, a brace directly after '%', and an unknown strftime
	// directive inside the layout.
	patterns := []string{
		"%",
		"abc%",
		"%y",
		"abc%yd",
		"%d",
		"%dx",
		"%d{%H",
		"%{",
		"%}",
		"%m%d",
		"%d{%Q}",
	}
	for _, pattern := range patterns {
		_, err := NewFormatter(pattern)
		if err == nil {
			t.Errorf("NewFormatter(%q) unexpectedly succeeded", pattern)
			continue
		}
		if !errors.Is(err, ErrBadPattern) {
			t.Errorf("NewFormatter(%q) error %v, want ErrBadPattern", pattern, err)
		}
	}
}

func TestMustFormatterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustFormatter did not panic on a bad pattern")
		}
	}()
	MustFormatter("%")
}

// The default pattern renders a full record line.
func TestDefaultPatternSmoke(t *testing.T) {
	f, err := NewFormatter(DefaultPattern)
	if err != nil {
		t.Fatalf("default pattern failed to parse: %v", err)
	}
	got := f.Format(testEvent())
	for _, part := range []string{
		"2024-03-01 12:34:56",
		"\t12345\t7\t[INFO]\t[net]\t",
		"server/accept.go:42\tclient connected\n",
	} {
		if !strings.Contains(got, part) {
			t.Errorf("formatted record %q missing %q", got, part)
		}
	}
	if !strings.HasSuffix(got, "\n") {
		t.Errorf("formatted record %q does not end with a newline", got)
	}
}
