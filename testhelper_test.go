package cosched

import (
	"bytes"
	"os"
	"sync"
	"testing"

	"github.com/joeycumines/stumpy"
	"golang.org/x/sys/unix"
)

// syncBuffer serializes writes from worker threads so tests can inspect
// captured log output while the scheduler is still running.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// newTestLogger returns a logger writing JSON lines to buf, with the time
// field disabled for stable output.
func newTestLogger(buf *syncBuffer) *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(buf), stumpy.WithTimeField(``)),
	).Logger()
}

// testSocketpair creates a connected AF_UNIX stream pair. Both ends start in
// blocking mode.
func testSocketpair(t *testing.T) (fd0, fd1 int, cleanup func()) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal("socketpair failed:", err)
	}
	return fds[0], fds[1], func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	}
}

// testPipe creates a pipe suitable for readiness registration.
func testPipe(t *testing.T) (r, w *os.File, cleanup func()) {
	t.Helper()
	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatal("os.Pipe failed:", err)
	}
	return pr, pw, func() {
		pr.Close()
		pw.Close()
	}
}

// startScheduler builds and starts a scheduler, stopping it at test cleanup.
func startScheduler(t *testing.T, opts ...SchedulerOption) *Scheduler {
	t.Helper()
	s, err := New(opts...)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Stop)
	return s
}

// hookedPair is testSocketpair with both ends registered in the scheduler's
// descriptor table, which forces the kernel non-blocking bit on.
func hookedPair(t *testing.T, s *Scheduler) (fd0, fd1 int) {
	t.Helper()
	a, b, cleanup := testSocketpair(t)
	t.Cleanup(cleanup)
	s.FDs().Get(a, true)
	s.FDs().Get(b, true)
	return a, b
}
