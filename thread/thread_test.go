package thread

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestNew_ReadyBeforeReturn(t *testing.T) {
	started := make(chan struct{})
	th := New("worker", func() {
		<-started
	})
	// The constructor must not return before the child cached its ids.
	if th.TID() <= 0 {
		t.Errorf("tid not cached: %d", th.TID())
	}
	if th.GoID() == 0 {
		t.Error("goroutine id not cached")
	}
	if th.Name() != "worker" {
		t.Errorf("name = %q, want %q", th.Name(), "worker")
	}
	close(started)
	if err := th.Join(); err != nil {
		t.Fatalf("Join: %v", err)
	}
}

func TestNew_EmptyNameDefaults(t *testing.T) {
	th := New("", func() {})
	if th.Name() != DefaultName {
		t.Errorf("name = %q, want %q", th.Name(), DefaultName)
	}
	_ = th.Join()
}

func TestJoin_WaitsForBody(t *testing.T) {
	var done atomic.Bool
	th := New("join", func() {
		time.Sleep(20 * time.Millisecond)
		done.Store(true)
	})
	if err := th.Join(); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if !done.Load() {
		t.Fatal("Join returned before the body finished")
	}
	// Join is re-callable after completion.
	if err := th.Join(); err != nil {
		t.Fatalf("second Join: %v", err)
	}
}

func TestDetach(t *testing.T) {
	release := make(chan struct{})
	th := New("detached", func() { <-release })
	th.Detach()
	if err := th.Join(); err != ErrDetached {
		t.Fatalf("Join after Detach = %v, want ErrDetached", err)
	}
	close(release)
}

func TestCurrent_InsideAndOutside(t *testing.T) {
	if Current() != nil {
		t.Fatal("test goroutine unexpectedly owned by a Thread")
	}
	got := make(chan *Thread, 1)
	name := make(chan string, 1)
	th := New("inspect", func() {
		got <- Current()
		name <- CurrentName()
	})
	_ = th.Join()
	if cur := <-got; cur != th {
		t.Errorf("Current inside body = %p, want %p", cur, th)
	}
	if n := <-name; n != "inspect" {
		t.Errorf("CurrentName inside body = %q, want %q", n, "inspect")
	}
	// Registry entry is removed once the body returns.
	if CurrentName() != DefaultName {
		t.Errorf("CurrentName outside = %q, want %q", CurrentName(), DefaultName)
	}
}

func TestSetCurrentName(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		SetCurrentName("main-ish")
		if CurrentName() != "main-ish" {
			t.Errorf("CurrentName = %q, want %q", CurrentName(), "main-ish")
		}
	}()
	<-done
}

func TestDistinctTIDs(t *testing.T) {
	release := make(chan struct{})
	a := New("a", func() { <-release })
	b := New("b", func() { <-release })
	if a.TID() == b.TID() {
		t.Errorf("two live locked threads share tid %d", a.TID())
	}
	if a.GoID() == b.GoID() {
		t.Errorf("two threads share goroutine id %d", a.GoID())
	}
	close(release)
	_ = a.Join()
	_ = b.Join()
}
