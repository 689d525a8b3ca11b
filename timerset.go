package cosched

import (
	"container/heap"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"golang.org/x/sys/unix"
)

// TimerID identifies a timer within a [TimerSet]. 0 is never a valid id.
type TimerID uint32

// minTimerArm is the floor applied when programming the timerfd: a deadline
// that is already due still arms the descriptor for a short positive
// interval, because a zero it_value would disarm it instead of firing.
const minTimerArm = time.Millisecond

// timer is a single entry: an absolute deadline, an optional repeat
// interval, and an optional liveness probe for condition timers.
type timer struct {
	when     time.Time
	cb       func()
	probe    func() bool // nil = unconditional; false at expiry = drop
	interval time.Duration
	id       TimerID
	index    int // heap index, -1 when popped
}

// timerHeap is a min-heap ordered by deadline, ties broken by id (insertion
// order, since ids are monotone).
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].id < h[j].id
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// TimerSet manages deadlines behind a single timerfd. The descriptor is
// always armed at the minimum deadline of the set (with a small positive
// floor) and disarmed while the set is empty, so a poller watching the fd
// wakes exactly when the earliest timer is due.
//
// Expirations do not run callbacks; [TimerSet.Expired] returns them so the
// owner decides the execution context (the Scheduler promotes them to
// tasks).
type TimerSet struct {
	mu    sync.Mutex
	byID  map[TimerID]*timer
	log   *Logger
	heap  timerHeap
	armed time.Time // deadline the timerfd is programmed for; zero = disarmed
	ids   atomic.Uint32
	fd    int
}

// newTimerSet creates the backing timerfd (monotonic clock, non-blocking,
// close-on-exec).
func newTimerSet(log *Logger) (*TimerSet, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("cosched: failed to create timerfd: %w", err)
	}
	return &TimerSet{
		fd:   fd,
		log:  log,
		byID: make(map[TimerID]*timer),
	}, nil
}

// FD returns the timerfd, for registration with a poller.
func (ts *TimerSet) FD() int { return ts.fd }

// Add schedules fn after delay. A positive interval reschedules the timer
// that far beyond each expiry (measured from the expiry, not the original
// deadline). Returns the timer id.
func (ts *TimerSet) Add(delay, interval time.Duration, fn func()) TimerID {
	return ts.insert(time.Now().Add(delay), interval, fn, nil)
}

// AddAt schedules a one-shot fn at an absolute deadline.
func (ts *TimerSet) AddAt(deadline time.Time, fn func()) TimerID {
	return ts.insert(deadline, 0, fn, nil)
}

// AddCondition schedules fn after delay, but only while token remains
// reachable: the set holds a weak pointer, and an expiry whose token has
// been collected is dropped silently. fn receives the re-strengthened token.
//
// This is the building block for I/O timeouts: the hook layer keys the timer
// to a per-call flag object that dies with the call frame.
func AddCondition[T any](ts *TimerSet, delay, interval time.Duration, token *T, fn func(*T)) TimerID {
	wk := weak.Make(token)
	return ts.insert(time.Now().Add(delay), interval,
		func() {
			if p := wk.Value(); p != nil {
				fn(p)
			}
		},
		func() bool { return wk.Value() != nil })
}

func (ts *TimerSet) insert(when time.Time, interval time.Duration, cb func(), probe func() bool) TimerID {
	id := TimerID(ts.ids.Add(1))
	t := &timer{id: id, when: when, interval: interval, cb: cb, probe: probe}
	ts.mu.Lock()
	ts.byID[id] = t
	heap.Push(&ts.heap, t)
	ts.rearmLocked()
	ts.mu.Unlock()
	return id
}

// Cancel removes a pending timer. Returns false when the id is unknown
// (never issued, already expired, or already canceled).
func (ts *TimerSet) Cancel(id TimerID) bool {
	ts.mu.Lock()
	t, ok := ts.byID[id]
	if ok {
		delete(ts.byID, id)
		heap.Remove(&ts.heap, t.index)
		ts.rearmLocked()
	}
	ts.mu.Unlock()
	return ok
}

// Has reports whether id refers to a pending timer.
func (ts *TimerSet) Has(id TimerID) bool {
	ts.mu.Lock()
	_, ok := ts.byID[id]
	ts.mu.Unlock()
	return ok
}

// Len returns the number of pending timers.
func (ts *TimerSet) Len() int {
	ts.mu.Lock()
	n := len(ts.heap)
	ts.mu.Unlock()
	return n
}

// NextDeadline returns the earliest pending deadline, if any.
func (ts *TimerSet) NextDeadline() (time.Time, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.heap) == 0 {
		return time.Time{}, false
	}
	return ts.heap[0].when, true
}

// Expired consumes the timerfd expiry count and pops every timer whose
// deadline has passed, in ascending deadline order. Repeating timers are
// reinserted at now+interval; condition timers whose token died are dropped.
// The returned callbacks have not been run.
func (ts *TimerSet) Expired() []func() {
	ts.drainFd()
	ts.mu.Lock()
	now := time.Now()
	var cbs []func()
	for len(ts.heap) > 0 && !ts.heap[0].when.After(now) {
		t := heap.Pop(&ts.heap).(*timer)
		if t.probe != nil && !t.probe() {
			delete(ts.byID, t.id)
			continue
		}
		if t.interval > 0 {
			t.when = now.Add(t.interval)
			heap.Push(&ts.heap, t)
		} else {
			delete(ts.byID, t.id)
		}
		cbs = append(cbs, t.cb)
	}
	ts.rearmLocked()
	ts.mu.Unlock()
	return cbs
}

// drainFd clears the timerfd expiry counter so an edge-triggered poller can
// see the next expiration.
func (ts *TimerSet) drainFd() {
	var buf [8]byte
	for {
		_, err := unix.Read(ts.fd, buf[:])
		switch err {
		case nil, unix.EAGAIN:
			return
		case unix.EINTR:
			continue
		default:
			return
		}
	}
}

// rearmLocked programs the timerfd for the current minimum deadline, or
// disarms it when the set is empty. Caller holds mu.
func (ts *TimerSet) rearmLocked() {
	var next time.Time
	if len(ts.heap) > 0 {
		next = ts.heap[0].when
	}
	if next.Equal(ts.armed) {
		return
	}
	var spec unix.ItimerSpec
	if !next.IsZero() {
		d := time.Until(next)
		if d < minTimerArm {
			d = minTimerArm
		}
		spec.Value = unix.NsecToTimespec(d.Nanoseconds())
	}
	if err := unix.TimerfdSettime(ts.fd, 0, &spec, nil); err != nil {
		ts.log.Err().
			Err(err).
			Log("timerfd settime failed")
		return
	}
	ts.armed = next
}

// Close disarms and releases the timerfd. Pending timers are dropped.
func (ts *TimerSet) Close() error {
	ts.mu.Lock()
	ts.heap = nil
	ts.byID = make(map[TimerID]*timer)
	ts.armed = time.Time{}
	ts.mu.Unlock()
	return unix.Close(ts.fd)
}
