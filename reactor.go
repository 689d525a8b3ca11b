package cosched

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// IOEvents is a bitmask of I/O readiness directions accepted by
// [Scheduler.UpdateEvent] and [Scheduler.CancelEvent].
type IOEvents uint32

const (
	// EventRead indicates read readiness (EPOLLIN, plus HUP/ERR edge cases).
	EventRead IOEvents = 1 << iota
	// EventWrite indicates write readiness (EPOLLOUT).
	EventWrite
)

// String returns a human-readable representation of the event mask.
func (e IOEvents) String() string {
	switch e & (EventRead | EventWrite) {
	case EventRead:
		return "read"
	case EventWrite:
		return "write"
	case EventRead | EventWrite:
		return "read|write"
	default:
		return "none"
	}
}

// pollTimeout caps every epoll_wait so pollers periodically re-check the
// stop condition even when nothing fires.
const pollTimeout = 5 * time.Second

// maxPollEvents bounds a single epoll_wait batch.
const maxPollEvents = 64

// continuation is what runs when a direction fires: a parked coroutine to
// requeue, or a bare callback. At most one of the fields is set.
type continuation struct {
	co *Coroutine
	fn func()
}

func (c continuation) empty() bool { return c.co == nil && c.fn == nil }

// fdEvent tracks the armed interest and the per-direction continuations for
// one descriptor. The record persists across registrations; interest == 0
// means the fd is currently deregistered from the kernel.
type fdEvent struct {
	mu       sync.Mutex
	read     continuation
	write    continuation
	fd       int
	interest IOEvents
}

// take removes and returns the continuations armed for the given directions.
// Caller holds mu; the interest bit for a direction is set exactly when its
// continuation is non-empty.
func (ev *fdEvent) take(mask IOEvents) []continuation {
	var out []continuation
	if mask&EventRead != 0 && !ev.read.empty() {
		out = append(out, ev.read)
		ev.read = continuation{}
	}
	if mask&EventWrite != 0 && !ev.write.empty() {
		out = append(out, ev.write)
		ev.write = continuation{}
	}
	return out
}

// reactor multiplexes I/O readiness, timer expiry, and cross-thread wakeups
// over one epoll instance. All registrations are edge-triggered and
// one-shot at the library level: a fired direction is deregistered before
// its continuation is submitted, so each registration produces exactly one
// wakeup.
//
// Multiple workers poll the same epoll fd concurrently (from their idle
// coroutines); edge-triggering keeps the kernel from waking all of them for
// one event.
type reactor struct {
	notifier *Notifier
	timers   *TimerSet
	sched    *Scheduler
	log      *Logger
	events   map[int]*fdEvent
	mu       sync.RWMutex
	pending  atomic.Int32 // armed user continuations
	epfd     int
}

// newReactor builds the epoll instance plus its two internal descriptors
// (notifier eventfd, timer timerfd), registering both as permanent
// edge-triggered read interests. Any failure releases what was created.
func newReactor(log *Logger) (*reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("cosched: failed to create epoll instance: %w", err)
	}
	notifier, err := NewNotifier()
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	timers, err := newTimerSet(log)
	if err != nil {
		_ = notifier.Close()
		_ = unix.Close(epfd)
		return nil, err
	}
	r := &reactor{
		epfd:     epfd,
		notifier: notifier,
		timers:   timers,
		log:      log,
		events:   make(map[int]*fdEvent),
	}
	if err := r.addInternal(notifier.FD()); err != nil {
		r.close()
		return nil, err
	}
	if err := r.addInternal(timers.FD()); err != nil {
		r.close()
		return nil, err
	}
	return r, nil
}

func (r *reactor) addInternal(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("cosched: failed to register internal fd %d: %w", fd, err)
	}
	return nil
}

// eventFor returns the record for fd, creating it when create is set.
// Records are never removed; a recycled descriptor reuses its slot.
func (r *reactor) eventFor(fd int, create bool) *fdEvent {
	r.mu.RLock()
	ev := r.events[fd]
	r.mu.RUnlock()
	if ev != nil || !create {
		return ev
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev := r.events[fd]; ev != nil {
		return ev
	}
	ev = &fdEvent{fd: fd}
	r.events[fd] = ev
	return ev
}

// updateEvent arms a one-shot continuation for the given directions of fd.
// A nil fn captures the coroutine running on the calling goroutine
// ([ErrNoCoroutine] if there is none). A direction that is already armed
// fails with [ErrEventExists] without touching the other direction.
func (r *reactor) updateEvent(fd int, mask IOEvents, fn func()) error {
	if fd < 0 || mask == 0 || mask&^(EventRead|EventWrite) != 0 {
		return fmt.Errorf("cosched: invalid event registration for fd %d mask %v", fd, mask)
	}
	var cont continuation
	if fn == nil {
		co := Current()
		if co == nil {
			return ErrNoCoroutine
		}
		cont = continuation{co: co}
	} else {
		cont = continuation{fn: fn}
	}

	ev := r.eventFor(fd, true)
	ev.mu.Lock()
	defer ev.mu.Unlock()
	if mask&EventRead != 0 && !ev.read.empty() {
		return fmt.Errorf("%w: fd %d read", ErrEventExists, fd)
	}
	if mask&EventWrite != 0 && !ev.write.empty() {
		return fmt.Errorf("%w: fd %d write", ErrEventExists, fd)
	}
	if err := r.ctl(fd, ev.interest, ev.interest|mask); err != nil {
		return err
	}
	armed := int32(0)
	if mask&EventRead != 0 {
		ev.read = cont
		armed++
	}
	if mask&EventWrite != 0 {
		ev.write = cont
		armed++
	}
	ev.interest |= mask
	r.pending.Add(armed)
	return nil
}

// cancelEvent discards the continuations armed for the masked directions of
// fd and fixes the kernel registration. [ErrEventNotFound] when none of the
// directions is armed.
func (r *reactor) cancelEvent(fd int, mask IOEvents) error {
	_, err := r.cancel(fd, mask, false)
	return err
}

// cancelFire is cancelEvent, except the dislodged continuations are
// submitted to the scheduler instead of discarded. Used by the hook timeout
// and close paths; a missing registration is not an error there.
func (r *reactor) cancelFire(fd int, mask IOEvents) {
	if _, err := r.cancel(fd, mask, true); err != nil && !errors.Is(err, ErrEventNotFound) {
		r.log.Warning().
			Err(err).
			Int("fd", fd).
			Log("cancel-fire failed")
	}
}

func (r *reactor) cancel(fd int, mask IOEvents, fire bool) (IOEvents, error) {
	ev := r.eventFor(fd, false)
	if ev == nil {
		return 0, fmt.Errorf("%w: fd %d", ErrEventNotFound, fd)
	}
	ev.mu.Lock()
	hit := ev.interest & mask
	if hit == 0 {
		ev.mu.Unlock()
		return 0, fmt.Errorf("%w: fd %d %v", ErrEventNotFound, fd, mask)
	}
	conts := ev.take(hit)
	err := r.ctl(fd, ev.interest, ev.interest&^hit)
	ev.interest &^= hit
	ev.mu.Unlock()
	r.pending.Add(-int32(len(conts)))
	if fire {
		for _, c := range conts {
			r.submit(c)
		}
	}
	return hit, err
}

// ctl reconciles the kernel registration of fd from old to next interest.
func (r *reactor) ctl(fd int, old, next IOEvents) error {
	var op int
	switch {
	case old == next:
		return nil
	case old == 0:
		op = unix.EPOLL_CTL_ADD
	case next == 0:
		op = unix.EPOLL_CTL_DEL
	default:
		op = unix.EPOLL_CTL_MOD
	}
	ev := unix.EpollEvent{Events: epollBits(next), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, op, fd, &ev); err != nil {
		return fmt.Errorf("cosched: epoll_ctl fd %d: %w", fd, err)
	}
	return nil
}

func epollBits(mask IOEvents) uint32 {
	var bits uint32 = unix.EPOLLET
	if mask&EventRead != 0 {
		bits |= unix.EPOLLIN
	}
	if mask&EventWrite != 0 {
		bits |= unix.EPOLLOUT
	}
	return bits
}

// firedMask translates kernel readiness into registered directions: HUP
// without IN still wakes the reader (to observe EOF), and ERR wakes both
// directions so waiters can surface the socket error from the retried call.
func firedMask(ready uint32) IOEvents {
	var m IOEvents
	if ready&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLPRI) != 0 {
		m |= EventRead
	}
	if ready&unix.EPOLLOUT != 0 {
		m |= EventWrite
	}
	if ready&unix.EPOLLHUP != 0 && ready&unix.EPOLLIN == 0 {
		m |= EventRead
	}
	if ready&unix.EPOLLERR != 0 {
		m = EventRead | EventWrite
	}
	return m
}

// pollAndHandle performs one bounded epoll_wait and dispatches whatever
// fired: notifier wakeups are drained, expired timers become scheduler
// tasks, and ready descriptors fire their continuations. Runs inside each
// worker's idle coroutine; safe to run from several workers at once.
func (r *reactor) pollAndHandle() {
	var events [maxPollEvents]unix.EpollEvent
	n, err := unix.EpollWait(r.epfd, events[:], int(pollTimeout/time.Millisecond))
	if err != nil {
		if err != unix.EINTR && err != unix.EBADF { //nolint:errorlint // unix.Errno
			r.log.Err().
				Err(err).
				Log("epoll_wait failed")
		}
		return
	}
	r.sched.countPoll()
	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		switch fd {
		case r.notifier.FD():
			if _, err := r.notifier.Drain(); err != nil {
				r.log.Warning().
					Err(err).
					Log("notifier drain failed")
			}
			r.sched.wakeConsumed()
		case r.timers.FD():
			for _, cb := range r.timers.Expired() {
				r.sched.countTimerFire()
				r.submit(continuation{fn: cb})
			}
		default:
			r.handleReady(fd, events[i].Events)
		}
	}
}

func (r *reactor) handleReady(fd int, ready uint32) {
	ev := r.eventFor(fd, false)
	if ev == nil {
		return
	}
	ev.mu.Lock()
	fired := firedMask(ready) & ev.interest
	if fired == 0 {
		// Raced with a cancel, or readiness for a direction nobody wants.
		ev.mu.Unlock()
		return
	}
	conts := ev.take(fired)
	if err := r.ctl(fd, ev.interest, ev.interest&^fired); err != nil {
		r.log.Warning().
			Err(err).
			Int("fd", fd).
			Log("failed to deregister fired event")
	}
	ev.interest &^= fired
	ev.mu.Unlock()
	r.pending.Add(-int32(len(conts)))
	for _, c := range conts {
		r.submit(c)
	}
}

// submit hands a fired continuation to the scheduler queue.
func (r *reactor) submit(c continuation) {
	var err error
	switch {
	case c.co != nil:
		err = r.sched.scheduleTask(task{co: c.co})
	case c.fn != nil:
		err = r.sched.scheduleTask(task{fn: c.fn})
	default:
		return
	}
	if err != nil {
		r.log.Warning().
			Err(err).
			Log("dropped continuation: scheduler rejected it")
	}
}

// pendingEvents returns the number of armed user continuations.
func (r *reactor) pendingEvents() int { return int(r.pending.Load()) }

// quiescent reports that no user continuation is armed and no timer is
// pending; it gates scheduler shutdown.
func (r *reactor) quiescent() bool {
	return r.pending.Load() == 0 && r.timers.Len() == 0
}

// close releases the epoll instance and both internal descriptors. Callers
// must ensure no poller is still running.
func (r *reactor) close() {
	_ = unix.Close(r.epfd)
	_ = r.notifier.Close()
	_ = r.timers.Close()
}
