package cosched

import (
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-cosched/internal/goid"
)

// coroutineIDs allocates process-unique coroutine ids. The first id is 1;
// 0 is reserved as the invalid id.
var coroutineIDs atomic.Uint32

// currentCoroutines maps goroutine ids to the coroutine executing on them.
// An entry exists only while the coroutine is between swap-in and the next
// yield, so the map stays small (one entry per worker plus resumed children).
var currentCoroutines = struct {
	sync.RWMutex
	byGoID map[uint64]*Coroutine
}{byGoID: make(map[uint64]*Coroutine)}

// Coroutine is a cooperatively scheduled unit of work backed by a goroutine.
//
// Unlike a bare goroutine, a Coroutine is externally driven: it runs only
// between a [Coroutine.Resume] call and the next [YieldHold]/[YieldReady] (or
// the return of its entry function), and the resuming goroutine blocks for
// exactly that interval. The backing goroutine is spawned lazily on the first
// Resume and exits when the entry returns or panics, so a terminated
// Coroutine holds no goroutine. [Coroutine.Reset] re-arms the same handle
// (and id) with a new entry.
//
// All state transitions go through a lock-free CAS word, which makes Resume
// single-owner: when several goroutines race to resume the same coroutine,
// exactly one wins and the rest observe [ErrNotRunnable].
type Coroutine struct {
	// resume signals the parked backing goroutine to continue; yield signals
	// the resumer that the coroutine parked or finished. Both are unbuffered
	// so each handoff is a rendezvous.
	resume chan struct{}
	yield  chan struct{}

	entry func()
	err   *PanicError

	// sched and log are stamped by the dispatching scheduler after it wins
	// the Resume CAS; they are read only by the coroutine body (hook layer)
	// and are nil for manually driven coroutines.
	sched *Scheduler
	log   *Logger

	id uint32

	// inline marks a coroutine whose entry runs on the resumer's own
	// goroutine instead of a spawned one (the scheduler's dummy-main).
	inline bool

	state fastState
}

// NewCoroutine creates a coroutine in StateInit. The entry function does not
// run until the first call to [Coroutine.Resume].
func NewCoroutine(entry func()) *Coroutine {
	return &Coroutine{
		id:     coroutineIDs.Add(1),
		entry:  entry,
		resume: make(chan struct{}),
		yield:  make(chan struct{}),
	}
}

// newInlineCoroutine creates a coroutine whose entry runs on the goroutine
// that resumes it. Used for the dummy-main that drains the caller loop
// during Stop; such a coroutine must never yield.
func newInlineCoroutine(entry func()) *Coroutine {
	return &Coroutine{
		id:     coroutineIDs.Add(1),
		entry:  entry,
		inline: true,
	}
}

// ID returns the process-unique coroutine id (never 0).
func (c *Coroutine) ID() uint32 { return c.id }

// State returns the current lifecycle state.
func (c *Coroutine) State() CoroutineState { return c.state.Load() }

// Runnable reports whether Resume may currently succeed.
func (c *Coroutine) Runnable() bool { return c.State().Runnable() }

// Err returns the panic trapped by the trampoline as a [*PanicError], or nil
// if the coroutine has not faulted. Meaningful once a Resume observing
// StateExcept has returned.
func (c *Coroutine) Err() error {
	if c.err == nil {
		return nil
	}
	return c.err
}

// Resume swaps the coroutine in: it transitions Init/Hold/Ready → Exec,
// spawns or wakes the backing goroutine, and blocks until the coroutine
// yields or terminates. Exactly one of several racing resumers succeeds; the
// others receive [ErrNotRunnable].
//
// After Resume returns, State() reports where the coroutine parked: Hold or
// Ready after a yield, Term after a normal return, Except after a trapped
// panic.
func (c *Coroutine) Resume() error { return c.resumeAs(nil) }

// runnableStates are the legal sources of the Resume transition.
var runnableStates = []CoroutineState{StateInit, StateHold, StateReady}

// resumeAs is Resume with an optional scheduler stamp. The stamp is applied
// after the CAS is won, so it is ordered before the entry observes it.
func (c *Coroutine) resumeAs(s *Scheduler) error {
	prev, ok := c.state.TransitionAny(runnableStates, StateExec)
	if !ok {
		return ErrNotRunnable
	}
	if s != nil {
		c.sched = s
		c.log = s.log
	}
	if c.inline {
		c.runInline()
		return nil
	}
	if prev == StateInit {
		go c.trampoline()
	} else {
		c.resume <- struct{}{}
	}
	<-c.yield
	return nil
}

// Reset re-arms the coroutine with a new entry, keeping its id and handle.
// Legal only from Init, Term, or Except ([ErrNotResettable] otherwise); the
// caller must not race Reset with Resume on an Init coroutine.
func (c *Coroutine) Reset(entry func()) error {
	if _, ok := c.state.TransitionAny([]CoroutineState{StateInit, StateTerm, StateExcept}, StateInit); !ok {
		return ErrNotResettable
	}
	c.entry = entry
	c.err = nil
	return nil
}

// trampoline is the backing goroutine body: it publishes the goroutine→
// coroutine mapping, runs the entry with a panic trap, and hands control
// back to the final resumer before exiting.
func (c *Coroutine) trampoline() {
	gid := goid.ID()
	setCurrent(gid, c)
	defer func() {
		clearCurrent(gid)
		c.yield <- struct{}{}
	}()
	c.run()
}

// runInline executes the entry on the resumer's goroutine, preserving any
// coroutine already current there.
func (c *Coroutine) runInline() {
	gid := goid.ID()
	prev := swapCurrent(gid, c)
	defer swapCurrent(gid, prev)
	c.run()
}

// run executes the entry once, trapping panics. On return the state is Term
// (normal) or Except (panicked) and the entry reference is cleared so the
// coroutine does not pin its captures.
func (c *Coroutine) run() {
	defer func() {
		c.entry = nil
		if r := recover(); r != nil {
			c.err = &PanicError{Value: r, Stack: debug.Stack()}
			logPanic(c.log, c.id, c.err)
			c.state.Store(StateExcept)
		}
	}()
	c.entry()
	c.state.Store(StateTerm)
}

// yieldTo parks the coroutine in the given state and blocks until the next
// Resume. Must run on the coroutine's own goroutine while in StateExec.
func (c *Coroutine) yieldTo(st CoroutineState) {
	if c.inline {
		panic("cosched: the scheduling coroutine cannot yield")
	}
	if !c.state.TryTransition(StateExec, st) {
		panic("cosched: yield from a coroutine that is not executing")
	}
	c.yield <- struct{}{}
	<-c.resume
}

// YieldHold parks the current coroutine in StateHold: it expects an external
// wakeup (timer, I/O readiness, or an explicit Resume) and is skipped by
// scheduler queues until one arrives. Panics with [ErrNoCoroutine] when
// called outside a coroutine.
func YieldHold() {
	mustCurrent().yieldTo(StateHold)
}

// YieldReady parks the current coroutine in StateReady: a scheduler that
// owns it will requeue and re-run it without any external event. Panics with
// [ErrNoCoroutine] when called outside a coroutine.
func YieldReady() {
	mustCurrent().yieldTo(StateReady)
}

// Current returns the coroutine executing on the calling goroutine, or nil
// when the goroutine is not hosting one.
func Current() *Coroutine {
	gid := goid.ID()
	currentCoroutines.RLock()
	c := currentCoroutines.byGoID[gid]
	currentCoroutines.RUnlock()
	return c
}

// CurrentID returns the id of the coroutine executing on the calling
// goroutine, or 0 when there is none.
func CurrentID() uint32 {
	if c := Current(); c != nil {
		return c.id
	}
	return 0
}

func mustCurrent() *Coroutine {
	c := Current()
	if c == nil {
		panic(ErrNoCoroutine)
	}
	return c
}

func setCurrent(gid uint64, c *Coroutine) {
	currentCoroutines.Lock()
	currentCoroutines.byGoID[gid] = c
	currentCoroutines.Unlock()
}

func clearCurrent(gid uint64) {
	currentCoroutines.Lock()
	delete(currentCoroutines.byGoID, gid)
	currentCoroutines.Unlock()
}

// swapCurrent installs c for gid and returns the previous mapping (nil when
// absent). Passing nil removes the entry.
func swapCurrent(gid uint64, c *Coroutine) *Coroutine {
	currentCoroutines.Lock()
	prev := currentCoroutines.byGoID[gid]
	if c == nil {
		delete(currentCoroutines.byGoID, gid)
	} else {
		currentCoroutines.byGoID[gid] = c
	}
	currentCoroutines.Unlock()
	return prev
}
