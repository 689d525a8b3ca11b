package cosched

import (
	"container/list"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-cosched/internal/goid"
	"github.com/joeycumines/go-cosched/thread"
	uberatomic "go.uber.org/atomic"
)

// Scheduler lifecycle. Transitions are monotonic: New -> Running ->
// Stopping -> Stopped, with a shortcut from New straight to Stopped when
// Stop is called before Start.
type schedState uint32

const (
	schedNew schedState = iota
	schedRunning
	schedStopping
	schedStopped
)

// task is one queue entry: a coroutine to resume, or a bare callback that a
// dispatch loop promotes into a coroutine. A non-zero tid pins the entry to
// the dispatch loop with that kernel thread id.
type task struct {
	co       *Coroutine
	fn       func()
	queuedAt time.Time // set only when metrics are enabled
	tid      int
}

// loopState is the shared view of one dispatch loop: its kernel thread id
// and whether it is currently parked in its idle coroutine. Other loops read
// both fields when deciding where a wakeup is needed.
type loopState struct {
	tid  uberatomic.Int64
	idle uberatomic.Bool
}

// takeResult describes one scan of the task queue.
type takeResult struct {
	task  task
	ok    bool // task holds a dispatchable entry
	more  bool // dispatchable work may remain queued
	retry bool // entries were skipped; rescan once before idling
	baton bool // a skipped entry needs some other loop woken
}

// Scheduler multiplexes coroutines over a fixed pool of OS-thread-locked
// workers. Each worker runs a dispatch loop that drains a shared FIFO task
// queue, honoring per-task thread affinity, and parks in an idle coroutine
// that polls the reactor (epoll) for I/O readiness, timer expiry, and
// cross-thread wakeups.
//
// A Scheduler must be started with [Scheduler.Start] and shut down with
// [Scheduler.Stop], which drains all queued work before returning. Work may
// be submitted before Start; it is dispatched once the workers come up.
type Scheduler struct {
	log     *Logger
	reactor *reactor
	fds     *FdTable
	hooks   *HookLayer
	metrics *Metrics

	mu    sync.Mutex
	tasks *list.List // of task

	// startMu guards loops/workers against a Stop racing Start.
	startMu sync.Mutex
	workers []*thread.Thread
	loops   []*loopState

	// dummyMain drains the caller loop during Stop when the scheduler was
	// built with WithCallerThread. It runs inline on the goroutine that
	// calls Stop, claiming the constructing thread's id for affinity.
	dummyMain  *Coroutine
	callerLoop *loopState
	callerGoID uint64

	name        string
	workerCount int
	hooking     bool

	// active counts workers currently resuming a task; idles counts workers
	// parked in their idle coroutine. A worker is never both.
	active uberatomic.Int32
	idles  uberatomic.Int32

	// wakePending deduplicates notifier writes: set when a wakeup has been
	// posted and not yet drained by a poller.
	wakePending atomic.Uint32

	state    atomic.Uint32 // schedState
	stopOnce sync.Once
}

// New builds a stopped scheduler from the supplied options. When
// WithCallerThread is enabled the constructing goroutine is locked to its OS
// thread and that thread becomes one of the scheduler's dispatch loops,
// drained when Stop is called.
func New(opts ...SchedulerOption) (*Scheduler, error) {
	cfg, err := resolveSchedulerOptions(opts)
	if err != nil {
		return nil, err
	}
	r, err := newReactor(cfg.logger)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		log:         cfg.logger,
		reactor:     r,
		fds:         cfg.fdTable,
		tasks:       list.New(),
		name:        cfg.name,
		workerCount: cfg.workers,
		hooking:     cfg.hooking,
	}
	r.sched = s
	if s.fds == nil {
		s.fds = NewFdTable()
	}
	if cfg.metrics {
		s.metrics = newMetrics()
	}
	s.hooks = &HookLayer{s: s}
	if cfg.includeCaller {
		runtime.LockOSThread()
		s.callerGoID = goid.ID()
		s.callerLoop = &loopState{}
		s.callerLoop.tid.Store(int64(thread.CurrentTID()))
		s.dummyMain = newInlineCoroutine(func() {
			s.dispatchLoop(s.callerLoop, int(s.callerLoop.tid.Load()))
		})
		s.loops = append(s.loops, s.callerLoop)
	}
	s.log.Info().
		Str("scheduler", s.name).
		Int("workers", cfg.workers).
		Bool("caller_thread", cfg.includeCaller).
		Log("scheduler created")
	return s, nil
}

func (s *Scheduler) lifecycle() schedState {
	return schedState(s.state.Load())
}

func (s *Scheduler) casLifecycle(from, to schedState) bool {
	return s.state.CompareAndSwap(uint32(from), uint32(to))
}

// Name returns the scheduler's configured name.
func (s *Scheduler) Name() string { return s.name }

// Hooks returns the syscall hook layer bound to this scheduler.
func (s *Scheduler) Hooks() *HookLayer { return s.hooks }

// FDs returns the descriptor table that tracks hook-managed sockets.
func (s *Scheduler) FDs() *FdTable { return s.fds }

// Metrics returns a snapshot of runtime counters, or the zero value when
// the scheduler was built without WithMetrics.
func (s *Scheduler) Metrics() MetricsSnapshot {
	if s.metrics == nil {
		return MetricsSnapshot{}
	}
	return s.metrics.snapshot()
}

// ThreadIDs returns the kernel thread ids of all dispatch loops, caller loop
// included. Worker ids are available once Start has returned.
func (s *Scheduler) ThreadIDs() []int {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	ids := make([]int, 0, len(s.loops))
	for _, ls := range s.loops {
		ids = append(ids, int(ls.tid.Load()))
	}
	return ids
}

// Start launches the worker pool. It is idempotent while the scheduler is
// running and fails with ErrSchedulerStopped once the scheduler has been
// stopped. With WithCallerThread one of the configured workers is the caller
// loop, so only workerCount-1 threads are spawned.
func (s *Scheduler) Start() error {
	if !s.casLifecycle(schedNew, schedRunning) {
		if s.lifecycle() == schedRunning {
			return nil
		}
		return ErrSchedulerStopped
	}
	spawn := s.workerCount
	if s.callerLoop != nil {
		spawn--
	}
	s.startMu.Lock()
	states := make([]*loopState, spawn)
	for i := range states {
		states[i] = &loopState{}
	}
	// The loops slice must be complete before the first worker runs: workers
	// scan it when passing wakeups around.
	s.loops = append(s.loops, states...)
	for i, ls := range states {
		th := thread.New(fmt.Sprintf("%s_%d", s.name, i), func() {
			s.dispatchLoop(ls, thread.CurrentTID())
		})
		ls.tid.Store(int64(th.TID()))
		s.workers = append(s.workers, th)
	}
	s.startMu.Unlock()
	s.log.Info().
		Str("scheduler", s.name).
		Int("threads", spawn).
		Log("scheduler started")
	return nil
}

// Schedule queues fn for execution on any dispatch loop. The callback is
// promoted into a coroutine when dispatched, so it may yield and use hooked
// I/O.
func (s *Scheduler) Schedule(fn func()) error {
	if fn == nil {
		return ErrNilTask
	}
	return s.scheduleTask(task{fn: fn})
}

// ScheduleTo queues fn pinned to the dispatch loop with the given kernel
// thread id (see ThreadIDs).
func (s *Scheduler) ScheduleTo(tid int, fn func()) error {
	if fn == nil {
		return ErrNilTask
	}
	return s.scheduleTask(task{fn: fn, tid: tid})
}

// ScheduleCoroutine queues co for resumption on any dispatch loop.
func (s *Scheduler) ScheduleCoroutine(co *Coroutine) error {
	if co == nil {
		return ErrNilTask
	}
	return s.scheduleTask(task{co: co})
}

// ScheduleCoroutineTo queues co pinned to the dispatch loop with the given
// kernel thread id.
func (s *Scheduler) ScheduleCoroutineTo(tid int, co *Coroutine) error {
	if co == nil {
		return ErrNilTask
	}
	return s.scheduleTask(task{co: co, tid: tid})
}

// scheduleTask appends one entry to the queue and posts a wakeup. The wakeup
// cannot be skipped for a non-empty queue: every queued entry may be pinned
// to a busy loop, leaving the remaining loops parked with no one to relay.
// Submission is permitted in every lifecycle state except Stopped, so timers
// and I/O continuations can land while the scheduler drains.
func (s *Scheduler) scheduleTask(t task) error {
	if s.lifecycle() == schedStopped {
		return ErrSchedulerStopped
	}
	if s.metrics != nil {
		t.queuedAt = time.Now()
		s.metrics.submitted.Inc()
	}
	s.mu.Lock()
	s.tasks.PushBack(t)
	s.mu.Unlock()
	s.notify()
	return nil
}

// notify posts one cross-thread wakeup, deduplicated while a previous one
// has not yet been drained. Chained notifications (see take/wakeConsumed)
// keep a single pending wakeup sufficient.
func (s *Scheduler) notify() {
	if s.wakePending.CompareAndSwap(0, 1) {
		s.countNotify()
		if err := s.reactor.notifier.Notify(1); err != nil {
			s.log.Warning().Err(err).Log("wakeup notification failed")
		}
	}
}

// wakeConsumed is called by a poller after draining the notifier. It re-arms
// wakeup deduplication and, during shutdown, passes the wakeup along so
// every parked loop gets a chance to observe the stop flag.
func (s *Scheduler) wakeConsumed() {
	s.wakePending.Store(0)
	if s.lifecycle() >= schedStopping && s.idles.Load() > 1 {
		if err := s.reactor.notifier.Notify(1); err != nil {
			s.log.Warning().Err(err).Log("shutdown wakeup relay failed")
		}
	}
}

// loopIdle reports whether the dispatch loop with the given kernel thread id
// is currently parked in its idle coroutine.
func (s *Scheduler) loopIdle(tid int) bool {
	s.startMu.Lock()
	loops := s.loops
	s.startMu.Unlock()
	for _, ls := range loops {
		if int(ls.tid.Load()) == tid {
			return ls.idle.Load()
		}
	}
	return false
}

// take scans the queue for the first entry the calling loop may dispatch.
// Entries pinned to other threads are skipped, as are coroutines still in
// Exec (submitted by a waker before the coroutine finished parking; they
// stay queued until the park completes). Affinity is relaxed once the
// scheduler is draining, so entries pinned to a thread that no longer exists
// cannot wedge shutdown.
func (s *Scheduler) take(mine int) (res takeResult) {
	drain := s.lifecycle() >= schedStopping
	s.mu.Lock()
	var chosen *list.Element
	for e := s.tasks.Front(); e != nil; e = e.Next() {
		t := e.Value.(task)
		if !drain && t.tid != 0 && t.tid != mine {
			res.retry = true
			if !res.baton && s.loopIdle(t.tid) {
				res.baton = true
			}
			continue
		}
		if t.co != nil && t.co.State() == StateExec {
			res.retry = true
			res.baton = true
			continue
		}
		chosen = e
		break
	}
	if chosen != nil {
		res.task = chosen.Value.(task)
		res.ok = true
		s.tasks.Remove(chosen)
		res.more = s.tasks.Len() > 0
	}
	s.mu.Unlock()
	return
}

// dispatchLoop is the body of every dispatch loop. Worker threads run it
// directly; the caller loop runs it inside the dummy-main coroutine when
// Stop is called. Bare callbacks are promoted into a temp coroutine that is
// reset and reused while each callback runs to completion.
func (s *Scheduler) dispatchLoop(ls *loopState, mine int) {
	s.log.Debug().
		Str("scheduler", s.name).
		Int("tid", mine).
		Log("dispatch loop started")

	idleCo := NewCoroutine(s.idleBody)
	var temp *Coroutine
	retried := false

	for {
		res := s.take(mine)
		if res.more {
			s.notify()
		}
		if res.ok {
			retried = false
			if res.task.co != nil {
				s.runCoroutine(res.task)
			} else if res.task.fn != nil {
				temp = s.runCallback(temp, res.task)
			}
			continue
		}
		if res.retry && !retried {
			retried = true
			continue
		}
		retried = false
		if res.baton {
			s.notify()
		}
		if st := idleCo.State(); st == StateTerm || st == StateExcept {
			break
		}
		ls.idle.Store(true)
		s.idles.Inc()
		err := idleCo.resumeAs(s)
		s.idles.Dec()
		ls.idle.Store(false)
		if err != nil {
			s.log.Warning().Err(err).Log("idle coroutine resume failed")
			break
		}
	}

	s.log.Debug().
		Str("scheduler", s.name).
		Int("tid", mine).
		Log("dispatch loop exited")
}

// idleBody runs inside each loop's idle coroutine: poll the reactor, hand
// control back, repeat. It terminates once the scheduler is draining and no
// queued, running, or armed work remains.
func (s *Scheduler) idleBody() {
	for !s.stopping() {
		s.reactor.pollAndHandle()
		YieldHold()
	}
}

// runCoroutine resumes a queued coroutine and reacts to the state it parked
// in: Ready entries are requeued with the same affinity, faulted ones are
// counted, and held or terminated ones need nothing further.
func (s *Scheduler) runCoroutine(tk task) {
	s.recordDispatch(tk)
	if s.metrics != nil && tk.co.State() == StateInit {
		s.metrics.spawned.Inc()
	}
	s.active.Inc()
	err := tk.co.resumeAs(s)
	s.active.Dec()
	if err != nil {
		// Lost a race with some other resumer; the entry is simply dropped.
		s.log.Debug().
			Uint64("coroutine", uint64(tk.co.ID())).
			Err(err).
			Log("skipped queued coroutine")
		return
	}
	if s.metrics != nil {
		s.metrics.executed.Inc()
	}
	switch tk.co.State() {
	case StateReady:
		if err := s.scheduleTask(task{co: tk.co, tid: tk.tid}); err != nil {
			s.log.Warning().
				Uint64("coroutine", uint64(tk.co.ID())).
				Err(err).
				Log("dropped rescheduled coroutine")
		}
	case StateExcept:
		s.countPanic()
	}
}

// runCallback promotes a bare callback into a coroutine, reusing temp when
// its previous callback ran to completion. It returns the coroutine to reuse
// for the next callback, or nil when ownership has moved elsewhere.
func (s *Scheduler) runCallback(temp *Coroutine, tk task) *Coroutine {
	s.recordDispatch(tk)
	if temp == nil {
		temp = NewCoroutine(tk.fn)
	} else if err := temp.Reset(tk.fn); err != nil {
		// Retained coroutine could not be re-armed; fall back to a fresh one.
		temp = NewCoroutine(tk.fn)
	}
	if s.metrics != nil {
		s.metrics.promoted.Inc()
		s.metrics.spawned.Inc()
	}
	s.active.Inc()
	err := temp.resumeAs(s)
	s.active.Dec()
	if err != nil {
		s.log.Warning().
			Uint64("coroutine", uint64(temp.ID())).
			Err(err).
			Log("promoted coroutine resume failed")
		return nil
	}
	if s.metrics != nil {
		s.metrics.executed.Inc()
	}
	switch temp.State() {
	case StateTerm:
		return temp
	case StateExcept:
		s.countPanic()
		return temp // Reset clears the fault
	case StateReady:
		// Wants another turn; it owns a queue slot now, so stop reusing it.
		if err := s.scheduleTask(task{co: temp, tid: tk.tid}); err != nil {
			s.log.Warning().
				Uint64("coroutine", uint64(temp.ID())).
				Err(err).
				Log("dropped rescheduled coroutine")
		}
		return nil
	default:
		// Hold: parked until some waker resumes it.
		return nil
	}
}

func (s *Scheduler) recordDispatch(tk task) {
	if s.metrics != nil && !tk.queuedAt.IsZero() {
		s.metrics.recordDispatch(time.Since(tk.queuedAt))
	}
}

// stopping reports whether the shutdown drain is complete: Stop has been
// requested, the queue is empty, no loop is resuming a task, and the reactor
// holds no armed continuations or timers.
func (s *Scheduler) stopping() bool {
	if s.lifecycle() < schedStopping {
		return false
	}
	s.mu.Lock()
	empty := s.tasks.Len() == 0
	s.mu.Unlock()
	return empty && s.active.Load() == 0 && s.reactor.quiescent()
}

// Stop shuts the scheduler down, blocking until all queued work, armed
// timers, and registered I/O continuations have drained and every worker
// has exited. It is safe to call from any goroutine except one of the
// scheduler's own tasks, and is a no-op after the first call. When the
// scheduler was built with WithCallerThread, the calling goroutine runs the
// caller loop's share of the drain before Stop returns.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(s.stopImpl)
}

func (s *Scheduler) stopImpl() {
	if s.casLifecycle(schedNew, schedStopped) {
		s.mu.Lock()
		dropped := s.tasks.Len()
		s.tasks.Init()
		s.mu.Unlock()
		if dropped > 0 {
			s.log.Warning().
				Str("scheduler", s.name).
				Int("dropped", dropped).
				Log("stopped before start; queued tasks dropped")
		}
		s.releaseCaller()
		s.reactor.close()
		return
	}
	s.casLifecycle(schedRunning, schedStopping)
	s.log.Info().Str("scheduler", s.name).Log("scheduler stopping")

	// One direct wakeup per loop; pollers relay further wakeups until all of
	// them have seen the stop flag.
	s.startMu.Lock()
	loops := len(s.loops)
	workers := make([]*thread.Thread, len(s.workers))
	copy(workers, s.workers)
	s.startMu.Unlock()
	for i := 0; i < loops; i++ {
		if err := s.reactor.notifier.Notify(1); err != nil {
			s.log.Warning().Err(err).Log("stop notification failed")
		}
	}

	if s.dummyMain != nil {
		if err := s.dummyMain.Resume(); err != nil {
			s.log.Warning().Err(err).Log("caller loop drain failed")
		}
	}
	for _, th := range workers {
		if err := th.Join(); err != nil {
			s.log.Warning().Str("thread", th.Name()).Err(err).Log("worker join failed")
		}
	}

	s.releaseCaller()
	s.state.Store(uint32(schedStopped))
	s.reactor.close()
	s.log.Info().Str("scheduler", s.name).Log("scheduler stopped")
}

// releaseCaller undoes New's OS thread pinning, provided Stop is running on
// the goroutine that constructed the scheduler.
func (s *Scheduler) releaseCaller() {
	if s.callerLoop != nil && goid.ID() == s.callerGoID {
		runtime.UnlockOSThread()
	}
}

// RunAfter arms a timer that submits fn as a task after delay, repeating at
// the same interval when repeat is set. The returned id cancels it.
func (s *Scheduler) RunAfter(delay time.Duration, fn func(), repeat bool) TimerID {
	var interval time.Duration
	if repeat {
		interval = delay
	}
	return s.reactor.timers.Add(delay, interval, fn)
}

// RunAt arms a single-shot timer for an absolute deadline.
func (s *Scheduler) RunAt(deadline time.Time, fn func()) TimerID {
	return s.reactor.timers.AddAt(deadline, fn)
}

// RunAfterIf arms a timer that fires only while token remains strongly
// reachable; fn receives the token. The timer holds no strong reference, so
// dropping the last reference to token retires the timer without a Cancel.
func RunAfterIf[T any](s *Scheduler, delay time.Duration, token *T, fn func(*T), repeat bool) TimerID {
	var interval time.Duration
	if repeat {
		interval = delay
	}
	return AddCondition(s.reactor.timers, delay, interval, token, fn)
}

// RunAtIf is RunAfterIf with an absolute deadline.
func RunAtIf[T any](s *Scheduler, deadline time.Time, token *T, fn func(*T)) TimerID {
	return AddCondition(s.reactor.timers, time.Until(deadline), 0, token, fn)
}

// CancelTimer cancels a pending timer, reporting whether it was still armed.
func (s *Scheduler) CancelTimer(id TimerID) bool {
	return s.reactor.timers.Cancel(id)
}

// HasTimer reports whether the timer is still armed.
func (s *Scheduler) HasTimer(id TimerID) bool {
	return s.reactor.timers.Has(id)
}

// UpdateEvent registers a one-shot readiness continuation for fd. A nil fn
// resumes the calling coroutine when the event fires; otherwise fn is
// submitted as a task. At most one continuation may be registered per fd and
// direction.
func (s *Scheduler) UpdateEvent(fd int, mask IOEvents, fn func()) error {
	return s.reactor.updateEvent(fd, mask, fn)
}

// CancelEvent removes registered continuations for the given directions
// without running them.
func (s *Scheduler) CancelEvent(fd int, mask IOEvents) error {
	return s.reactor.cancelEvent(fd, mask)
}

// CancelEventFire removes registered continuations for the given directions
// and submits them for execution, as if the event had fired.
func (s *Scheduler) CancelEventFire(fd int, mask IOEvents) {
	s.reactor.cancelFire(fd, mask)
}

// PendingEvents returns the number of armed readiness continuations.
func (s *Scheduler) PendingEvents() int {
	return s.reactor.pendingEvents()
}
