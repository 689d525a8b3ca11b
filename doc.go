// Package cosched provides stackful coroutines multiplexed over a fixed pool
// of OS-thread-locked workers, with an edge-triggered epoll reactor for I/O
// readiness, timerfd-backed timers, and a transparent syscall hook layer
// that parks coroutines instead of blocking threads.
//
// # Architecture
//
// A [Scheduler] owns a shared FIFO task queue drained by one dispatch loop
// per worker thread ([WithWorkers]). Queue entries are bare callbacks
// ([Scheduler.Schedule]) or explicit [Coroutine] values
// ([Scheduler.ScheduleCoroutine]); callbacks are promoted into coroutines on
// dispatch, so every task may yield, sleep, and perform hooked I/O. Each
// loop parks in an idle coroutine that polls a shared epoll instance for I/O
// readiness ([Scheduler.UpdateEvent]), timer expiry ([Scheduler.RunAfter],
// [Scheduler.RunAt]), and cross-thread wakeups.
//
// The [HookLayer] (via [Scheduler.Hooks]) exposes libc-shaped entry points
// such as [HookLayer.Read], [HookLayer.Write], [HookLayer.Accept], and
// [HookLayer.Sleep], whose blocking variants suspend the calling coroutine
// until readiness or timeout, leaving the worker free for other tasks.
//
// Coroutines also work standalone: [NewCoroutine], [Coroutine.Resume],
// [YieldHold], and [YieldReady] need no scheduler at all.
//
// # Platform Support
//
// Linux only. The reactor is built directly on epoll (edge-triggered),
// timerfd, and eventfd.
//
// # Thread Safety
//
//   - [Scheduler.Schedule], [Scheduler.ScheduleTo], and the coroutine
//     variants are safe from any goroutine, before or after Start
//   - [Coroutine.Resume] is safe under contention; exactly one caller wins
//   - Timer and readiness registration methods are thread-safe
//   - [YieldHold] and [YieldReady] must be called from inside a coroutine
//
// # Execution Model
//
// Dispatch within each loop:
//  1. Pop the first queue entry this loop may run; entries pinned to another
//     loop are skipped
//  2. Resume it; a coroutine that parks Ready is requeued behind existing
//     work, one that parks Hold waits for its waker
//  3. With nothing to run, park in the idle coroutine and poll the reactor
//
// [Scheduler.ScheduleTo] pins an entry to one loop's kernel thread id (see
// [Scheduler.ThreadIDs]); requeues preserve the pin. With [WithCallerThread]
// the constructing thread is itself one of the loops, drained inside
// [Scheduler.Stop].
//
// # Usage
//
//	s, err := cosched.New(cosched.WithWorkers(4))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := s.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Stop()
//
//	_ = s.Schedule(func() {
//	    s.Hooks().Sleep(100 * time.Millisecond) // parks, never blocks the worker
//	    fmt.Println("hello from a coroutine")
//	})
//
// # Error Types
//
//   - [PanicError]: wraps a panic trapped by a coroutine, with its backtrace
//   - [ErrNotRunnable], [ErrNotResettable]: coroutine state machine violations
//   - [ErrNoCoroutine]: a yield or hook call that requires a current coroutine
//   - [ErrEventExists], [ErrEventNotFound]: readiness registration conflicts
//   - [ErrSchedulerStopped], [ErrNilTask], [ErrBadWorkers]: scheduler misuse
//
// Hooked I/O returns raw unix.Errno values (EAGAIN, ETIMEDOUT, EBADF, ...)
// wherever the kernel produced them, so existing errno handling carries over.
package cosched
