package cosched

import (
	"time"

	uberatomic "go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// HookLayer exposes libc-shaped I/O entry points whose blocking variants
// suspend the calling coroutine instead of the OS thread. Obtain one from
// [Scheduler.Hooks]; it consults the scheduler's [FdTable] and reactor.
//
// Hook enablement is a property of the running coroutine: calls made from a
// coroutine resumed by a scheduler built with hooking on (the default) take
// the suspending path; every other call - outside a coroutine, from a foreign
// scheduler's coroutine, or with [WithHooking] disabled - is a byte-for-byte
// passthrough to the raw syscall, including its return value and errno.
//
// Errors are raw [unix.Errno] values wherever the kernel produced them, so
// callers keep their usual errno handling (EAGAIN, ETIMEDOUT, EBADF, ...).
type HookLayer struct {
	s *Scheduler
}

// ioDeadline is the per-call liveness token for a hooked I/O timeout. The
// condition timer holds only a weak reference to it, so once the call frame
// returns the token dies and a late fire is a no-op.
type ioDeadline struct {
	fired uberatomic.Bool
}

// hooked reports whether the calling goroutine runs a coroutine owned by this
// scheduler with hooking enabled, returning the coroutine when so.
func (h *HookLayer) hooked() (*Coroutine, bool) {
	co := Current()
	if co == nil || co.sched != h.s || !h.s.hooking {
		return nil, false
	}
	return co, true
}

// Sleep suspends the calling coroutine for at least d, letting the worker
// service other tasks meanwhile. Outside a hooked coroutine it degrades to
// [time.Sleep]. It subsumes the sleep, usleep, and nanosleep entry points,
// which differ only in the granularity of d.
func (h *HookLayer) Sleep(d time.Duration) {
	co, on := h.hooked()
	if !on {
		time.Sleep(d)
		return
	}
	if d <= 0 {
		return
	}
	s := h.s
	s.RunAfter(d, func() {
		if err := s.ScheduleCoroutine(co); err != nil {
			s.log.Warning().
				Uint64("coroutine", uint64(co.ID())).
				Err(err).
				Log("sleep wakeup dropped")
		}
	}, false)
	YieldHold()
}

// Socket creates a socket via the raw syscall and, when called from a hooked
// coroutine, registers it with the scheduler's descriptor table (forcing the
// kernel non-blocking bit on so hooked I/O can park instead of blocking).
func (h *HookLayer) Socket(domain, typ, proto int) (int, error) {
	fd, err := unix.Socket(domain, typ, proto)
	if err != nil {
		return fd, err
	}
	if _, on := h.hooked(); on {
		h.s.fds.Get(fd, true)
	}
	return fd, nil
}

// Connect is a passthrough to the raw syscall. A non-blocking connect in
// progress is not awaited; callers that need completion register write
// interest themselves via [Scheduler.UpdateEvent].
func (h *HookLayer) Connect(fd int, sa unix.Sockaddr) error {
	return unix.Connect(fd, sa)
}

// Accept accepts a connection on fd. On a hooked, registered, blocking-mode
// socket it parks the coroutine until the listener is readable (bounded by
// the fd's receive timeout); the accepted descriptor is registered like a
// hooked Socket result.
func (h *HookLayer) Accept(fd int) (int, unix.Sockaddr, error) {
	var sa unix.Sockaddr
	nfd, err := h.doIO(fd, EventRead, func() (int, error) {
		n, a, err := unix.Accept(fd)
		if err == nil {
			sa = a
		}
		return n, err
	})
	if err == nil {
		if _, on := h.hooked(); on {
			h.s.fds.Get(nfd, true)
		}
	}
	return nfd, sa, err
}

// Read reads from fd into p. On a hooked, registered, blocking-mode socket it
// parks the coroutine until readable, returning [unix.ETIMEDOUT] when the
// fd's receive timeout (SO_RCVTIMEO) elapses first.
func (h *HookLayer) Read(fd int, p []byte) (int, error) {
	return h.doIO(fd, EventRead, func() (int, error) {
		return unix.Read(fd, p)
	})
}

// Write writes p to fd. On a hooked, registered, blocking-mode socket it
// parks the coroutine until writable, returning [unix.ETIMEDOUT] when the
// fd's send timeout (SO_SNDTIMEO) elapses first.
func (h *HookLayer) Write(fd int, p []byte) (int, error) {
	return h.doIO(fd, EventWrite, func() (int, error) {
		return unix.Write(fd, p)
	})
}

// doIO is the non-blocking I/O template shared by Accept, Read, and Write:
// call, retry on EINTR, and on EAGAIN park the coroutine on readiness for dir
// with the fd's timeout (if any) racing the wakeup. Passthrough applies when
// the call is not hooked, the fd is unregistered or not a socket, or the user
// asked for non-blocking mode themselves.
func (h *HookLayer) doIO(fd int, dir IOEvents, op func() (int, error)) (int, error) {
	if _, on := h.hooked(); !on {
		return op()
	}
	ctx := h.s.fds.Get(fd, false)
	if ctx == nil || !ctx.IsSocket() || ctx.UserNonblock() {
		return op()
	}
	timeout := ctx.timeout(dir)
	for {
		n, err := op()
		for err == unix.EINTR { //nolint:errorlint // unix.Errno
			n, err = op()
		}
		if err != unix.EAGAIN { //nolint:errorlint // unix.Errno
			return n, err
		}

		// The descriptor would block. Arm the direction's timeout (when
		// configured) and park on readiness; whichever fires first resumes
		// the coroutine.
		s := h.s
		token := &ioDeadline{}
		var timerID TimerID
		if timeout > 0 {
			timerID = RunAfterIf(s, timeout, token, func(t *ioDeadline) {
				t.fired.Store(true)
				s.reactor.cancelFire(fd, dir)
			}, false)
		}
		if err := s.reactor.updateEvent(fd, dir, nil); err != nil {
			if timerID != 0 {
				s.CancelTimer(timerID)
			}
			return -1, err
		}
		YieldHold()
		if token.fired.Load() {
			return -1, unix.ETIMEDOUT
		}
		if timerID != 0 {
			s.CancelTimer(timerID)
		}
		// Readiness arrived; retry the call. A spurious wake (raced cancel)
		// just comes back around through EAGAIN.
	}
}

// Close closes fd. When the descriptor is registered, any parked waiters are
// fired first (their retried syscall observes EBADF) and the table entry is
// removed, so no continuation can outlive the descriptor.
func (h *HookLayer) Close(fd int) error {
	if ctx := h.s.fds.Get(fd, false); ctx != nil {
		h.s.reactor.cancelFire(fd, EventRead|EventWrite)
		h.s.fds.Remove(fd)
	}
	return unix.Close(fd)
}

// Fcntl forwards to the raw syscall, adjusting the two flag commands on
// registered sockets: F_GETFL reports the non-blocking bit the user last
// requested rather than the kernel bit the table forced on, and F_SETFL
// records the user's preference while keeping the forced bit set.
func (h *HookLayer) Fcntl(fd, cmd, arg int) (int, error) {
	switch cmd {
	case unix.F_GETFL:
		flags, err := unix.FcntlInt(uintptr(fd), cmd, 0)
		if err != nil {
			return flags, err
		}
		ctx := h.s.fds.Get(fd, false)
		if ctx == nil || !ctx.IsSocket() {
			return flags, nil
		}
		if ctx.UserNonblock() {
			return flags | unix.O_NONBLOCK, nil
		}
		return flags &^ unix.O_NONBLOCK, nil
	case unix.F_SETFL:
		if ctx := h.s.fds.Get(fd, false); ctx != nil && ctx.IsSocket() {
			ctx.SetUserNonblock(arg&unix.O_NONBLOCK != 0)
			if ctx.SysNonblock() {
				arg |= unix.O_NONBLOCK
			}
		}
		return unix.FcntlInt(uintptr(fd), cmd, arg)
	default:
		return unix.FcntlInt(uintptr(fd), cmd, arg)
	}
}

// SetsockoptTimeval forwards to the raw syscall; SO_RCVTIMEO and SO_SNDTIMEO
// on registered descriptors are additionally captured as the fd's hooked
// read/write timeouts, so hooked I/O honors them without a kernel round trip.
func (h *HookLayer) SetsockoptTimeval(fd, level, opt int, tv *unix.Timeval) error {
	if level == unix.SOL_SOCKET && tv != nil && (opt == unix.SO_RCVTIMEO || opt == unix.SO_SNDTIMEO) {
		if ctx := h.s.fds.Get(fd, false); ctx != nil {
			d := time.Duration(tv.Sec)*time.Second + time.Duration(tv.Usec)*time.Microsecond
			if opt == unix.SO_RCVTIMEO {
				ctx.SetRecvTimeout(d)
			} else {
				ctx.SetSendTimeout(d)
			}
		}
	}
	return unix.SetsockoptTimeval(fd, level, opt, tv)
}

// SetsockoptInt is a passthrough to the raw syscall.
func (h *HookLayer) SetsockoptInt(fd, level, opt, value int) error {
	return unix.SetsockoptInt(fd, level, opt, value)
}

// GetsockoptInt is a passthrough to the raw syscall.
func (h *HookLayer) GetsockoptInt(fd, level, opt int) (int, error) {
	return unix.GetsockoptInt(fd, level, opt)
}

// GetsockoptTimeval is a passthrough to the raw syscall.
func (h *HookLayer) GetsockoptTimeval(fd, level, opt int) (*unix.Timeval, error) {
	return unix.GetsockoptTimeval(fd, level, opt)
}
