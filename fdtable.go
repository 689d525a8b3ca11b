package cosched

import (
	"sync"
	"time"

	uberatomic "go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// initialFdTableSize is the slot count of a fresh FdTable. The table grows
// by 1.5x whenever a larger descriptor is registered.
const initialFdTableSize = 64

// FdContext records the per-descriptor state consulted by the hook layer:
// whether the fd is a socket, how the kernel and the user disagree about
// O_NONBLOCK, and the read/write timeouts captured from setsockopt.
//
// Sockets get the kernel O_NONBLOCK bit forced on at registration so hooked
// I/O can park instead of blocking a worker; the user-visible flag state is
// reconstructed by [HookLayer.Fcntl].
type FdContext struct {
	recvTimeout  uberatomic.Duration // SO_RCVTIMEO, 0 = never
	sendTimeout  uberatomic.Duration // SO_SNDTIMEO, 0 = never
	sysNonblock  uberatomic.Bool     // kernel O_NONBLOCK (forced at registration)
	userNonblock uberatomic.Bool     // what the user last asked for via F_SETFL
	fd           int
	isSocket     bool
}

// newFdContext stats the descriptor once and, for sockets, forces the kernel
// non-blocking bit on.
func newFdContext(fd int) *FdContext {
	ctx := &FdContext{fd: fd}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err == nil {
		ctx.isSocket = st.Mode&unix.S_IFMT == unix.S_IFSOCK
	}
	if ctx.isSocket {
		if flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0); err == nil {
			if flags&unix.O_NONBLOCK != 0 {
				ctx.sysNonblock.Store(true)
			} else if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_NONBLOCK); err == nil {
				ctx.sysNonblock.Store(true)
			}
		}
	}
	return ctx
}

// FD returns the descriptor this context describes.
func (c *FdContext) FD() int { return c.fd }

// IsSocket reports whether the descriptor was a socket at registration time.
func (c *FdContext) IsSocket() bool { return c.isSocket }

// SysNonblock reports whether the kernel O_NONBLOCK bit was forced on.
func (c *FdContext) SysNonblock() bool { return c.sysNonblock.Load() }

// UserNonblock reports the non-blocking mode the user last requested via
// F_SETFL, regardless of the forced kernel bit.
func (c *FdContext) UserNonblock() bool { return c.userNonblock.Load() }

// SetUserNonblock records the user's requested non-blocking mode.
func (c *FdContext) SetUserNonblock(v bool) { c.userNonblock.Store(v) }

// RecvTimeout returns the captured SO_RCVTIMEO (0 = never).
func (c *FdContext) RecvTimeout() time.Duration { return c.recvTimeout.Load() }

// SendTimeout returns the captured SO_SNDTIMEO (0 = never).
func (c *FdContext) SendTimeout() time.Duration { return c.sendTimeout.Load() }

// SetRecvTimeout records the read deadline applied to hooked reads.
func (c *FdContext) SetRecvTimeout(d time.Duration) { c.recvTimeout.Store(d) }

// SetSendTimeout records the write deadline applied to hooked writes.
func (c *FdContext) SetSendTimeout(d time.Duration) { c.sendTimeout.Store(d) }

// timeout returns the deadline for the given direction; writes use the send
// timeout, everything else the receive timeout.
func (c *FdContext) timeout(dir IOEvents) time.Duration {
	if dir&EventWrite != 0 {
		return c.sendTimeout.Load()
	}
	return c.recvTimeout.Load()
}

// FdTable is a registry of [FdContext] entries indexed by descriptor. One
// table is created per [Scheduler] unless shared via [WithFdTable]; sharing
// is safe because all accesses go through the table's lock and the contexts'
// atomics.
type FdTable struct {
	mu  sync.RWMutex
	fds []*FdContext
}

// NewFdTable creates an empty table.
func NewFdTable() *FdTable {
	return &FdTable{fds: make([]*FdContext, initialFdTableSize)}
}

// Get returns the context for fd. With create set, a missing entry is
// created (growing the table as needed); otherwise nil is returned. Negative
// descriptors always return nil.
func (t *FdTable) Get(fd int, create bool) *FdContext {
	if fd < 0 {
		return nil
	}
	t.mu.RLock()
	if fd < len(t.fds) {
		if ctx := t.fds[fd]; ctx != nil || !create {
			t.mu.RUnlock()
			return ctx
		}
	} else if !create {
		t.mu.RUnlock()
		return nil
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if fd >= len(t.fds) {
		size := len(t.fds)
		if size == 0 {
			size = initialFdTableSize
		}
		for size <= fd {
			size = size*3/2 + 1
		}
		grown := make([]*FdContext, size)
		copy(grown, t.fds)
		t.fds = grown
	}
	if ctx := t.fds[fd]; ctx != nil {
		return ctx
	}
	ctx := newFdContext(fd)
	t.fds[fd] = ctx
	return ctx
}

// Remove drops the context for fd, if any. Called by the hooked close path
// after pending waiters have been fired.
func (t *FdTable) Remove(fd int) {
	if fd < 0 {
		return
	}
	t.mu.Lock()
	if fd < len(t.fds) {
		t.fds[fd] = nil
	}
	t.mu.Unlock()
}
