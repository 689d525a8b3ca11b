package cosched

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// Notifier wakes pollers blocked in epoll_wait. It wraps a counter eventfd:
// Notify adds to the counter (edge-triggering any registered epoll
// interest), Drain reads the counter back to zero.
//
// The Notifier carries no payload; it only says "look at your queues again".
type Notifier struct {
	fd int
}

// NewNotifier creates the eventfd (non-blocking, close-on-exec).
func NewNotifier() (*Notifier, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("cosched: failed to create eventfd: %w", err)
	}
	return &Notifier{fd: fd}, nil
}

// FD returns the eventfd, for registration with a poller.
func (n *Notifier) FD() int { return n.fd }

// Notify adds delta to the counter, waking one poller. A saturated counter
// (EAGAIN) means a wakeup is already pending and is treated as success.
// Notify(0) is a no-op.
func (n *Notifier) Notify(delta uint64) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], delta)
	for {
		_, err := unix.Write(n.fd, buf[:])
		switch err {
		case nil, unix.EAGAIN:
			return nil
		case unix.EINTR:
			continue
		default:
			return fmt.Errorf("cosched: notifier write: %w", err)
		}
	}
}

// Drain consumes the counter, returning the number of notifications folded
// into it since the last drain (0 when none were pending).
func (n *Notifier) Drain() (uint64, error) {
	var total uint64
	var buf [8]byte
	for {
		_, err := unix.Read(n.fd, buf[:])
		switch err {
		case nil:
			total += binary.NativeEndian.Uint64(buf[:])
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return total, nil
		default:
			return total, fmt.Errorf("cosched: notifier read: %w", err)
		}
	}
}

// Close releases the eventfd. The caller must ensure no Notify or Drain is
// in flight.
func (n *Notifier) Close() error {
	return unix.Close(n.fd)
}
