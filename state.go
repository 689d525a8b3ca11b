package cosched

import (
	"sync/atomic"
)

// CoroutineState represents the current lifecycle state of a [Coroutine].
//
// State Machine:
//
//	StateInit (0) → StateExec           [Resume()]
//	StateExec → StateHold               [YieldHold()]
//	StateExec → StateReady              [YieldReady()]
//	StateExec → StateTerm               [entry returned]
//	StateExec → StateExcept             [entry panicked]
//	StateHold → StateExec               [Resume()]
//	StateReady → StateExec              [Resume()]
//	StateTerm → StateInit               [Reset()]
//	StateExcept → StateInit             [Reset()]
//
// State Transition Rules:
//   - Resume() uses TransitionAny() (CAS) so exactly one caller wins when
//     several goroutines race to resume the same coroutine.
//   - Only the coroutine itself moves out of StateExec (yield, return,
//     or panic), so stores on that edge need no CAS.
type CoroutineState uint32

const (
	// StateInit indicates the coroutine has an entry armed but has never run
	// (or has been re-armed via Reset).
	StateInit CoroutineState = iota
	// StateExec indicates the coroutine is currently executing on some
	// goroutine.
	StateExec
	// StateHold indicates the coroutine yielded and expects an external
	// wakeup (timer, I/O readiness, explicit resume).
	StateHold
	// StateReady indicates the coroutine yielded but wants to run again as
	// soon as a worker picks it up.
	StateReady
	// StateTerm indicates the entry function returned normally.
	StateTerm
	// StateExcept indicates the entry function panicked; Err() carries the
	// trapped value.
	StateExcept
)

// String returns a human-readable representation of the state.
func (s CoroutineState) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateExec:
		return "Exec"
	case StateHold:
		return "Hold"
	case StateReady:
		return "Ready"
	case StateTerm:
		return "Term"
	case StateExcept:
		return "Except"
	default:
		return "Unknown"
	}
}

// Runnable reports whether a coroutine in this state may be resumed.
func (s CoroutineState) Runnable() bool {
	return s == StateInit || s == StateHold || s == StateReady
}

// Resettable reports whether a coroutine in this state may be re-armed.
func (s CoroutineState) Resettable() bool {
	return s == StateInit || s == StateTerm || s == StateExcept
}

// fastState is a lock-free state cell with cache-line padding.
//
// PERFORMANCE: Pure atomic CAS operations with no mutex. Cache-line padding
// prevents false sharing with neighboring fields; the zero value is
// StateInit, so embedding it requires no constructor.
type fastState struct { // betteralign:ignore
	_ [64]byte      // Cache line padding (before value) //nolint:unused
	v atomic.Uint32 // State value
	_ [60]byte      // Pad to complete cache line (64 - 4 = 60) //nolint:unused
}

// Load returns the current state atomically.
func (s *fastState) Load() CoroutineState {
	return CoroutineState(s.v.Load())
}

// Store atomically stores a new state.
// PERFORMANCE: No transition validation.
func (s *fastState) Store(state CoroutineState) {
	s.v.Store(uint32(state))
}

// TryTransition attempts to atomically transition from one state to another.
// Returns true if the transition was successful.
func (s *fastState) TryTransition(from, to CoroutineState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// TransitionAny attempts to transition from any of the given source states to
// the target. Returns the source state that matched and whether any did.
func (s *fastState) TransitionAny(validFrom []CoroutineState, to CoroutineState) (CoroutineState, bool) {
	for {
		cur := s.Load()
		ok := false
		for _, from := range validFrom {
			if cur == from {
				ok = true
				break
			}
		}
		if !ok {
			return cur, false
		}
		if s.v.CompareAndSwap(uint32(cur), uint32(to)) {
			return cur, true
		}
	}
}
