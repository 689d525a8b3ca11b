package cosched

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrNotRunnable is returned by Resume when the coroutine is not in a
	// runnable state (Init, Hold, or Ready). Exactly one of several racing
	// resumers observes success; the rest get this error.
	ErrNotRunnable = errors.New("cosched: coroutine is not runnable")

	// ErrNotResettable is returned by Reset when the coroutine is executing
	// or parked; only Init, Term, and Except coroutines may be re-armed.
	ErrNotResettable = errors.New("cosched: coroutine is not resettable")

	// ErrNoCoroutine is returned when an operation requires a running
	// coroutine on the calling goroutine and there is none.
	ErrNoCoroutine = errors.New("cosched: no coroutine running on this goroutine")

	// ErrEventExists is returned by UpdateEvent when the fd already has a
	// continuation registered for one of the requested directions.
	ErrEventExists = errors.New("cosched: event already registered for direction")

	// ErrEventNotFound is returned by CancelEvent when no continuation is
	// registered for any of the requested directions.
	ErrEventNotFound = errors.New("cosched: no event registered for direction")

	// ErrSchedulerStopped is returned when work is submitted to a scheduler
	// whose workers have already exited.
	ErrSchedulerStopped = errors.New("cosched: scheduler is stopped")

	// ErrNilTask is returned when a nil callback or coroutine is submitted.
	ErrNilTask = errors.New("cosched: nil task")

	// ErrBadWorkers is returned by New when the configured worker count is
	// not positive.
	ErrBadWorkers = errors.New("cosched: worker count must be positive")
)

// PanicError wraps a panic value trapped by a coroutine trampoline, together
// with the stack of the panicking goroutine.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("cosched: coroutine panicked: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
// This enables use with [errors.Is] and [errors.As] for error matching
// through the cause chain. If the panic Value is not an error (e.g. a string
// or other type), returns nil.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
