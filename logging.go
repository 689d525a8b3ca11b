// logging.go - structured logging glue for the cosched package.
//
// The package logs through logiface so callers can plug in any backend
// (stumpy, zerolog adapters, test writers). A nil *Logger disables output
// entirely; every log site in this package tolerates nil.

package cosched

import (
	"github.com/joeycumines/logiface"
)

// Logger is the structured logger consumed by this package, accepted via
// [WithLogger]. It is the generic logiface logger fixed to the baseline
// event type; construct one with a backend factory, e.g.
//
//	stumpy.L.New(stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr))).Logger()
type Logger = logiface.Logger[logiface.Event]

// logPanic records a trapped coroutine panic with its backtrace.
func logPanic(log *Logger, id uint32, perr *PanicError) {
	log.Err().
		Uint64("coroutine", uint64(id)).
		Any("panic", perr.Value).
		Str("stack", string(perr.Stack)).
		Log("coroutine panicked")
}
