// Package goid extracts the current goroutine's id.
//
// The id is parsed from the runtime.Stack header ("goroutine N [...]").
// This is not fast enough for per-operation hot paths, but callers here
// only need it at coroutine spawn and thread construction.
package goid

import "runtime"

// ID returns the calling goroutine's id.
func ID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
