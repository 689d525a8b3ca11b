package thread

import "golang.org/x/sys/unix"

func currentTID() int { return unix.Gettid() }
