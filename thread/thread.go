// Package thread provides named goroutines locked to their OS thread, with
// the kernel thread id cached at construction.
//
// A Thread is the scheduling unit the cosched worker pool is built from:
// locking the goroutine pins the kernel tid, which the scheduler uses as a
// stable affinity key. Construction synchronizes on a ready handshake, so
// the name, goroutine id, and kernel tid are all readable once New returns.
package thread

import (
	"errors"
	"runtime"
	"sync"

	"github.com/joeycumines/go-cosched/internal/goid"
	uberatomic "go.uber.org/atomic"
)

// DefaultName is reported for goroutines that neither belong to a Thread
// nor called SetCurrentName.
const DefaultName = "UNDEFINED"

// ErrDetached is returned by Join after Detach.
var ErrDetached = errors.New("thread: detached")

// Thread is a goroutine locked to an OS thread for its whole lifetime.
// When the body returns the goroutine exits and the kernel thread is
// destroyed with it.
type Thread struct {
	name     string
	goID     uint64
	tid      int
	done     chan struct{}
	detached uberatomic.Bool
}

var (
	registryMu sync.RWMutex
	byGoID     = make(map[uint64]*Thread)
	bareNames  = make(map[uint64]string)
)

// New starts fn on a new OS-thread-locked goroutine. It returns only after
// the child has cached its goroutine id, kernel thread id, and thread-local
// name, so all accessors are valid immediately. An empty name becomes
// DefaultName.
func New(name string, fn func()) *Thread {
	if name == "" {
		name = DefaultName
	}
	t := &Thread{
		name: name,
		done: make(chan struct{}),
	}
	ready := make(chan struct{})
	go func() {
		runtime.LockOSThread()
		t.goID = goid.ID()
		t.tid = currentTID()
		registryMu.Lock()
		byGoID[t.goID] = t
		registryMu.Unlock()
		close(ready)
		defer func() {
			registryMu.Lock()
			delete(byGoID, t.goID)
			registryMu.Unlock()
			close(t.done)
		}()
		fn()
	}()
	<-ready
	return t
}

// Name returns the thread's display name.
func (t *Thread) Name() string { return t.name }

// GoID returns the backing goroutine's id.
func (t *Thread) GoID() uint64 { return t.goID }

// TID returns the kernel thread id the goroutine is locked to.
func (t *Thread) TID() int { return t.tid }

// Join blocks until the thread's body has returned. Join may be called any
// number of times and from multiple goroutines; after Detach it returns
// ErrDetached without waiting.
func (t *Thread) Join() error {
	if t.detached.Load() {
		return ErrDetached
	}
	<-t.done
	return nil
}

// Detach abandons the thread; subsequent Join calls fail with ErrDetached.
// The body keeps running to completion.
func (t *Thread) Detach() {
	t.detached.Store(true)
}

// Current returns the Thread owning the calling goroutine, or nil when the
// goroutine was not created by New.
func Current() *Thread {
	registryMu.RLock()
	t := byGoID[goid.ID()]
	registryMu.RUnlock()
	return t
}

// CurrentName returns the calling goroutine's thread name: the owning
// Thread's name, a name set via SetCurrentName, or DefaultName.
func CurrentName() string {
	id := goid.ID()
	registryMu.RLock()
	defer registryMu.RUnlock()
	if t := byGoID[id]; t != nil {
		return t.name
	}
	if name, ok := bareNames[id]; ok {
		return name
	}
	return DefaultName
}

// SetCurrentName names the calling goroutine for CurrentName lookups. It is
// intended for goroutines not created by New (e.g. the process main).
func SetCurrentName(name string) {
	registryMu.Lock()
	bareNames[goid.ID()] = name
	registryMu.Unlock()
}

// CurrentGoID returns the calling goroutine's id.
func CurrentGoID() uint64 { return goid.ID() }

// CurrentTID returns the calling thread's kernel id. The value is only
// stable while the goroutine is locked to its OS thread.
func CurrentTID() int { return currentTID() }
