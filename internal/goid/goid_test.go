package goid

import (
	"sync"
	"testing"
)

func TestID_NonZero(t *testing.T) {
	if got := ID(); got == 0 {
		t.Fatal("expected non-zero goroutine id")
	}
}

func TestID_StablePerGoroutine(t *testing.T) {
	a := ID()
	b := ID()
	if a != b {
		t.Fatalf("id changed within one goroutine: %d then %d", a, b)
	}
}

func TestID_DistinctAcrossGoroutines(t *testing.T) {
	const n = 8
	var (
		mu  sync.Mutex
		ids = make(map[uint64]struct{}, n+1)
		wg  sync.WaitGroup
	)
	ids[ID()] = struct{}{}
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			id := ID()
			mu.Lock()
			ids[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(ids) != n+1 {
		t.Fatalf("expected %d distinct ids, got %d", n+1, len(ids))
	}
}
