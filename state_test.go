package cosched

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestCoroutineStateString(t *testing.T) {
	cases := []struct {
		state CoroutineState
		want  string
	}{
		{StateInit, "Init"},
		{StateExec, "Exec"},
		{StateHold, "Hold"},
		{StateReady, "Ready"},
		{StateTerm, "Term"},
		{StateExcept, "Except"},
		{CoroutineState(99), "Unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("String(%d) = %q, want %q", tc.state, got, tc.want)
		}
	}
}

func TestCoroutineStatePredicates(t *testing.T) {
	cases := []struct {
		state      CoroutineState
		runnable   bool
		resettable bool
	}{
		{StateInit, true, true},
		{StateExec, false, false},
		{StateHold, true, false},
		{StateReady, true, false},
		{StateTerm, false, true},
		{StateExcept, false, true},
	}
	for _, tc := range cases {
		if got := tc.state.Runnable(); got != tc.runnable {
			t.Errorf("%v.Runnable() = %v, want %v", tc.state, got, tc.runnable)
		}
		if got := tc.state.Resettable(); got != tc.resettable {
			t.Errorf("%v.Resettable() = %v, want %v", tc.state, got, tc.resettable)
		}
	}
}

func TestFastStateTransitions(t *testing.T) {
	var st fastState
	if got := st.Load(); got != StateInit {
		t.Fatalf("zero value = %v, want Init", got)
	}
	if !st.TryTransition(StateInit, StateExec) {
		t.Fatal("Init -> Exec refused")
	}
	if st.TryTransition(StateInit, StateExec) {
		t.Fatal("transition from a stale source state succeeded")
	}
	st.Store(StateHold)

	prev, ok := st.TransitionAny(runnableStates, StateExec)
	if !ok || prev != StateHold {
		t.Fatalf("TransitionAny = %v, %v, want Hold, true", prev, ok)
	}
	prev, ok = st.TransitionAny([]CoroutineState{StateInit, StateHold}, StateReady)
	if ok {
		t.Fatal("TransitionAny succeeded from Exec")
	}
	if prev != StateExec {
		t.Fatalf("failed TransitionAny reported %v, want the current state Exec", prev)
	}
	if got := st.Load(); got != StateExec {
		t.Fatalf("state disturbed by failed transition: %v", got)
	}
}

// TestFastStateSingleWinner checks the resume CAS admits exactly one of many
// concurrent claimants.
func TestFastStateSingleWinner(t *testing.T) {
	var st fastState
	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := st.TransitionAny(runnableStates, StateExec); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := wins.Load(); got != 1 {
		t.Fatalf("winners = %d, want exactly 1", got)
	}
}
