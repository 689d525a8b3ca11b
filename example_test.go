package cosched_test

import (
	"fmt"
	"time"

	cosched "github.com/joeycumines/go-cosched"
)

func Example() {
	s, err := cosched.New()
	if err != nil {
		panic(err)
	}
	if err := s.Start(); err != nil {
		panic(err)
	}

	done := make(chan struct{})
	if err := s.Schedule(func() {
		fmt.Println("in coroutine:", cosched.CurrentID() != 0)
		// Parks the coroutine; the worker is free to run other tasks.
		s.Hooks().Sleep(10 * time.Millisecond)
		fmt.Println("awake")
		close(done)
	}); err != nil {
		panic(err)
	}
	<-done

	s.Stop()
	fmt.Println("drained")
	// Output:
	// in coroutine: true
	// awake
	// drained
}

func ExampleCoroutine() {
	co := cosched.NewCoroutine(func() {
		fmt.Println("step 1")
		cosched.YieldHold()
		fmt.Println("step 2")
	})

	if err := co.Resume(); err != nil {
		panic(err)
	}
	fmt.Println("parked:", co.State())

	if err := co.Resume(); err != nil {
		panic(err)
	}
	fmt.Println("finished:", co.State())
	// Output:
	// step 1
	// parked: Hold
	// step 2
	// finished: Term
}
