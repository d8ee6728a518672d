package ensemble_test

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sharnoff/ensemble"
)

// returns a context that is canceled after 1 second
func makeShutdownContext() context.Context {
	// it's ok to leak the context here; this is just for shutdown.
	ctx, _ := context.WithTimeout(context.TODO(), time.Second)
	return ctx
}

// Feed a worker pool from a bounded channel, shutting both down on SIGTERM or SIGINT, or after
// the input runs out.
func Example() {
	c := ensemble.NewCoordinator(nil)
	defer c.Stop()
	c.Notify(syscall.SIGTERM, syscall.SIGINT)

	jobs := ensemble.NewBoundedChannel[int](8)
	pool, err := ensemble.NewWorkerPool(4, ensemble.WithName("squares"))
	if err != nil {
		log.Fatal(err)
	}

	var mu sync.Mutex
	var results []int
	for i := 0; i < pool.Workers(); i += 1 {
		_ = pool.SubmitFunc(func() {
			for {
				n, ok := jobs.Receive()
				if !ok {
					return
				}
				mu.Lock()
				results = append(results, n*n)
				mu.Unlock()
			}
		})
	}

	// hooks run most recent first: close the input, then drain the pool
	c.ShutdownPool(pool)
	c.CloseChannel("jobs", jobs)
	c.OnShutdown("report", func(context.Context) error {
		fmt.Println("Shutting down")
		return nil
	})

	for i := 1; i <= 5; i += 1 {
		jobs.Send(i)
	}

	if err := c.Trigger(makeShutdownContext()); err != nil {
		log.Fatalf("shutdown failed: %s", err)
	}

	sort.Ints(results)
	fmt.Println(results)
	// Output:
	// Shutting down
	// [1 4 9 16 25]
}

func ExampleStack() {
	s := ensemble.NewStack[string]()
	s.Push("a")
	s.Push("b")
	s.Push("c")

	top, _ := s.Peek()
	fmt.Println("top:", top)

	v, _ := s.Pop()
	fmt.Println("popped:", v)
	fmt.Println("rest:", s.PopAll())
	fmt.Println("empty:", s.IsEmpty())
	// Output:
	// top: c
	// popped: c
	// rest: [b a]
	// empty: true
}

func ExampleBoundedChannel() {
	c := ensemble.NewBoundedChannel[string](2)

	go func() {
		for _, s := range []string{"one", "two", "three"} {
			c.Send(s) // blocks while two are already waiting
		}
		c.Close()
	}()

	for {
		v, ok := c.Receive()
		if !ok {
			break
		}
		fmt.Println(v)
	}
	fmt.Println("closed")
	// Output:
	// one
	// two
	// three
	// closed
}

func ExampleWorkerPool() {
	pool, err := ensemble.NewWorkerPool(1, ensemble.WithPanicHandler(func(tp *ensemble.TaskPanic) {
		fmt.Println("recovered:", tp.Value)
	}))
	if err != nil {
		log.Fatal(err)
	}

	_ = pool.SubmitFunc(func() { fmt.Println("first") })
	_ = pool.SubmitFunc(func() { panic("second") })
	_ = pool.SubmitFunc(func() { fmt.Println("third") })

	pool.Shutdown()

	if err := pool.SubmitFunc(func() {}); err != nil {
		fmt.Println(err)
	}
	// Output:
	// first
	// recovered: second
	// third
	// worker pool is stopped
}
