// obligatory // comment

/*
Package ensemble provides a small set of primitives for coordinating work between goroutines,
with a focus on minimizing magic.

The primitives are independent of each other; pick whichever fits:

- Lock-free LIFO: [Stack]
- Bounded producer-consumer FIFO: [BoundedChannel]
- Fixed-size worker pool over an unbounded backlog: [WorkerPool], [Task], [TaskFunc]

Alongside them are the pieces the pool is built from, which are useful on their own:

- Stack trace capture and printing: [StackTrace], [CaptureStack]
- Hierarchical, named sync.WaitGroup: [TaskGroup], [TaskTree], [TaskInfo]
- Ordered teardown, optionally on OS signals: [Coordinator]

# Stack

[Stack] is a Treiber stack: Push and Pop retry a compare-and-swap on the head until it sticks,
and never block. Nodes are allocated per Push and never reused, and the garbage collector keeps a
node alive for as long as any goroutine can still see it, so there is no ABA or use-after-free
hazard to guard against.

# BoundedChannel

[BoundedChannel] is a mutex and two condition variables around a ring buffer. Send waits while
the buffer is full, Receive waits while it is empty. Close is one-way and idempotent: afterwards
Send drops its value, and Receive drains what is left before reporting closure. Neither "empty"
nor "closed" is an error; both are reported through boolean results.

# WorkerPool

[WorkerPool] starts a fixed number of workers that take tasks from a shared FIFO backlog. The
pool's lock is never held while a task runs. A panicking task is recovered at the worker, logged
with its stack, and reported as a [TaskPanic]; the worker moves on. The only error a pool
reports about its own state is [ErrPoolStopped], from Submit after shutdown has begun.

Shutdown is graceful: it waits for the backlog to drain and for every worker to exit.

# Logging

Logging is done through [github.com/joeycumines/logiface]. Pass a logger with [WithLogger] or
[NewCoordinator]; without one, nothing is logged.
*/
package ensemble
