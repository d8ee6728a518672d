package ensemble

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolStopped is returned by [WorkerPool.Submit] once shutdown has begun. The rejected task
	// is never run.
	ErrPoolStopped = errors.New("worker pool is stopped")

	// ErrNilTask is returned by [WorkerPool.Submit] when given a nil task.
	ErrNilTask = errors.New("nil task")

	// ErrInvalidWorkerCount is returned by [NewWorkerPool] when asked for fewer than one worker.
	ErrInvalidWorkerCount = errors.New("worker count must be at least 1")
)

// TaskPanic describes a panic recovered from a task run by a [WorkerPool].
//
// It is passed to the handler set with [WithPanicHandler], and is itself an error so that it can
// be logged or returned as one.
type TaskPanic struct {
	// Value is the value passed to panic.
	Value any
	// Stack is the stack of the panicking goroutine, starting from the frame that panicked.
	Stack StackTrace
	// Worker is the index of the worker that ran the task.
	Worker int
	// Task is the task's name: the result of Name() for a [NamedTask], or "task" otherwise.
	Task string
}

func (p *TaskPanic) Error() string {
	return fmt.Sprintf("task %q panicked on worker %d: %v", p.Task, p.Worker, p.Value)
}

// Unwrap returns the panic value if it is an error, otherwise nil.
func (p *TaskPanic) Unwrap() error {
	err, _ := p.Value.(error)
	return err
}
