package ensemble

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/joeycumines/logiface"
)

// Task is a unit of work for a [WorkerPool]. Run is called exactly once, on one of the pool's
// workers.
type Task interface {
	Run()
}

// NamedTask is a [Task] that reports a name, used in [WorkerPool.Tasks], logs, and [TaskPanic].
type NamedTask interface {
	Task
	Name() string
}

// TaskFunc adapts an ordinary function to the [Task] interface.
type TaskFunc func()

// Run calls f.
func (f TaskFunc) Run() { f() }

const unnamedTask = "task"

func taskName(t Task) string {
	if nt, ok := t.(NamedTask); ok {
		return nt.Name()
	}
	return unnamedTask
}

// PoolOption configures a [WorkerPool], see [NewWorkerPool].
type PoolOption func(*poolConfig)

type poolConfig struct {
	logger  *logiface.Logger[logiface.Event]
	name    string
	onPanic func(*TaskPanic)
}

func defaultPoolConfig() poolConfig {
	return poolConfig{name: "pool"}
}

// WithLogger sets the logger the pool reports its lifecycle and recovered panics to. By default,
// nothing is logged.
func WithLogger(logger *logiface.Logger[logiface.Event]) PoolOption {
	return func(c *poolConfig) { c.logger = logger }
}

// WithName sets the pool's name, used in logs and as the root of [WorkerPool.Tasks]. The default
// is "pool".
func WithName(name string) PoolOption {
	return func(c *poolConfig) { c.name = name }
}

// WithPanicHandler sets a function to be called, on the worker, with every panic recovered from a
// task. It is called after the panic is logged. A panic in the handler itself is logged and
// otherwise ignored.
func WithPanicHandler(handler func(*TaskPanic)) PoolOption {
	return func(c *poolConfig) { c.onPanic = handler }
}

// WorkerPool runs submitted tasks on a fixed number of long-lived worker goroutines.
//
// Tasks are appended to an unbounded backlog and taken from it in submission order, though with
// more than one worker they may complete in any order, on any worker. Workers never hold the
// pool's lock while running a task, so a slow task does not hold up [WorkerPool.Submit] or
// [WorkerPool.Shutdown].
//
// A panic in a task is recovered, logged, and passed to the handler from [WithPanicHandler]; the
// worker then carries on with the next task. If a task calls [runtime.Goexit], the worker
// goroutine ends and is replaced, so the number of workers never changes.
//
// Shutdown is graceful: once it starts, Submit fails with [ErrPoolStopped], and Shutdown returns
// once every task already in the backlog has run and all the workers have exited.
type WorkerPool struct {
	name    string
	logger  *logiface.Logger[logiface.Event]
	onPanic func(*TaskPanic)

	mu       sync.Mutex
	cond     sync.Cond
	backlog  *queue.Queue // of Task
	stopping bool

	workers []*workerState

	// group has two subgroups: one entry per live worker, and one per running task
	group       *TaskGroup
	workerGroup *TaskGroup
	running     *TaskGroup

	stopOnce   sync.Once
	loggedDone atomic.Bool

	submitted atomic.Uint64
	rejected  atomic.Uint64
}

// workerState is owned by a single worker slot for the lifetime of the pool, including across
// replacement after runtime.Goexit.
type workerState struct {
	id       int
	name     string
	executed atomic.Uint64
	panicked atomic.Uint64
}

// NewWorkerPool starts a pool with the given number of workers, which must be at least one.
func NewWorkerPool(workers int, opts ...PoolOption) (*WorkerPool, error) {
	if workers < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWorkerCount, workers)
	}

	c := defaultPoolConfig()
	for _, o := range opts {
		o(&c)
	}

	p := &WorkerPool{
		name:    c.name,
		logger:  c.logger,
		onPanic: c.onPanic,
		backlog: queue.New(),
		workers: make([]*workerState, workers),
		group:   NewTaskGroup(c.name),
	}
	p.cond.L = &p.mu
	p.workerGroup = p.group.NewSubgroup("workers")
	p.running = p.group.NewSubgroup("running")

	for i := range p.workers {
		w := &workerState{id: i, name: fmt.Sprintf("worker-%d", i)}
		p.workers[i] = w
		p.workerGroup.Add(w.name)
		go p.work(w)
	}

	p.logger.Info().
		Str("pool", p.name).
		Int("workers", workers).
		Log("worker pool started")

	return p, nil
}

// Name returns the name set by [WithName].
func (p *WorkerPool) Name() string {
	return p.name
}

// Workers returns the number of workers, which is fixed for the life of the pool.
func (p *WorkerPool) Workers() int {
	return len(p.workers)
}

// Submit appends task to the backlog.
//
// Submit returns [ErrPoolStopped] if shutdown has started, in which case task will never run, and
// [ErrNilTask] if task is nil.
func (p *WorkerPool) Submit(task Task) error {
	if task == nil {
		return ErrNilTask
	}
	if f, ok := task.(TaskFunc); ok && f == nil {
		return ErrNilTask
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopping {
		p.rejected.Add(1)
		return ErrPoolStopped
	}

	p.backlog.Add(task)
	p.submitted.Add(1)
	p.cond.Signal()
	return nil
}

// SubmitFunc is shorthand for Submit(TaskFunc(fn)).
func (p *WorkerPool) SubmitFunc(fn func()) error {
	if fn == nil {
		return ErrNilTask
	}
	return p.Submit(TaskFunc(fn))
}

// PendingCount returns the number of tasks in the backlog, not counting those already running.
func (p *WorkerPool) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backlog.Length()
}

// Stopping reports whether shutdown has started.
func (p *WorkerPool) Stopping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}

// Shutdown stops the pool from accepting tasks, then waits until the backlog is drained and every
// worker has exited.
//
// Calling Shutdown again, including concurrently, only waits for the same completion. Shutdown
// must not be called from one of the pool's own tasks: it would wait for itself.
func (p *WorkerPool) Shutdown() {
	_ = p.ShutdownContext(context.Background())
}

// ShutdownContext is like [WorkerPool.Shutdown], but stops waiting when ctx is done, returning
// ctx.Err(). The pool keeps shutting down in the background; wait on [WorkerPool.Done] to observe
// completion.
func (p *WorkerPool) ShutdownContext(ctx context.Context) error {
	p.stopOnce.Do(p.stop)

	select {
	case <-p.Done():
	default:
		select {
		case <-p.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if p.loggedDone.CompareAndSwap(false, true) {
		p.logger.Info().
			Str("pool", p.name).
			Uint64("completed", p.completed()).
			Log("worker pool shut down")
	}
	return nil
}

func (p *WorkerPool) stop() {
	p.mu.Lock()
	p.stopping = true
	pending := p.backlog.Length()
	p.cond.Broadcast()
	p.mu.Unlock()

	p.logger.Info().
		Str("pool", p.name).
		Int("pending", pending).
		Log("worker pool shutting down")
}

// Done returns a channel that is closed once shutdown has finished and every worker has exited.
func (p *WorkerPool) Done() <-chan struct{} {
	return p.workerGroup.Wait()
}

// Tasks returns a snapshot of the pool's [TaskGroup]: its "workers" subgroup has an entry for each
// live worker, and its "running" subgroup has one for each task currently running, named as
// described in [NamedTask].
func (p *WorkerPool) Tasks() TaskTree {
	return p.group.TaskTree()
}

// PoolStats is a snapshot of a [WorkerPool]'s counters, as returned by [WorkerPool.Stats]. The
// counters are read one at a time, so a snapshot taken while tasks are running may be slightly
// inconsistent.
type PoolStats struct {
	Workers   int
	Pending   int
	Submitted uint64
	Rejected  uint64
	// Completed counts tasks that finished running, including those that panicked.
	Completed uint64
	Panicked  uint64
	PerWorker []WorkerStats
}

// WorkerStats holds the counters for a single worker slot.
type WorkerStats struct {
	Worker   int
	Executed uint64
	Panicked uint64
}

// Stats returns the pool's counters.
func (p *WorkerPool) Stats() PoolStats {
	s := PoolStats{
		Workers:   len(p.workers),
		Pending:   p.PendingCount(),
		Submitted: p.submitted.Load(),
		Rejected:  p.rejected.Load(),
		PerWorker: make([]WorkerStats, len(p.workers)),
	}
	for i, w := range p.workers {
		ws := WorkerStats{Worker: w.id, Executed: w.executed.Load(), Panicked: w.panicked.Load()}
		s.Completed += ws.Executed
		s.Panicked += ws.Panicked
		s.PerWorker[i] = ws
	}
	return s
}

func (p *WorkerPool) completed() uint64 {
	var n uint64
	for _, w := range p.workers {
		n += w.executed.Load()
	}
	return n
}

// work is the loop run by each worker goroutine.
func (p *WorkerPool) work(w *workerState) {
	exited := false
	defer func() {
		if exited {
			p.workerGroup.Done(w.name)
			return
		}

		// only runtime.Goexit gets here: panics are recovered in run
		p.logger.Warning().
			Str("pool", p.name).
			Int("worker", w.id).
			Log("task called runtime.Goexit, replacing worker")
		go p.work(w)
	}()

	for {
		task, ok := p.next()
		if !ok {
			exited = true
			return
		}
		p.run(w, task)
	}
}

// next blocks until there is a task to run, or returns false once the pool is stopping and the
// backlog is empty.
func (p *WorkerPool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.backlog.Length() == 0 && !p.stopping {
		p.cond.Wait()
	}
	if p.backlog.Length() == 0 {
		return nil, false
	}
	return p.backlog.Remove().(Task), true
}

func (p *WorkerPool) run(w *workerState, task Task) {
	name := taskName(task)
	p.running.Add(name)
	defer func() {
		if r := recover(); r != nil {
			w.panicked.Add(1)
			p.reportPanic(&TaskPanic{
				Value:  r,
				Stack:  panicStack(),
				Worker: w.id,
				Task:   name,
			})
		}
		w.executed.Add(1)
		p.running.Done(name)
	}()

	task.Run()
}

func (p *WorkerPool) reportPanic(tp *TaskPanic) {
	p.logger.Err().
		Str("pool", p.name).
		Int("worker", tp.Worker).
		Str("task", tp.Task).
		Str("panic", fmt.Sprint(tp.Value)).
		Str("stack", tp.Stack.String()).
		Log("task panicked")

	if p.onPanic == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Err().
				Str("pool", p.name).
				Int("worker", tp.Worker).
				Str("panic", fmt.Sprint(r)).
				Log("panic handler panicked")
		}
	}()
	p.onPanic(tp)
}
