package ensemble

import (
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal" // renamed so that arguments can be called 'signal'
	"sync"

	"github.com/joeycumines/logiface"
	"golang.org/x/exp/slices"
)

// Closer is anything with a Close method that cannot fail, such as a [BoundedChannel].
type Closer interface {
	Close()
}

// Coordinator runs shutdown hooks for a set of primitives in the reverse of the order they were
// registered, so that consumers registered after their producers are torn down first.
//
// Shutdown happens once, on the first call to [Coordinator.Trigger] or on one of the OS signals
// passed to [Coordinator.Notify]. Every hook runs even if an earlier one fails.
type Coordinator struct {
	logger *logiface.Logger[logiface.Event]

	mu      sync.Mutex
	hooks   []shutdownHook
	started bool
	done    latch
	err     error

	stopped    bool
	forwarders []chan os.Signal
}

type shutdownHook struct {
	name string
	fn   func(context.Context) error
}

// NewCoordinator returns a Coordinator with no hooks. logger may be nil.
func NewCoordinator(logger *logiface.Logger[logiface.Event]) *Coordinator {
	return &Coordinator{logger: logger}
}

// OnShutdown registers fn to be called during shutdown. name identifies the hook in logs and
// errors.
//
// If shutdown has already started, fn is called immediately with a background context, and any
// error it returns is logged rather than returned from [Coordinator.Trigger].
func (c *Coordinator) OnShutdown(name string, fn func(context.Context) error) {
	c.mu.Lock()
	if !c.started {
		c.hooks = append(c.hooks, shutdownHook{name: name, fn: fn})
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.runHook(context.Background(), shutdownHook{name: name, fn: fn}); err != nil {
		c.logger.Err().Err(err).Str("hook", name).Log("late shutdown hook failed")
	}
}

// ShutdownPool registers [WorkerPool.ShutdownContext] as a hook, named after the pool.
func (c *Coordinator) ShutdownPool(p *WorkerPool) {
	c.OnShutdown(p.Name(), p.ShutdownContext)
}

// CloseChannel registers a hook that closes ch.
func (c *Coordinator) CloseChannel(name string, ch Closer) {
	c.OnShutdown(name, func(context.Context) error {
		ch.Close()
		return nil
	})
}

// Trigger starts shutdown, running every registered hook with ctx, most recent first. Errors from
// the hooks are wrapped with the hook's name and joined.
//
// If shutdown has already started, Trigger waits for it as [Coordinator.Wait] does.
func (c *Coordinator) Trigger(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return c.Wait(ctx)
	}
	c.started = true
	hooks := slices.Clone(c.hooks)
	c.hooks = nil
	c.mu.Unlock()

	c.logger.Info().Int("hooks", len(hooks)).Log("shutdown triggered")

	slices.Reverse(hooks)
	var errs []error
	for _, h := range hooks {
		if err := c.runHook(ctx, h); err != nil {
			c.logger.Err().Err(err).Str("hook", h.name).Log("shutdown hook failed")
			errs = append(errs, fmt.Errorf("shutdown hook %q: %w", h.name, err))
		}
	}
	err := errors.Join(errs...)

	c.mu.Lock()
	c.err = err
	c.done.fire()
	c.mu.Unlock()

	c.logger.Info().Bool("ok", err == nil).Log("shutdown complete")
	return err
}

func (c *Coordinator) runHook(ctx context.Context, h shutdownHook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.fn(ctx)
}

// Triggered reports whether shutdown has started.
func (c *Coordinator) Triggered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Done returns a channel that is closed once every hook has run.
func (c *Coordinator) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done.wait()
}

// Wait waits for shutdown to complete, returning the same error as the call to
// [Coordinator.Trigger] that ran the hooks, or ctx.Err() if ctx is done first.
func (c *Coordinator) Wait(ctx context.Context) error {
	select {
	case <-c.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Notify triggers shutdown, with a background context, when any of the given OS signals is
// received. Forwarding continues until [Coordinator.Stop].
func (c *Coordinator) Notify(signals ...os.Signal) {
	if len(signals) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}

	ch := make(chan os.Signal, 1)
	ossignal.Notify(ch, signals...)
	c.forwarders = append(c.forwarders, ch)
	go c.forward(ch)
}

func (c *Coordinator) forward(ch <-chan os.Signal) {
	for signal := range ch {
		c.logger.Notice().Str("signal", signal.String()).Log("received signal")
		_ = c.Trigger(context.Background())
	}
}

// Stop ends signal forwarding set up by [Coordinator.Notify]. It does not trigger or interrupt
// shutdown. Calling Stop more than once is allowed.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true

	for _, ch := range c.forwarders {
		// no more sends on ch once Stop returns
		ossignal.Stop(ch)
		close(ch)
	}
	c.forwarders = nil
}
