package ensemble

import (
	"fmt"
	"sync"

	"golang.org/x/sys/cpu"
)

// BoundedChannel is a fixed-capacity FIFO queue with blocking [BoundedChannel.Send] and
// [BoundedChannel.Receive], for producer-consumer exchange between goroutines.
//
// A BoundedChannel is either open or closed. While open, Send blocks while the buffer is full and
// Receive blocks while it is empty. [BoundedChannel.Close] makes the transition to closed, which is
// permanent: after it, Send drops its value and returns false, and Receive keeps returning
// buffered values in order until the buffer is drained, then returns false on every call.
//
// Unlike a built-in channel, sending on a closed BoundedChannel and closing it twice are both
// allowed.
type BoundedChannel[T any] struct {
	mu       sync.Mutex
	notFull  sync.Cond
	notEmpty sync.Cond

	// ring buffer: buf[head] is the oldest value, count values follow it (wrapping)
	buf   []T
	head  int
	count int

	closed   bool
	closedCh latch

	_ cpu.CacheLinePad // keep neighbouring allocations off the lock's cache line
}

// NewBoundedChannel returns an open BoundedChannel that buffers up to capacity values.
//
// NewBoundedChannel panics if capacity is less than one.
func NewBoundedChannel[T any](capacity int) *BoundedChannel[T] {
	if capacity < 1 {
		panic(fmt.Sprintf("bounded channel capacity must be at least 1, got %d", capacity))
	}

	c := &BoundedChannel[T]{buf: make([]T, capacity)}
	c.notFull.L = &c.mu
	c.notEmpty.L = &c.mu
	return c
}

// Send appends value to the buffer, waiting for space if the buffer is full.
//
// Send returns true once value is buffered. It returns false, without buffering value, if the
// channel is closed, including when it is closed while Send is waiting.
func (c *BoundedChannel[T]) Send(value T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.count == len(c.buf) && !c.closed {
		c.notFull.Wait()
	}
	if c.closed {
		return false
	}

	c.push(value)
	return true
}

// TrySend is like Send, but returns false instead of waiting when the buffer is full.
func (c *BoundedChannel[T]) TrySend(value T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.count == len(c.buf) {
		return false
	}

	c.push(value)
	return true
}

// Receive removes and returns the oldest buffered value, waiting for one if the buffer is empty.
//
// Receive returns false only once the channel is closed and every buffered value has been
// received.
func (c *BoundedChannel[T]) Receive() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.count == 0 && !c.closed {
		c.notEmpty.Wait()
	}
	if c.count == 0 {
		var zero T
		return zero, false
	}

	return c.pop(), true
}

// TryReceive is like Receive, but returns false instead of waiting when the buffer is empty.
func (c *BoundedChannel[T]) TryReceive() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.count == 0 {
		var zero T
		return zero, false
	}

	return c.pop(), true
}

// Close closes the channel, waking every goroutine blocked in Send or Receive. Calling Close on a
// closed channel does nothing.
func (c *BoundedChannel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	c.closedCh.fire()
	c.notFull.Broadcast()
	c.notEmpty.Broadcast()
}

// Closed returns a channel that is closed once [BoundedChannel.Close] has been called, so that
// closure can be selected over.
func (c *BoundedChannel[T]) Closed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closedCh.wait()
}

// IsClosed reports whether [BoundedChannel.Close] has been called.
func (c *BoundedChannel[T]) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Len returns the number of buffered values.
func (c *BoundedChannel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Cap returns the channel's capacity.
func (c *BoundedChannel[T]) Cap() int {
	return len(c.buf)
}

// push requires c.mu, an open channel, and a free slot.
func (c *BoundedChannel[T]) push(value T) {
	c.buf[(c.head+c.count)%len(c.buf)] = value
	c.count += 1
	c.notEmpty.Signal()
}

// pop requires c.mu and at least one buffered value.
func (c *BoundedChannel[T]) pop() T {
	value := c.buf[c.head]
	var zero T
	c.buf[c.head] = zero // release the reference
	c.head = (c.head + 1) % len(c.buf)
	c.count -= 1
	c.notFull.Signal()
	return value
}
