package ensemble

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Stack is a lock-free LIFO stack (a Treiber stack), safe for concurrent use by any number of
// goroutines without a mutex.
//
// Push and Pop retry a compare-and-swap on the head pointer until it succeeds. Neither ever
// blocks, and the operations are linearizable at their successful CAS. Only the LIFO order of a
// single goroutine's own operations is guaranteed.
//
// Every Push allocates a fresh node and nodes are never recycled, so a goroutine holding a stale
// head keeps that node alive and a CAS can never succeed against a reused node. This is what
// rules out the ABA problem without hazard pointers or epochs.
//
// The zero Stack is empty and ready to use. A Stack must not be copied after first use.
type Stack[T any] struct {
	head atomic.Pointer[node[T]]
	_    cpu.CacheLinePad
	size atomic.Int64
}

type node[T any] struct {
	value T
	next  *node[T]
}

// NewStack returns an empty Stack.
func NewStack[T any]() *Stack[T] {
	return &Stack[T]{}
}

// Push adds value to the top of the stack.
func (s *Stack[T]) Push(value T) {
	n := &node[T]{value: value}
	for {
		head := s.head.Load()
		n.next = head
		if s.head.CompareAndSwap(head, n) {
			s.size.Add(1)
			return
		}
	}
}

// Pop removes and returns the value at the top of the stack. It returns false if the stack was
// empty.
func (s *Stack[T]) Pop() (T, bool) {
	for {
		head := s.head.Load()
		if head == nil {
			var zero T
			return zero, false
		}
		if s.head.CompareAndSwap(head, head.next) {
			s.size.Add(-1)
			// head is not modified after this point: concurrent Pop and Peek calls may still be
			// reading it.
			return head.value, true
		}
	}
}

// Peek returns the value at the top of the stack without removing it. It returns false if the
// stack was empty.
func (s *Stack[T]) Peek() (T, bool) {
	head := s.head.Load()
	if head == nil {
		var zero T
		return zero, false
	}
	return head.value, true
}

// PopAll atomically removes every element, returning them in the order Pop would have.
func (s *Stack[T]) PopAll() []T {
	head := s.head.Swap(nil)

	var values []T
	for n := head; n != nil; n = n.next {
		values = append(values, n.value)
	}
	s.size.Add(-int64(len(values)))
	return values
}

// IsEmpty reports whether the stack was empty at the instant of the check.
func (s *Stack[T]) IsEmpty() bool {
	return s.head.Load() == nil
}

// Len returns the approximate number of elements in the stack. Concurrent operations may be
// reflected partially.
func (s *Stack[T]) Len() int {
	n := s.size.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}
