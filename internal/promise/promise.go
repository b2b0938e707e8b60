// Package promise provides a minimal deferred-result primitive and a serial
// execution lane. A backend instance owns one Lane; every provision/destroy
// request is submitted to it and runs to completion before the next starts,
// so backend state needs no locking.
package promise

import (
	"context"
	"errors"
	"sync"
)

// Void is the result type of operations that only succeed or fail.
type Void = struct{}

// ErrLaneClosed is returned by promises for work submitted after Close.
var ErrLaneClosed = errors.New("lane closed")

// Promise is a single-assignment deferred result. It is resolved exactly
// once by the producer; any number of consumers may wait on it.
type Promise[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newPromise[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

func (p *Promise[T]) resolve(val T, err error) {
	p.val = val
	p.err = err
	close(p.done)
}

// Resolved returns an already-resolved promise. Useful for fast-path
// failures that never reach a lane.
func Resolved[T any](val T, err error) *Promise[T] {
	p := newPromise[T]()
	p.resolve(val, err)
	return p
}

// Done is closed once the promise is resolved.
func (p *Promise[T]) Done() <-chan struct{} { return p.done }

// Wait blocks until the promise resolves or ctx is done. A ctx error does
// not cancel the underlying work; the producer still runs to completion.
func (p *Promise[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.val, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Lane executes submitted work on one dedicated goroutine in FIFO order.
type Lane struct {
	mu     sync.RWMutex
	closed bool
	work   chan func()
}

// NewLane starts a lane. The caller must Close it when done.
// Submit only blocks once the pending queue is full.
func NewLane() *Lane {
	l := &Lane{work: make(chan func(), 64)}
	go func() {
		for fn := range l.work {
			fn()
		}
	}()
	return l
}

// Close stops the lane once queued work has drained. Later submissions
// resolve with ErrLaneClosed.
func (l *Lane) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.work)
	}
}

// Submit queues fn on the lane and returns a promise for its result.
// Submissions from one goroutine execute strictly in submission order.
func Submit[T any](l *Lane, fn func() (T, error)) *Promise[T] {
	p := newPromise[T]()

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		var zero T
		p.resolve(zero, ErrLaneClosed)
		return p
	}
	l.work <- func() { p.resolve(fn()) }
	return p
}
