// Package bus provides the bounded command queue that feeds a session's
// consumer loop, plus a fan-out stream of lifecycle events.
package bus

import (
	"context"
	"errors"
	"sync"
)

// DefaultCapacity is the number of commands a queue buffers before Send
// blocks.
const DefaultCapacity = 32

// ErrClosed is returned by Send once the consumer side has been torn down.
var ErrClosed = errors.New("bus: queue closed")

// Queue is a bounded FIFO with many producers and a single consumer.
type Queue[T any] struct {
	items chan T
	done  chan struct{}

	closeOnce sync.Once
}

func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Queue[T]{
		items: make(chan T, capacity),
		done:  make(chan struct{}),
	}
}

// Send enqueues item, blocking while the queue is full. It returns ErrClosed
// when the queue is closed and ctx.Err() when ctx ends first.
func (q *Queue[T]) Send(ctx context.Context, item T) error {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	case q.items <- item:
		return nil
	}
}

// Receive returns the next item in FIFO order. It reports false once the
// queue is closed or ctx ends; items still buffered at that point are left
// for Drain.
func (q *Queue[T]) Receive(ctx context.Context) (T, bool) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-q.done:
		return zero, false
	case <-ctx.Done():
		return zero, false
	default:
	}

	select {
	case <-ctx.Done():
		return zero, false
	case <-q.done:
		return zero, false
	case item := <-q.items:
		return item, true
	}
}

// Drain removes and returns every buffered item without blocking.
func (q *Queue[T]) Drain() []T {
	var items []T
	for {
		select {
		case item := <-q.items:
			items = append(items, item)
		default:
			return items
		}
	}
}

// Len reports the number of buffered items.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Cap reports the queue capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.items)
}

// Done is closed when the queue is closed.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}
