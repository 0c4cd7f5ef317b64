// Package stream moves Hive blocks from upstream nodes to the processor.
package stream

import "context"

// Queue is a fixed-capacity FIFO for one producer and one consumer.
// Enqueue blocks while the queue is full and Dequeue blocks while it is
// empty, which keeps the fetcher from racing ahead of the processor.
type Queue[T any] struct {
	ch chan T
}

// NewQueue creates a queue holding at most capacity items.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// Enqueue appends item, waiting for space. It returns ctx.Err() if the
// context ends first; the item is then not enqueued.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue removes the oldest item, waiting for one to arrive.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	select {
	case item := <-q.ch:
		return item, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int { return cap(q.ch) }

// Free returns the number of items that can be enqueued without blocking.
func (q *Queue[T]) Free() int { return cap(q.ch) - len(q.ch) }
