package dispatch

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO shared by one or more senders and a single
// receiver. Send never blocks, so the fetch loop can never be stalled by a
// slow consumer.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	// ready holds at most one token; it is signalled whenever items may be
	// available or the queue has been closed.
	ready chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		ready: make(chan struct{}, 1),
	}
}

// Send appends v to the tail of the queue.
// Sending on a closed queue returns ErrClosed.
func (q *Queue[T]) Send(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	q.signal()
	return nil
}

// TryRecv pops the head of the queue without blocking.
// ok is false when the queue is empty. err is ErrClosed once the queue is
// closed and drained.
func (q *Queue[T]) TryRecv() (v T, ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		if q.closed {
			return v, false, ErrClosed
		}
		return v, false, nil
	}
	return q.popLocked(), true, nil
}

// Recv blocks until a value is available, the queue is closed and drained,
// or ctx is done.
func (q *Queue[T]) Recv(ctx context.Context) (T, error) {
	for {
		v, ok, err := q.TryRecv()
		if ok || err != nil {
			return v, err
		}

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.ready:
		}
	}
}

// Len returns the number of queued values.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue closed. Queued values can still be received.
// Closing twice is a no-op.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.signal()
}

func (q *Queue[T]) popLocked() T {
	v := q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	if len(q.items) > 0 {
		// keep waking the receiver while a backlog remains
		q.signal()
	}
	return v
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
