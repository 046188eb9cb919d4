package tasks

import (
	"context"
	"sync"
)

// AsyncQueue is a FIFO with a blocking Pop, designed for a single consumer.
// Push hands items directly to a parked consumer instead of buffering them,
// so Pop observes strict arrival order even when it is called before Push.
type AsyncQueue[T any] struct {
	mu     sync.Mutex
	items  []T
	waiter chan T
}

func NewAsyncQueue[T any]() *AsyncQueue[T] {
	return &AsyncQueue[T]{}
}

// Push appends an item, or resolves a parked Pop immediately.
func (q *AsyncQueue[T]) Push(item T) {
	q.mu.Lock()
	if q.waiter != nil {
		w := q.waiter
		q.waiter = nil
		q.mu.Unlock()
		w <- item
		return
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// Pop returns the head if one is buffered, otherwise parks until the next
// Push or until ctx is done. Only one outstanding Pop is supported.
func (q *AsyncQueue[T]) Pop(ctx context.Context) (T, error) {
	q.mu.Lock()
	if len(q.items) > 0 {
		head := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		return head, nil
	}
	w := make(chan T, 1)
	q.waiter = w
	q.mu.Unlock()

	select {
	case item := <-w:
		return item, nil
	case <-ctx.Done():
		q.mu.Lock()
		if q.waiter == w {
			q.waiter = nil
			q.mu.Unlock()
		} else {
			// A Push won the race and is committed to handing off into
			// w. Wait for the item and re-buffer it so it is not lost.
			q.mu.Unlock()
			q.Push(<-w)
		}
		var zero T
		return zero, ctx.Err()
	}
}

// Count reports the backlog depth, not counting a parked consumer.
func (q *AsyncQueue[T]) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drains and returns all buffered items. A parked consumer stays
// parked; Clear is used to flush pending work on a hard reset.
func (q *AsyncQueue[T]) Clear() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}
