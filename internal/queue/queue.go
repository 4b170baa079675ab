// Package queue holds records of one kind in insertion order until a flush
// claims them.
package queue

import "sync"

// Queue is an ordered, append-only buffer that is emptied in one step by
// DrainAll. It is safe for concurrent use.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

// New returns an empty Queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Enqueue appends v. It never blocks on anything but the queue's own lock.
func (q *Queue[T]) Enqueue(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
}

// DrainAll returns every queued item in insertion order and leaves the queue
// empty. Items enqueued after DrainAll returns belong to the next drain.
// It returns nil when the queue is empty.
func (q *Queue[T]) DrainAll() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Reset discards every queued item and returns how many were dropped.
func (q *Queue[T]) Reset() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}
