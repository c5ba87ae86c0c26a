package order

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Entry is a scheduled order reference. The queue holds references,
// not orders, so a cancelled order is simply skipped at dequeue.
type Entry struct {
	OrderID   string
	Priority  Priority
	CreatedAt time.Time
}

type entryHeap []Entry

func (h entryHeap) Len() int { return len(h) }

// Higher priority drains first; within a band, earliest creation wins.
func (h entryHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	if !h[i].CreatedAt.Equal(h[j].CreatedAt) {
		return h[i].CreatedAt.Before(h[j].CreatedAt)
	}
	return h[i].OrderID < h[j].OrderID
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(Entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Queue is a priority queue that blocks consumers until work arrives.
type Queue struct {
	mu   sync.Mutex
	heap entryHeap
	wake chan struct{}
}

func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

func (q *Queue) Enqueue(e Entry) {
	q.mu.Lock()
	heap.Push(&q.heap, e)
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Dequeue blocks until an entry is available or the context ends.
func (q *Queue) Dequeue(ctx context.Context) (Entry, error) {
	for {
		q.mu.Lock()
		if q.heap.Len() > 0 {
			e := heap.Pop(&q.heap).(Entry)
			remaining := q.heap.Len()
			q.mu.Unlock()
			if remaining > 0 {
				// Re-signal so sibling workers do not sleep on a
				// non-empty queue.
				q.signal()
			}
			return e, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		case <-q.wake:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}
