// Package memory provides a bounded in-process job queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/artifact-loader/internal/discovery"
)

// Errors returned by the queue.
var (
	ErrClosed = discovery.ErrQueueClosed
	ErrFull   = errors.New("queue full")
)

// Queue is a bounded channel of discovery jobs.
type Queue struct {
	ch     chan discovery.QueueItem
	mu     sync.RWMutex
	closed bool
}

// NewQueue constructs a queue holding up to capacity pending jobs.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{ch: make(chan discovery.QueueItem, capacity)}
}

// Enqueue blocks until the job is accepted, the queue closes, or ctx ends.
func (q *Queue) Enqueue(ctx context.Context, item discovery.QueueItem) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// TryEnqueue accepts the job only if there is room right now.
func (q *Queue) TryEnqueue(item discovery.QueueItem) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrFull
	}
}

// Dequeue pops the next job. Jobs still buffered when the queue is closed
// are drained before ErrClosed is returned.
func (q *Queue) Dequeue(ctx context.Context) (discovery.QueueItem, error) {
	select {
	case <-ctx.Done():
		return discovery.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return discovery.QueueItem{}, ErrClosed
		}
		return item, nil
	}
}

// Len reports the number of buffered jobs.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting jobs. It is safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
