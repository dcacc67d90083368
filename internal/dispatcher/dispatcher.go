// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/artifact-loader/internal/discovery"
)

// Runner consumes work until its context ends. *worker.Worker implements it.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   discovery.Queue
	workers []Runner
}

// New creates a Dispatcher.
func New(queue discovery.Queue, workers []Runner) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until every worker has returned, which
// happens when ctx ends or the queue is closed. Without workers it waits
// for ctx.
func (d *Dispatcher) Run(ctx context.Context) {
	if len(d.workers) == 0 {
		<-ctx.Done()
		return
	}
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	wg.Wait()
}

// Workers reports the size of the pool.
func (d *Dispatcher) Workers() int {
	return len(d.workers)
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item discovery.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
