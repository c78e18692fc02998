// Package bookkeep runs usage-counter writes and other side effects off the
// request path. Submitting never blocks and task failures never reach the
// caller.
package bookkeep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/mediagate/metrics"
)

// Task is one unit of background work.
type Task func(ctx context.Context) error

type job struct {
	name string
	fn   Task
}

// Queue is a bounded fire-and-forget work queue.
type Queue struct {
	jobs        chan job
	taskTimeout time.Duration
	wg          sync.WaitGroup
	closeOnce   sync.Once
	closed      atomic.Bool

	dropped atomic.Int64
	failed  atomic.Int64
}

// NewQueue starts workers goroutines consuming a buffer of size capacity.
func NewQueue(workers, capacity int, taskTimeout time.Duration) *Queue {
	if workers < 1 {
		workers = 1
	}
	if capacity < 1 {
		capacity = 1
	}
	if taskTimeout <= 0 {
		taskTimeout = 5 * time.Second
	}
	q := &Queue{
		jobs:        make(chan job, capacity),
		taskTimeout: taskTimeout,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Submit enqueues fn. It returns false when the queue is full or closed, in
// which case the task is dropped.
func (q *Queue) Submit(name string, fn Task) (ok bool) {
	if q == nil || fn == nil || q.closed.Load() {
		return false
	}
	// Close may race with Submit; a send on the closed channel is a drop.
	defer func() {
		if recover() != nil {
			q.dropped.Add(1)
			metrics.BookkeepDropped.Inc()
			ok = false
		}
	}()
	select {
	case q.jobs <- job{name: name, fn: fn}:
		return true
	default:
		q.dropped.Add(1)
		metrics.BookkeepDropped.Inc()
		slog.Debug("bookkeep: queue full, task dropped", "task", name)
		return false
	}
}

// Dropped returns the number of tasks dropped because the queue was full.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Failed returns the number of tasks that returned an error or panicked.
func (q *Queue) Failed() int64 { return q.failed.Load() }

// Close stops accepting work and waits up to timeout for queued tasks.
func (q *Queue) Close(timeout time.Duration) {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.jobs)
	})
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("bookkeep: close timed out with tasks pending")
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.jobs {
		if err := q.run(j); err != nil {
			q.failed.Add(1)
			slog.Warn("bookkeep: task failed", "task", j.name, "error", err)
		}
	}
}

func (q *Queue) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), q.taskTimeout)
	defer cancel()
	return j.fn(ctx)
}
