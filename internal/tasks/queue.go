// Package tasks runs fire-and-forget work off the request path.
//
// Broadcast fan-out and post-command persistence are submitted here so the
// goroutine reading a channel never waits on other channels' writes.
// Submission never blocks: when the buffer is full the task is dropped and
// logged.
package tasks

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// Func is a unit of background work. The context is detached from request
// lifetimes and cancelled only when the queue stops.
type Func func(ctx context.Context)

// Scheduler accepts background work. Submit reports whether the task was accepted.
type Scheduler interface {
	Submit(name string, fn Func) bool
}

// Logger is the logging interface used by the queue.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type job struct {
	name string
	fn   Func
}

// Queue is a bounded task buffer drained by a fixed pool of workers.
//
// Thread Safety:
//   - Submit may be called from any goroutine, including from inside a task.
type Queue struct {
	jobs    chan job
	workers int
	logger  Logger

	mu     sync.RWMutex
	closed bool

	wg sync.WaitGroup
}

// NewQueue creates a queue holding up to size pending tasks, run by workers goroutines.
func NewQueue(size, workers int) *Queue {
	if size < 1 {
		size = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		jobs:    make(chan job, size),
		workers: workers,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the queue.
func (q *Queue) SetLogger(logger Logger) {
	if logger != nil {
		q.logger = logger
	}
}

// Start launches the workers. Tasks receive a context that keeps ctx's values
// but is not cancelled with it, so pending work still drains during Close.
func (q *Queue) Start(ctx context.Context) {
	taskCtx := context.WithoutCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for j := range q.jobs {
				q.run(taskCtx, j)
			}
		}()
	}
	q.logger.Debug("task queue started", "workers", q.workers, "capacity", cap(q.jobs))
}

// Submit enqueues fn without blocking.
//
// Parameters:
//   - name: Label used when the task panics or is dropped
//   - fn: The work; it receives the queue's context
//
// Returns:
//   - bool: false when the queue is full or closed and the task was dropped
func (q *Queue) Submit(name string, fn Func) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn("task queue closed, dropping task", "task", name)
		return false
	}

	select {
	case q.jobs <- job{name: name, fn: fn}:
		return true
	default:
		q.logger.Warn("task queue full, dropping task", "task", name)
		return false
	}
}

// Pending returns the number of tasks waiting for a worker.
func (q *Queue) Pending() int {
	return len(q.jobs)
}

// Close stops accepting tasks and waits for the workers to drain what is
// already queued, or for ctx to expire.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining task queue: %w", ctx.Err())
	}
}

func (q *Queue) run(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task panicked",
				"task", j.name,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	j.fn(ctx)
}

// Inline runs every task synchronously on the caller's goroutine. Used in
// tests and by tools that have no queue.
type Inline struct{}

// Submit runs fn immediately and always returns true. Panics propagate.
func (Inline) Submit(_ string, fn Func) bool {
	fn(context.Background())
	return true
}

var (
	_ Scheduler = (*Queue)(nil)
	_ Scheduler = Inline{}
)
