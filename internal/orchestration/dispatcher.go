package orchestration

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Task is a unit of deferred work executed outside any request/response cycle.
type Task func(ctx context.Context)

// Dispatcher runs deferred tasks on a bounded worker pool.
//
// Delivery semantics, stated explicitly rather than accidentally:
// - at-most-once: a submitted task runs zero or one times
// - no retry: a failed or panicked task is logged and forgotten
// - no dead-letter: a task dropped on a full queue is logged and forgotten
//
// Multiple tasks run concurrently up to the worker count.
type Dispatcher struct {
	log     *slog.Logger
	baseCtx context.Context

	mu     sync.Mutex
	closed bool
	tasks  chan submission
	wg     sync.WaitGroup
}

type submission struct {
	id string
	fn Task
}

// NewDispatcher starts workers bound to ctx; canceling ctx cancels tasks
// already running, not queued ones (those still execute, observing the
// canceled context and exiting early).
func NewDispatcher(ctx context.Context, log *slog.Logger, workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 16
	}
	d := &Dispatcher{
		log:     log,
		baseCtx: ctx,
		tasks:   make(chan submission, queueSize),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Submit enqueues a task for execution. Returns false when the queue is
// full or the dispatcher is shut down; the task is dropped in either case.
func (d *Dispatcher) Submit(fn Task) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.log.Warn("dispatcher closed, dropping task")
		return false
	}
	sub := submission{id: uuid.NewString(), fn: fn}
	select {
	case d.tasks <- sub:
		return true
	default:
		d.log.Warn("task queue full, dropping task", "task_id", sub.id)
		return false
	}
}

// Shutdown stops accepting work and waits for in-flight and queued tasks,
// or until ctx expires.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.tasks)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for sub := range d.tasks {
		d.run(sub)
	}
}

func (d *Dispatcher) run(sub submission) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("task panicked", "task_id", sub.id, "panic", p)
		}
	}()
	sub.fn(d.baseCtx)
}
