// Package tasks runs fire-and-forget background work with a bounded queue.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"decisiongate.org/internal/obs"
)

// Task is a unit of background work. The context is cancelled when the
// runner shuts down.
type Task func(ctx context.Context)

// Runner executes submitted tasks on a fixed worker pool. Submission never
// blocks the caller: when the queue is full the task is dropped and logged.
type Runner struct {
	queue   chan Task
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// NewRunner starts workers draining a queue of the given size.
func NewRunner(workers, queueSize int) *Runner {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		queue:  make(chan Task, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for t := range r.queue {
		r.run(t)
	}
}

func (r *Runner) run(t Task) {
	defer func() {
		if rec := recover(); rec != nil {
			obs.LogEvent(map[string]any{
				"ts":    time.Now().UTC().Format(time.RFC3339Nano),
				"level": "error",
				"msg":   "background task panic",
				"error": fmt.Sprint(rec),
			})
		}
	}()
	t(r.ctx)
}

// Submit enqueues a task. Returns false if the runner is closed or the queue
// is full; the caller must treat the work as best-effort either way.
func (r *Runner) Submit(t Task) bool {
	if t == nil {
		return false
	}
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if r.closed {
		return false
	}
	select {
	case r.queue <- t:
		return true
	default:
		obs.LogEvent(map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": "warn",
			"msg":   "background task queue full, dropping task",
		})
		return false
	}
}

// Close stops accepting tasks and waits for in-flight work. Queued tasks run
// to completion; their contexts are cancelled only after the wait if the
// caller cancels separately.
func (r *Runner) Close() {
	r.closeMu.Lock()
	if r.closed {
		r.closeMu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.closeMu.Unlock()

	r.wg.Wait()
	r.cancel()
}
