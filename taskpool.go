package rfcache

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
)

// WorkerPool is a bounded-concurrency scheduler for background downloads.
// It dispatches submitted work over an unbuffered channel to a fixed set of
// goroutines, the same channel-dispatched-queue shape as the teacher
// pack's worker_pool.go, generalized here to name tasks and hand back a
// TaskHandle whose Deactivate joins synchronously rather than firing and
// forgetting.
type WorkerPool struct {
	jobs   chan job
	stopWg sync.WaitGroup
	logger *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

type job struct {
	id   string
	name string
	fn   func(ctx context.Context)
	done chan struct{}
	ctx  context.Context
}

// NewWorkerPool starts n worker goroutines pulling from a shared queue.
// n is clamped to at least 1.
func NewWorkerPool(n int) *WorkerPool {
	if n < 1 {
		n = 1
	}
	p := &WorkerPool{jobs: make(chan job), logger: log.Default()}
	p.stopWg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	defer p.stopWg.Done()
	for j := range p.jobs {
		p.logger.Printf("taskpool: starting %s (%s)", j.name, j.id)
		j.fn(j.ctx)
		p.logger.Printf("taskpool: finished %s (%s)", j.name, j.id)
		close(j.done)
	}
}

// poolTaskHandle implements TaskHandle for work scheduled on a WorkerPool.
type poolTaskHandle struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// Deactivate cancels the task's context and blocks until the task
// function has returned.
func (h *poolTaskHandle) Deactivate() {
	h.cancel()
	<-h.done
}

// ScheduleNamed queues fn for execution by the next free worker. name is
// carried on the handle only for logging; the pool does no routing on it.
// Each task is assigned a random id so log lines for concurrently running
// downloads with the same name can still be told apart.
//
// The queue itself is unbuffered, so ScheduleNamed blocks once all n
// workers are already busy - deliberate backpressure rather than an
// unbounded backlog of pending downloads. A caller invoking this from
// inside a singleflight-guarded section (as Registry.GetOrCreate does)
// should size the pool for the concurrency it expects, since the (n+1)th
// distinct download waits behind a free worker rather than queueing.
func (p *WorkerPool) ScheduleNamed(name string, fn func(ctx context.Context)) TaskHandle {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	j := job{id: id, name: name, fn: fn, done: make(chan struct{}), ctx: ctx}
	p.jobs <- j
	return &poolTaskHandle{id: id, cancel: cancel, done: j.done}
}

// Shutdown stops accepting new work and waits for all workers to drain
// their current job. It does not cancel in-flight jobs; callers that need
// that should Deactivate each TaskHandle first.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.jobs)
	p.stopWg.Wait()
}
