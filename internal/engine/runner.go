package engine

import (
	"context"
	"log"
	"os"
	"sync"
)

// Runner executes fire-and-forget sync jobs off the request path.
//
// Post-CRUD hooks and webhook callbacks submit work here; failures are
// logged and swallowed, never surfaced to the caller that created the
// record. A full queue drops the job (the periodic pull catches
// anything missed).
type Runner struct {
	jobs   chan job
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type job struct {
	name string
	fn   func(ctx context.Context) error
}

// NewRunner creates a runner with the given queue depth and worker
// count. If logger is nil, a default stderr logger is used.
func NewRunner(queueSize, workers int, logger *log.Logger) *Runner {
	if queueSize <= 0 {
		queueSize = 64
	}
	if workers <= 0 {
		workers = 2
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[runner] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		jobs:   make(chan job, queueSize),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go r.work()
	}
	return r
}

// Submit queues a job. Returns false when the queue is full or the
// runner is stopped; the job is dropped either way.
func (r *Runner) Submit(name string, fn func(ctx context.Context) error) bool {
	select {
	case <-r.ctx.Done():
		return false
	case r.jobs <- job{name: name, fn: fn}:
		return true
	default:
		r.logger.Printf("Warning: job queue full, dropping %s", name)
		return false
	}
}

// Stop drains nothing; it cancels in-flight contexts and waits for the
// workers to exit.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
}

func (r *Runner) work() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case j := <-r.jobs:
			if err := j.fn(r.ctx); err != nil {
				r.logger.Printf("Background job %s failed: %v", j.name, err)
			}
		}
	}
}
