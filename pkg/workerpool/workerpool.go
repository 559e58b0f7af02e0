// Package workerpool implements spec.md §5's bounded worker pool: a
// fixed number of goroutines draining a buffered job channel, the
// shape the teacher's coordinator uses ad hoc (a semaphore channel
// gating concurrent chunk stores) generalized into a reusable pool.
// cmd/wlsyncd sizes it from config (sync-workers); cmd/wlfs does not
// use it.
package workerpool

import (
	"context"
	"sync"

	"github.com/wildland-go/wildland/pkg/wlerr"
)

// Job is one unit of backend I/O dispatched onto the pool.
type Job func(ctx context.Context)

// Pool runs Size goroutines draining a buffered queue of Jobs.
type Pool struct {
	jobs   chan Job
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New starts a Pool of size workers with a queue depth of queueDepth
// pending jobs before Submit blocks.
func New(size, queueDepth int) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{jobs: make(chan Job, queueDepth), ctx: ctx, cancel: cancel}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.jobs:
			if p.ctx.Err() != nil {
				return
			}
			job(p.ctx)
		}
	}
}

// Submit enqueues job, blocking if the queue is full until a slot
// frees up or the pool is stopped.
func (p *Pool) Submit(job Job) error {
	if p.ctx.Err() != nil {
		return wlerr.Wrap(wlerr.ErrBackendIO, "worker pool stopped")
	}
	select {
	case p.jobs <- job:
		return nil
	case <-p.ctx.Done():
		return wlerr.Wrap(wlerr.ErrBackendIO, "worker pool stopped")
	}
}

// Stop signals every worker to exit after its current job and waits
// for them to drain. Jobs still queued but not yet picked up are
// dropped, matching the "refuse new work, let in-flight finish"
// cancellation rule for long-running operations.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}
