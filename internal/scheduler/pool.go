package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/mellongo/internal/ctxlog"
)

// job is one compute call handed to a worker.
type job struct {
	fn   func() error
	err  error
	done chan struct{}
}

// pool runs compute calls off the control loop.
type pool struct {
	jobs chan *job
	wg   sync.WaitGroup
}

func startPool(ctx context.Context, workers int) *pool {
	if workers < 1 {
		workers = 1
	}
	p := &pool{jobs: make(chan *job)}
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Starting worker pool.", "workers", workers)
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(ctx, i)
	}
	return p
}

// worker is the processing loop for a single worker.
func (p *pool) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()
	logger := ctxlog.FromContext(ctx).With("workerID", workerID)
	logger.Debug("Worker started.")

	for j := range p.jobs {
		j.err = p.call(j.fn)
		close(j.done)
	}
	logger.Debug("Worker finished.")
}

func (p *pool) call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compute panicked: %v", r)
		}
	}()
	return fn()
}

// run hands fn to a worker and waits for it. If ctx ends first, run
// returns ctx.Err() and fn keeps running in the background.
func (p *pool) run(ctx context.Context, fn func() error) error {
	j := &job{fn: fn, done: make(chan struct{})}
	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-j.done:
		return j.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop closes intake. Only the control loop submits jobs, so it must have
// returned before stop is called. Workers still busy are not waited for.
func (p *pool) stop() {
	close(p.jobs)
}
