package infra

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned when work is submitted after shutdown began.
var ErrPoolClosed = errors.New("worker pool is shut down")

// Pool is a bounded worker pool used for finalizer LLM calls. Submit blocks
// when all workers are busy, which naturally backpressures callers.
// Shutdown drains pending work before returning.
type Pool struct {
	tasks   chan func()
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
}

// NewPool starts a pool with the given number of workers and queue depth.
func NewPool(workers, queueDepth int) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	p := &Pool{
		tasks:   make(chan func(), queueDepth),
		closeCh: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Submit enqueues work. Blocks while the queue is full; fails once the pool
// is shut down or the context is cancelled.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.mu.Unlock()

	select {
	case p.tasks <- task:
		return nil
	case <-p.closeCh:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run submits fn and blocks until it completes or ctx is cancelled. The
// function still finishes on the worker when the caller gives up waiting.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	if err := p.Submit(ctx, func() { done <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting work and waits for queued tasks to drain.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.closeCh)
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}
