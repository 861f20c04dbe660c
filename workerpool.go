package main

import (
	"context"
	"sync"
)

// WorkerPool runs submitted tasks on a fixed number of goroutines. The first
// task error cancels the pool; later tasks are dropped.
type WorkerPool struct {
	workers int
	tasks   chan func() error
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	errOnce sync.Once
	err     error
}

// NewWorkerPool creates a pool bound to ctx. Call Start before Submit.
func NewWorkerPool(ctx context.Context, workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		workers: workers,
		tasks:   make(chan func() error, workers*2),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers.
func (p *WorkerPool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			if err := task(); err != nil {
				p.fail(err)
			}
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *WorkerPool) fail(err error) {
	p.errOnce.Do(func() {
		p.err = err
		p.cancel()
	})
}

// Submit queues a task. It blocks while the queue is full and returns
// immediately once the pool is cancelled.
func (p *WorkerPool) Submit(task func() error) {
	select {
	case p.tasks <- task:
	case <-p.ctx.Done():
	}
}

// Wait closes the queue, waits for the workers and returns the first task
// error, or the context error if the pool was cancelled from outside.
func (p *WorkerPool) Wait() error {
	close(p.tasks)
	p.wg.Wait()
	defer p.cancel()

	if p.err != nil {
		return p.err
	}
	return p.ctx.Err()
}

// parallelChunks splits [0,n) into contiguous chunks and runs fn on each
// from a pool of workers. Chunks must write disjoint outputs.
func parallelChunks(ctx context.Context, workers, n int, fn func(lo, hi int) error) error {
	if n == 0 {
		return ctx.Err()
	}
	pool := NewWorkerPool(ctx, workers)
	pool.Start()

	chunk := (n + workers*4 - 1) / (workers * 4)
	if chunk < 1 {
		chunk = 1
	}
	for lo := 0; lo < n; lo += chunk {
		lo, hi := lo, lo+chunk
		if hi > n {
			hi = n
		}
		pool.Submit(func() error { return fn(lo, hi) })
	}
	return pool.Wait()
}
