package engine

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// WorkerPool bounds how many browser jobs run at once. Each running job
// holds a Chromium process, so the bound is a memory bound.
type WorkerPool struct {
	size    int
	sem     *semaphore.Weighted
	active  atomic.Int32
	waiting atomic.Int32
}

// NewWorkerPool creates a pool running at most size jobs concurrently.
func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{size: size, sem: semaphore.NewWeighted(int64(size))}
}

// Do waits for a free slot and runs fn on a worker goroutine, returning
// when fn returns. It fails only if ctx ends before a slot frees up; fn is
// not interrupted once started.
func (p *WorkerPool) Do(ctx context.Context, fn func()) error {
	p.waiting.Add(1)
	err := p.sem.Acquire(ctx, 1)
	p.waiting.Add(-1)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		p.active.Add(1)
		defer func() {
			p.active.Add(-1)
			p.sem.Release(1)
			close(done)
		}()
		fn()
	}()
	<-done
	return nil
}

// Size returns the concurrency bound.
func (p *WorkerPool) Size() int { return p.size }

// ActiveCount returns the number of running jobs.
func (p *WorkerPool) ActiveCount() int { return int(p.active.Load()) }

// WaitingCount returns the number of callers queued for a slot.
func (p *WorkerPool) WaitingCount() int { return int(p.waiting.Load()) }
