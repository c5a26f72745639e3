// Package scheduler provides the bounded worker pool that executes store
// operations on behalf of concurrent callers.
package scheduler

import (
	"context"
	"errors"

	"golang.org/x/sync/semaphore"
)

// ErrShutdown is returned for work submitted after Shutdown.
var ErrShutdown = errors.New("scheduler: pool is shut down")

// Pool bounds the number of operations running at once. Callers block for a
// slot rather than queueing unboundedly.
type Pool struct {
	sem  *semaphore.Weighted
	size int64
	done chan struct{}
}

// NewPool builds a pool allowing size concurrent tasks.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
		done: make(chan struct{}),
	}
}

// Do runs task once a slot is available. It returns the task's error, or the
// context error if the caller gave up while waiting.
func (p *Pool) Do(ctx context.Context, task func(context.Context) error) error {
	select {
	case <-p.done:
		return ErrShutdown
	default:
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return task(ctx)
}

// Shutdown stops accepting new work and waits for in-flight tasks to finish,
// or until ctx expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	if err := p.sem.Acquire(ctx, p.size); err != nil {
		return err
	}
	p.sem.Release(p.size)
	return nil
}
