package syncutil

import (
	"context"
	"sync"
)

// Pool runs submitted tasks on at most n goroutines at a time.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

// NewPool creates a pool with n slots. n < 1 is treated as 1.
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	return &Pool{sem: make(chan struct{}, n)}
}

// Submit blocks until a slot is free, then runs task in its own goroutine.
// It returns ctx.Err() when ctx ends before a slot frees up.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	Go(&p.wg, func() {
		defer func() { <-p.sem }()
		task()
	})
	return nil
}

// Wait blocks until every submitted task has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Busy returns the number of running tasks.
func (p *Pool) Busy() int {
	return len(p.sem)
}
