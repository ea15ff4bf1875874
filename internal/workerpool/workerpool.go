// Package workerpool is a fixed-size pool of goroutines that bounds how
// many submitted functions run at once. No other package in this module
// submits work to it: FHE primitives run directly on the calling
// goroutine. One small, single-purpose concurrency primitive, built
// directly on channels rather than a generic worker-pool library.
package workerpool

import "context"

// Pool runs submitted functions on a fixed number of worker goroutines.
type Pool struct {
	tasks chan func()
	done  chan struct{}
}

// New starts size worker goroutines draining a shared task channel. size
// must be >= 1.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		tasks: make(chan func()),
		done:  make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			task()
		case <-p.done:
			return
		}
	}
}

// Submit runs fn on the pool, blocking the caller until fn's result is
// ready (or ctx is done first). This keeps every call site's signature
// simple — Submit looks like a direct call, just bounded.
func Submit[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	resultCh := make(chan result, 1)

	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}

	task := func() {
		val, err := fn()
		resultCh <- result{val, err}
	}

	select {
	case p.tasks <- task:
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-p.done:
		var zero T
		return zero, context.Canceled
	}

	select {
	case r := <-resultCh:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Close stops every worker goroutine. It is not idempotent — calling Close
// twice panics on a closed channel, matching close()'s normal semantics.
func (p *Pool) Close() {
	close(p.done)
}
