package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/chazu/stackvm/host"
)

// runRequest represents a unit of work to be executed on the runner goroutine.
type runRequest struct {
	fn   func(*host.Host) any
	done chan runResult
}

// runResult holds the return value from a runner operation.
type runResult struct {
	value any
	err   error
}

// Runner serializes program execution through a single goroutine, so
// concurrent requests never interleave their PRINT output or history
// records.
type Runner struct {
	host     *host.Host
	requests chan runRequest
	quit     chan struct{}
	stopOnce sync.Once
}

// NewRunner creates a Runner and starts the processing goroutine.
func NewRunner(h *host.Host) *Runner {
	r := &Runner{
		host:     h,
		requests: make(chan runRequest, 64),
		quit:     make(chan struct{}),
	}
	go r.loop()
	return r
}

// loop processes requests sequentially on a dedicated goroutine.
func (r *Runner) loop() {
	for {
		select {
		case req := <-r.requests:
			req.done <- r.execute(req.fn)
		case <-r.quit:
			return
		}
	}
}

// execute runs a function on the host, recovering from panics.
func (r *Runner) execute(fn func(*host.Host) any) runResult {
	var result runResult
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Errorf("recovered from panic in runner: %v", rec)
				result.err = fmt.Errorf("%v", rec)
			}
		}()
		result.value = fn(r.host)
	}()
	return result
}

// Do submits a function for execution on the runner goroutine and blocks
// until it completes or ctx is done. Returns the result and any error
// (including panics).
func (r *Runner) Do(ctx context.Context, fn func(*host.Host) any) (any, error) {
	select {
	case <-r.quit:
		return nil, errRunnerStopped
	default:
	}

	req := runRequest{
		fn:   fn,
		done: make(chan runResult, 1),
	}

	select {
	case r.requests <- req:
	case <-r.quit:
		return nil, errRunnerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case result := <-req.done:
		return result.value, result.err
	case <-r.quit:
		return nil, errRunnerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop shuts down the runner goroutine. It is safe to call more than once.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
}

// Host returns the underlying host.
func (r *Runner) Host() *host.Host {
	return r.host
}
