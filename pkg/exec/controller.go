// Package exec bounds how many tasks of the server run at the same time.
//
// Request handlers use Execute for the short synchronous part of a request
// (building the body publisher and subscribing the transmitter). Body
// sources use Go as their stream.Executor so that reading the next chunk
// runs on the shared, bounded pool instead of an unbounded set of
// goroutines. Waiting for a transmission to end never holds a permit.
package exec

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/rhuss/trickle/pkg/debug"
)

// Controller runs tasks with at most a fixed number in flight.
type Controller struct {
	sem      *semaphore.Weighted
	size     int64
	inflight atomic.Int64
	wg       sync.WaitGroup
}

// DefaultSize is the permit count used for a non-positive size: two per
// CPU.
func DefaultSize() int {
	return 2 * runtime.NumCPU()
}

// New creates a controller with size permits.
func New(size int) *Controller {
	if size <= 0 {
		size = DefaultSize()
	}
	return &Controller{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
	}
}

// Size returns the number of permits.
func (c *Controller) Size() int { return int(c.size) }

// InFlight returns the number of tasks currently running.
func (c *Controller) InFlight() int { return int(c.inflight.Load()) }

// Execute runs fn on the calling goroutine once a permit is available. It
// returns ctx's error without running fn if ctx ends first.
func (c *Controller) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for execution permit: %w", err)
	}
	c.inflight.Add(1)
	defer func() {
		c.inflight.Add(-1)
		c.sem.Release(1)
	}()
	return fn(ctx)
}

// Go runs task on a new goroutine once a permit is available. It never
// blocks the caller, which makes it usable as a stream.Executor.
func (c *Controller) Go(task func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.sem.Acquire(context.Background(), 1)
		c.inflight.Add(1)
		defer func() {
			c.inflight.Add(-1)
			c.sem.Release(1)
		}()
		if debug.TraceIsEnabled(debug.Exec) {
			debug.Trace(debug.Exec, "task started", "inflight", c.inflight.Load())
		}
		task()
	}()
}

// Wait blocks until every task started with Go returned or ctx ends.
func (c *Controller) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
