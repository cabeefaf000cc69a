package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrNoExecutor is returned by Map when given a nil executor; callers treat it
// like any other pool failure and fall back to sequential work.
var ErrNoExecutor = errors.New("dispatch: executor is nil")

// Executor runs independent units of work on a bounded number of goroutines
// and blocks until all of them finish.
type Executor struct {
	workers     int
	unitTimeout time.Duration
}

// NewExecutor returns an executor with at most workers concurrent units. A
// positive unitTimeout abandons units that run longer; they count as failed.
func NewExecutor(workers int, unitTimeout time.Duration) *Executor {
	if workers < 1 {
		workers = 1
	}
	return &Executor{workers: workers, unitTimeout: unitTimeout}
}

// Workers returns the concurrency bound.
func (e *Executor) Workers() int {
	if e == nil {
		return 0
	}
	return e.workers
}

// Result is the outcome of one unit. OK is false when the unit returned an
// error, panicked or timed out.
type Result[T any] struct {
	Value T
	OK    bool
}

// Purpose: Fan n units out to the executor and collect their results by index.
// Key aspects: Unit failures never abort siblings; results keep input order.
// Returns an error only when the executor is unusable or ctx ends first.
// Upstream: adif.ParseParallel, awards.SummarizeParallel.
// Downstream: errgroup.Group with SetLimit.
func Map[T any](ctx context.Context, e *Executor, n int, fn func(ctx context.Context, i int) (T, error)) ([]Result[T], error) {
	if e == nil {
		return nil, ErrNoExecutor
	}
	if ctx == nil {
		ctx = context.Background()
	}
	out := make([]Result[T], n)
	if n == 0 {
		return out, nil
	}

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			out[i] = runUnit(ctx, e.unitTimeout, i, fn)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("dispatch: %w", err)
	}
	return out, nil
}

func runUnit[T any](ctx context.Context, timeout time.Duration, i int, fn func(context.Context, int) (T, error)) Result[T] {
	if timeout <= 0 {
		v, err := safeCall(ctx, i, fn)
		return Result[T]{Value: v, OK: err == nil}
	}
	uctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan Result[T], 1)
	go func() {
		v, err := safeCall(uctx, i, fn)
		done <- Result[T]{Value: v, OK: err == nil}
	}()
	select {
	case res := <-done:
		return res
	case <-uctx.Done():
		return Result[T]{}
	}
}

func safeCall[T any](ctx context.Context, i int, fn func(context.Context, int) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v = zero
			err = fmt.Errorf("dispatch: unit %d panicked: %v", i, r)
		}
	}()
	return fn(ctx, i)
}
