package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// FanOutResult is one backend's outcome from a FanOut call.
type FanOutResult[T any] struct {
	Value T
	Err   error
}

// FanOut runs fn once per named pool concurrently and collects results
// keyed by pool name. A single failing call never cancels the others —
// each result is reported independently — matching the capability
// aggregator's requirement that one unreachable backend must not block
// cataloging the rest.
func FanOut[T any](ctx context.Context, pools map[string]*Pool, fn func(ctx context.Context, p *Pool) (T, error)) map[string]FanOutResult[T] {
	results := make(map[string]FanOutResult[T], len(pools))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for name, p := range pools {
		name, p := name, p
		g.Go(func() error {
			value, err := fn(gctx, p)
			mu.Lock()
			results[name] = FanOutResult[T]{Value: value, Err: err}
			mu.Unlock()
			return nil // never abort the group; each backend's error is independent
		})
	}
	_ = g.Wait()
	return results
}
