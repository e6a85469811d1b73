// Package batch runs work items in fixed-size concurrent batches with a
// pause between batches.
package batch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Defaults applied to zero Options fields.
const (
	DefaultSize  = 10
	DefaultDelay = time.Second
)

// Options controls batching.
type Options struct {
	Size  int           // items run concurrently per batch
	Delay time.Duration // pause between batches; negative disables it
}

func (o Options) withDefaults() Options {
	if o.Size <= 0 {
		o.Size = DefaultSize
	}
	if o.Delay == 0 {
		o.Delay = DefaultDelay
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	return o
}

// Outcome is the result of one item.
type Outcome[T, R any] struct {
	Item   T
	Result R
	Err    error
}

// Run calls fn for every item, Size at a time. Every item scheduled gets an
// outcome; a failing item never cancels its siblings. When ctx ends no further
// batches are started and the unscheduled items are reported with ctx.Err().
// Outcomes are returned in item order.
func Run[T, R any](ctx context.Context, items []T, opts Options, fn func(ctx context.Context, item T) (R, error)) []Outcome[T, R] {
	opts = opts.withDefaults()
	outcomes := make([]Outcome[T, R], len(items))
	for i, it := range items {
		outcomes[i].Item = it
	}

	for start := 0; start < len(items); start += opts.Size {
		if start > 0 && opts.Delay > 0 {
			timer := time.NewTimer(opts.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			for i := start; i < len(items); i++ {
				outcomes[i].Err = err
			}
			break
		}

		end := start + opts.Size
		if end > len(items) {
			end = len(items)
		}

		var g errgroup.Group
		g.SetLimit(opts.Size)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				res, err := fn(ctx, items[i])
				outcomes[i].Result = res
				outcomes[i].Err = err
				return nil
			})
		}
		_ = g.Wait()
	}
	return outcomes
}

// Count returns the number of successful and failed outcomes.
func Count[T, R any](outcomes []Outcome[T, R]) (ok, failed int) {
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		} else {
			ok++
		}
	}
	return ok, failed
}
