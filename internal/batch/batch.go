// Package batch runs a worker over many items in bounded, consecutive groups.
package batch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"crosspost/pkg/logx"
)

const DefaultConcurrency = 5

// Result counts settled items. Successful+Failed always equals the number of items.
type Result struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Worker handles one item. index is the item's position in the input slice.
type Worker[T any] func(ctx context.Context, index int, item T) error

// Process partitions items into consecutive groups of concurrency and runs each
// group concurrently. A group starts only after the previous one settled.
//
// A failing or panicking item never cancels its siblings. If ctx is done before a
// group starts, that group and the rest are counted as failed without running.
func Process[T any](ctx context.Context, log logx.Logger, items []T, concurrency int, worker Worker[T]) Result {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	var ok, failed atomic.Int64

	for start := 0; start < len(items); start += concurrency {
		end := min(start+concurrency, len(items))
		if err := ctx.Err(); err != nil {
			skipped := len(items) - start
			failed.Add(int64(skipped))
			log.Warn("batch aborted", logx.Int("skipped", skipped), logx.Err(err))
			break
		}

		// Plain Group: no derived context, so one failure cannot cancel the others.
		var g errgroup.Group
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				if err := runItem(ctx, log, i, items[i], worker); err != nil {
					failed.Add(1)
					log.Warn("batch item failed", logx.Int("index", i), logx.Err(err))
					return nil
				}
				ok.Add(1)
				return nil
			})
		}
		_ = g.Wait()
	}

	return Result{Successful: int(ok.Load()), Failed: int(failed.Load())}
}

func runItem[T any](ctx context.Context, log logx.Logger, i int, item T, worker Worker[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Error("batch.panic", logx.Int("index", i), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return worker(ctx, i, item)
}

// Dispatcher carries the logger and default group size for a component.
type Dispatcher struct {
	log         logx.Logger
	concurrency atomic.Int64
}

func NewDispatcher(log logx.Logger, concurrency int) *Dispatcher {
	d := &Dispatcher{log: log}
	d.SetConcurrency(concurrency)
	return d
}

// SetConcurrency updates the group size used by later runs.
func (d *Dispatcher) SetConcurrency(n int) {
	if n <= 0 {
		n = DefaultConcurrency
	}
	d.concurrency.Store(int64(n))
}

func (d *Dispatcher) Concurrency() int {
	if d == nil {
		return DefaultConcurrency
	}
	return int(d.concurrency.Load())
}

// Run is Process with the dispatcher's logger and concurrency.
func Run[T any](ctx context.Context, d *Dispatcher, items []T, worker Worker[T]) Result {
	if d == nil {
		return Process(ctx, logx.Nop(), items, DefaultConcurrency, worker)
	}
	return Process(ctx, d.log, items, d.Concurrency(), worker)
}
