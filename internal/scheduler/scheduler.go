// Package scheduler runs per-segment work under a fixed concurrency cap with
// first-failure-wins short-circuiting.
//
// Tasks are admitted in index order while fewer than Limit are in flight and
// no failure has been recorded. Completion order is arbitrary; outcomes are
// keyed by index in a Table. Run returns only after every admitted task has
// finished.
package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/maauso/meetnote-api/internal/failure"
)

// DefaultLimit is the default number of tasks allowed in flight.
const DefaultLimit = 4

// Task processes the segment with the given index.
type Task[T any] func(ctx context.Context, index int) (T, error)

// Progress is an observational snapshot emitted after each accepted outcome.
// Snapshots are delivered one at a time with Completed increasing by one,
// so a consumer sees 1..n in order. Index is the segment whose outcome
// produced the snapshot and may arrive out of order.
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Index     int `json:"index"`
}

// Percentage returns the completed fraction in [0, 1].
func (p Progress) Percentage() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Completed) / float64(p.Total)
}

// Options configures a Run.
type Options struct {
	// Limit is the maximum number of tasks in flight. Values <= 0 use DefaultLimit.
	Limit int
	// Name labels log lines, e.g. "export" or "recognize".
	Name   string
	Logger *slog.Logger
}

// Run executes task for indices 0..total-1 and returns the outcome table.
// onProgress may be nil and is never called concurrently. If ctx is
// cancelled before Run returns, admission stops and the table records a
// cancellation failure unless a failure was already recorded.
func Run[T any](ctx context.Context, opts Options, total int, task Task[T], onProgress func(Progress)) *Table[T] {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	table := NewTable[T](total)
	gate := newProgressGate(onProgress)
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

admit:
	for i := 0; i < total; i++ {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			table.Fail(failure.New(failure.KindCancelled, ctx.Err()))
			break admit
		}

		if table.Failed() {
			<-sem
			logger.Debug("skipping admission after failure",
				slog.String("phase", opts.Name),
				slog.Int("index", i),
			)
			break
		}
		if err := ctx.Err(); err != nil {
			<-sem
			table.Fail(failure.New(failure.KindCancelled, err))
			break
		}

		wg.Add(1)
		go func(index int) {
			defer func() {
				<-sem
				wg.Done()
			}()

			value, err := task(ctx, index)
			if err != nil {
				if table.Fail(err) {
					logger.Warn("segment failed",
						slog.String("phase", opts.Name),
						slog.Int("index", index),
						slog.String("error", err.Error()),
					)
				}
				return
			}

			snapshot, ok := table.Store(index, value)
			if !ok {
				logger.Debug("discarding outcome after failure",
					slog.String("phase", opts.Name),
					slog.Int("index", index),
				)
				return
			}
			gate.send(snapshot)
		}(i)
	}

	wg.Wait()
	if err := ctx.Err(); err != nil {
		table.Fail(failure.New(failure.KindCancelled, err))
	}
	return table
}

// progressGate delivers snapshots one at a time in Completed order, outside
// the table lock. Every accepted outcome yields a distinct Completed value,
// so each snapshot only waits for its predecessor.
type progressGate struct {
	mu      sync.Mutex
	cond    *sync.Cond
	last    int
	deliver func(Progress)
}

func newProgressGate(deliver func(Progress)) *progressGate {
	g := &progressGate{deliver: deliver}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *progressGate) send(p Progress) {
	if g.deliver == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.last != p.Completed-1 {
		g.cond.Wait()
	}
	g.deliver(p)
	g.last = p.Completed
	g.cond.Broadcast()
}
