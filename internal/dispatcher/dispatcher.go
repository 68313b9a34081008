// Package dispatcher fans a fixed pool of workers out over the shared
// frontier and joins them.
package dispatcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crawlgrep/internal/worker"
)

// Runner is satisfied by *worker.Worker.
type Runner interface {
	Run(ctx context.Context) (worker.Stats, error)
}

// Dispatcher runs a pool of workers to completion.
type Dispatcher struct {
	workers []Runner
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(workers []Runner, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		workers: workers,
		logger:  logger,
	}
}

// Run starts all workers and blocks until every one has returned. A worker
// that fails to start cancels the rest; the first such error is returned
// along with whatever stats were collected.
func (d *Dispatcher) Run(ctx context.Context) ([]worker.Stats, error) {
	stats := make([]worker.Stats, len(d.workers))
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range d.workers {
		i, w := i, w
		g.Go(func() error {
			s, err := w.Run(gctx)
			stats[i] = s
			return err
		})
	}
	d.logger.Debug("workers started", zap.Int("workers", len(d.workers)))

	if err := g.Wait(); err != nil {
		return stats, fmt.Errorf("worker pool: %w", err)
	}
	d.logger.Debug("workers joined", zap.Int("workers", len(d.workers)))
	return stats, nil
}

// Summary totals per-worker stats.
type Summary struct {
	Matched    int
	Exhausted  int
	Canceled   int
	Fetched    int
	Failed     int
	Duplicates int
}

// Summarize folds per-worker stats into totals.
func Summarize(stats []worker.Stats) Summary {
	var s Summary
	for _, st := range stats {
		switch st.Outcome {
		case worker.OutcomeMatched:
			s.Matched++
		case worker.OutcomeCanceled:
			s.Canceled++
		default:
			s.Exhausted++
		}
		s.Fetched += st.Fetched
		s.Failed += st.Failed
		s.Duplicates += st.Duplicates
	}
	return s
}
