package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atlasfx/trading-engine/internal/datafeed"
	"github.com/atlasfx/trading-engine/pkg/types"
)

// Runner drains a feed through the pipeline, fanning out across symbols.
// Bars within a symbol stay strictly ordered; the risk ledger is shared
// across symbol streams and takes its own lock. The pipeline's
// per-symbol maps are pre-populated before fan-out, and the single pipeline
// instance is serialized with a mutex so cross-symbol state (session
// counters, guards) mutates one bar at a time.
type Runner struct {
	logger   *zap.Logger
	pipeline *Pipeline
	feed     datafeed.Feed

	mu sync.Mutex
}

// NewRunner builds a runner.
func NewRunner(logger *zap.Logger, p *Pipeline, feed datafeed.Feed) *Runner {
	return &Runner{logger: logger.Named("runner"), pipeline: p, feed: feed}
}

// SeedHistory preloads seed bars for every symbol.
func (r *Runner) SeedHistory(symbols []string, count int) error {
	for _, sym := range symbols {
		bars := r.feed.History(sym, count)
		if err := r.pipeline.Seed(sym, bars); err != nil {
			return err
		}
		r.logger.Info("history_seeded",
			zap.String("symbol", sym),
			zap.Int("bars", len(bars)))
	}
	return nil
}

// Run processes up to maxBars bars per symbol (0 means until the feed is
// exhausted or the context is cancelled).
func (r *Runner) Run(ctx context.Context, symbols []string, maxBars int) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			processed := 0
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				if maxBars > 0 && processed >= maxBars {
					return nil
				}
				bar, ok := r.feed.NextBar(sym)
				if !ok {
					return nil
				}
				r.processOne(ctx, sym, bar)
				processed++
			}
		})
	}

	return g.Wait()
}

func (r *Runner) processOne(ctx context.Context, symbol string, bar types.Bar) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipeline.ProcessBar(ctx, symbol, bar)
}
