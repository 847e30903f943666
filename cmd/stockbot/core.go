package main

import (
	"context"
	"time"

	"github.com/tgparkk/stockbot/internal/api"
	"github.com/tgparkk/stockbot/internal/candle"
	"github.com/tgparkk/stockbot/internal/executor"
	"github.com/tgparkk/stockbot/internal/scheduler"
	"github.com/tgparkk/stockbot/internal/store"
	"github.com/tgparkk/stockbot/internal/subscription"
)

// coreAdapter implements api.Core by fanning out to the component
// handles the composition root already owns, without internal/api
// needing to import any of those component packages itself.
type coreAdapter struct {
	sched   *scheduler.Scheduler
	exec    *executor.Executor
	subs    *subscription.Manager
	candles *candle.Manager
	str     store.Store
	cancel  context.CancelFunc
}

func (c *coreAdapter) Pause()  { c.exec.Pause() }
func (c *coreAdapter) Resume() { c.exec.Resume() }

func (c *coreAdapter) ForceRefresh(ctx context.Context) error {
	return c.sched.ForceRefresh(ctx)
}

func (c *coreAdapter) Stats() api.Stats {
	schedStats := c.sched.Stats()
	subStats := c.subs.Stats()
	candleStats := c.candles.Stats()
	return api.Stats{
		ActiveSlot:            schedStats.ActiveSlot,
		OwnedSymbols:          schedStats.OwnedSymbols,
		RealtimeCount:         subStats.RealtimeCount,
		PollingCount:          subStats.PollingCount,
		WaitlistLength:        subStats.WaitlistLength,
		PrioritySwaps:         subStats.PrioritySwaps,
		CandleTotal:           candleStats.Total,
		CandleActivePositions: candleStats.ActivePositions,
		CandleBuyReady:        candleStats.BuyReadyCount,
		OpenPositions:         len(c.exec.Positions()),
		Paused:                c.exec.Paused(),
	}
}

func (c *coreAdapter) ExportTrades(ctx context.Context, since time.Time) ([]store.Trade, error) {
	return c.str.ListTradesSince(ctx, since)
}

func (c *coreAdapter) Shutdown() {
	c.cancel()
}
