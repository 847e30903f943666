package main

import (
	"context"
	"time"

	"github.com/tgparkk/stockbot/internal/broker"
	"github.com/tgparkk/stockbot/internal/candle"
	"github.com/tgparkk/stockbot/internal/executor"
	"github.com/tgparkk/stockbot/internal/logging"
	"github.com/tgparkk/stockbot/internal/signal"
)

// onSignalStrategy tags every trade this bridge opens, since
// signal.Pipeline's forward callback (by design, spec.md §9 Open
// Question 3: the classical per-strategy signal system is removed) only
// carries the AdvancedSignal, not the originating TimeSlot strategy.
const onSignalStrategy = "advanced"

// tradeBridge is the forward target wired into signal.NewPipeline: it
// turns a gated AdvancedSignal into a candle-state transition plus a buy
// or sell against the Trade Executor. This glue has no teacher analogue
// of its own — spec.md's source mixed signal production and order
// placement in one module — so it's kept in the composition root rather
// than invented as a standalone package.
type tradeBridge struct {
	brk     broker.Broker
	exec    *executor.Executor
	candles *candle.Manager
	log     *logging.Logger
}

func (b *tradeBridge) onSignal(sig signal.AdvancedSignal) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now()
	switch sig.Action {
	case signal.ActionBuy:
		b.onBuySignal(ctx, sig, now)
	case signal.ActionSell:
		b.onSellSignal(ctx, sig, now)
	}
}

func (b *tradeBridge) onBuySignal(ctx context.Context, sig signal.AdvancedSignal, now time.Time) {
	cand := &candle.Candidate{
		Symbol: sig.Symbol, Status: candle.StatusBuyReady,
		Signal:         candle.SignalBuy,
		SignalStrength: sig.Score * 100,
		EntryPriority:  sig.Score * sig.Confidence * 100,
		StrategySource: string(b.candles.CurrentRegime(now)),
		Risk:           candle.RiskManagement{StopPrice: sig.StopPrice, TargetPrice: sig.TargetPrice},
	}
	if sig.Confidence >= 0.8 {
		cand.Signal = candle.SignalStrongBuy
	}
	if err := b.candles.Add(cand, now); err != nil {
		b.log.WithError(err).Warn("candle admission refused for %s", sig.Symbol)
		return
	}

	balance, err := b.brk.GetBalance(ctx)
	if err != nil {
		b.log.WithError(err).Warn("balance fetch failed, skipping buy for %s", sig.Symbol)
		return
	}

	if err := b.candles.Transition(sig.Symbol, candle.StatusPendingOrder); err != nil {
		b.log.WithError(err).Warn("candle transition to PENDING_ORDER failed for %s", sig.Symbol)
		return
	}

	_, err = b.exec.Buy(ctx, executor.BuyRequest{
		Symbol:   sig.Symbol,
		Strategy: onSignalStrategy,
		Cash:     balance.CashAvailable,
		Params: executor.StrategyParams{
			Premium:      0.003,
			StrategyMult: 1.0,
			Strength:     sig.Score,
		},
	})
	if err != nil {
		b.log.WithError(err).Warn("buy failed for %s", sig.Symbol)
		_ = b.candles.Transition(sig.Symbol, candle.StatusWatching)
		return
	}
	if tErr := b.candles.Transition(sig.Symbol, candle.StatusEntered); tErr != nil {
		b.log.WithError(tErr).Warn("candle transition to ENTERED failed for %s", sig.Symbol)
	}
}

func (b *tradeBridge) onSellSignal(ctx context.Context, sig signal.AdvancedSignal, now time.Time) {
	cand, ok := b.candles.Get(sig.Symbol)
	if !ok || cand.Status != candle.StatusEntered {
		return
	}
	if err := b.candles.Transition(sig.Symbol, candle.StatusSellReady); err != nil {
		b.log.WithError(err).Warn("candle transition to SELL_READY failed for %s", sig.Symbol)
		return
	}

	positions := b.exec.Positions()
	var qty int64
	for _, p := range positions {
		if p.Symbol == sig.Symbol {
			qty = p.Quantity
			break
		}
	}
	if qty == 0 {
		return
	}

	trade, err := b.exec.Sell(ctx, executor.SellRequest{
		Symbol: sig.Symbol, Kind: executor.SellAuto, BrokerHoldingQty: qty,
	})
	if err != nil {
		b.log.WithError(err).Warn("sell failed for %s", sig.Symbol)
		return
	}
	stopped := sig.StopPrice > 0 && trade.Price <= sig.StopPrice
	perf := candle.Performance{ExitTime: now, HasRealizedPnL: true}
	if trade.PnL != nil {
		perf.RealizedPnL = *trade.PnL
	}
	if trade.PnLRate != nil {
		perf.PnLPct = *trade.PnLRate
	}
	if err := b.candles.Exit(sig.Symbol, stopped, perf); err != nil {
		b.log.WithError(err).Warn("candle exit bookkeeping failed for %s", sig.Symbol)
	}
}

// runStaleOrderSweep polls the Trade Executor's sweep on a fixed
// interval until ctx is cancelled.
func runStaleOrderSweep(ctx context.Context, exec *executor.Executor) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := exec.SweepStaleOrders(ctx); err != nil {
				logging.WithComponent("sweep").Warn("stale order sweep failed: %v", err)
			}
		}
	}
}
