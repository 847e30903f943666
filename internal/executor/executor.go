// Package executor implements the validated path from signal to order
// (spec.md §4.7), grounded on internal/order/manager.go's order-lifecycle
// bookkeeping (map-of-managed-orders behind a mutex, add/remove/process
// idiom) and internal/risk/manager.go's position-sizing formula shape
// (risk-amount / limit-price, clamped to a ceiling).
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tgparkk/stockbot/internal/apperr"
	"github.com/tgparkk/stockbot/internal/broker"
	"github.com/tgparkk/stockbot/internal/collector"
	"github.com/tgparkk/stockbot/internal/logging"
	"github.com/tgparkk/stockbot/internal/store"
)

// Config tunes sizing and pricing ratios (spec.md §4.7).
type Config struct {
	BaseRatio   float64 // fraction of cash risked per buy, before strategy_mult/strength
	MaxRatio    float64 // ceiling fraction of cash for a single buy
	MaxAbs      float64 // absolute KRW ceiling for a single buy
	MinAbs      float64 // minimum notional a buy must clear
	ManualDiscount float64 // manual sell discount below current price
	AutoDiscount   float64 // auto (stop/target) sell discount, faster fill
}

// DefaultConfig matches spec.md §4.7's stated ranges.
func DefaultConfig() Config {
	return Config{
		BaseRatio: 0.05, MaxRatio: 0.20, MaxAbs: 3_000_000, MinAbs: 100_000,
		ManualDiscount: 0.003, AutoDiscount: 0.008,
	}
}

// Position is spec.md §3's Position record.
type Position struct {
	Symbol   string
	Quantity int64
	AvgCost  float64
	OpenedAt time.Time
	Strategy string
	Source   string // BOT or EXISTING
}

// SellKind distinguishes a manual sell from an automatic stop/target exit.
type SellKind string

const (
	SellManual SellKind = "MANUAL"
	SellAuto   SellKind = "AUTO"
)

// Executor is the Trade Executor (spec.md §4.7).
type Executor struct {
	mu sync.Mutex

	cfg    Config
	col    *collector.Collector
	brk    broker.Broker
	str    store.Store
	log    *logging.Logger

	positions     map[string]*Position
	pendingOrders map[string]bool // symbol -> in-flight, for buy dedupe
	paused        bool            // operator pause/resume hook (spec.md §6)
}

// New builds an Executor.
func New(cfg Config, col *collector.Collector, brk broker.Broker, str store.Store) *Executor {
	return &Executor{
		cfg: cfg, col: col, brk: brk, str: str,
		positions:     make(map[string]*Position),
		pendingOrders: make(map[string]bool),
		log:           logging.WithComponent("executor"),
	}
}

// SnapTick floors price down to the tick size of its price band (spec.md
// §4.7 invariant, Glossary "Tick"): <1k->1, <5k->5, <10k->10, <50k->50,
// <100k->100, <500k->500, else 1000. Per spec.md's worked examples
// (999->999, 4999->4995, 9999->9990) this truncates toward zero rather
// than rounding to the nearest tick.
func SnapTick(price float64) float64 {
	tick := tickSizeFor(price)
	d := decimal.NewFromFloat(price)
	t := decimal.NewFromFloat(tick)
	snapped := d.Div(t).Floor().Mul(t)
	f, _ := snapped.Float64()
	return f
}

func tickSizeFor(price float64) float64 {
	switch {
	case price < 1_000:
		return 1
	case price < 5_000:
		return 5
	case price < 10_000:
		return 10
	case price < 50_000:
		return 50
	case price < 100_000:
		return 100
	case price < 500_000:
		return 500
	default:
		return 1000
	}
}

// StrategyParams carries the per-strategy pricing/sizing knobs spec.md
// §4.7 names but leaves to strategy configuration: premium, volatility
// adjustment, strategy multiplier, and signal strength.
type StrategyParams struct {
	Premium       float64 // e.g. 0.003 for +0.3%
	VolatilityAdj float64
	StrategyMult  float64
	Strength      float64 // Signal.strength, in [0,1]
}

// BuyRequest is the validated input to Buy.
type BuyRequest struct {
	Symbol   string
	Strategy string
	Params   StrategyParams
	Cash     float64
	// SelectedStockID links the resulting trade to the SelectedStock row
	// for this symbol-of-day, if any (spec.md §4.7 step 5).
	SelectedStockID *int64
}

// Pause stops Buy from opening new positions; open positions are left
// alone and Sell still works, so an existing book can still be unwound
// while paused (spec.md §6's pause/resume operator hook).
func (e *Executor) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
	e.log.Info("trading paused")
}

// Resume re-enables Buy after Pause.
func (e *Executor) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	e.log.Info("trading resumed")
}

// Paused reports whether Buy is currently refusing new positions.
func (e *Executor) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Buy implements spec.md §4.7's buy pipeline.
func (e *Executor) Buy(ctx context.Context, req BuyRequest) (store.Trade, error) {
	e.mu.Lock()
	if e.paused {
		e.mu.Unlock()
		return store.Trade{}, apperr.New(apperr.Validation, "trading is paused")
	}
	if req.Symbol == "" {
		e.mu.Unlock()
		return store.Trade{}, apperr.New(apperr.Validation, "symbol is required")
	}
	if _, open := e.positions[req.Symbol]; open {
		e.mu.Unlock()
		return store.Trade{}, apperr.New(apperr.Validation, "already long "+req.Symbol)
	}
	if e.pendingOrders[req.Symbol] {
		e.mu.Unlock()
		return store.Trade{}, apperr.New(apperr.Validation, "order already pending for "+req.Symbol)
	}
	e.pendingOrders[req.Symbol] = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.pendingOrders, req.Symbol)
		e.mu.Unlock()
	}()

	res := e.col.GetCurrentPrice(ctx, req.Symbol)
	if res.Status != collector.StatusSuccess {
		return store.Trade{}, apperr.New(apperr.StaleData, "no usable price for "+req.Symbol+": "+res.Diagnostic)
	}
	current := res.Quote.Price

	premium := clamp(req.Params.Premium+req.Params.VolatilityAdj, 0.001, 0.010)
	limitPrice := SnapTick(current * (1 + premium))

	budget := req.Cash * e.cfg.BaseRatio * req.Params.StrategyMult * req.Params.Strength
	if max := req.Cash * e.cfg.MaxRatio; budget > max {
		budget = max
	}
	if budget > e.cfg.MaxAbs {
		budget = e.cfg.MaxAbs
	}
	if limitPrice <= 0 {
		return store.Trade{}, apperr.New(apperr.Validation, "non-positive limit price for "+req.Symbol)
	}
	qty := int64(budget / limitPrice)
	if float64(qty)*limitPrice < e.cfg.MinAbs {
		return store.Trade{}, apperr.New(apperr.InsufficientFunds, "order notional below minimum for "+req.Symbol)
	}
	// Re-snap to the cash ceiling: qty must not push notional past budget.
	for float64(qty)*limitPrice > budget && qty > 0 {
		qty--
	}
	if qty <= 0 {
		return store.Trade{}, apperr.New(apperr.InsufficientFunds, "insufficient cash for a minimum lot of "+req.Symbol)
	}

	placeRes, err := e.brk.PlaceOrder(ctx, req.Symbol, broker.Buy, qty, limitPrice)
	if err != nil {
		return store.Trade{}, apperr.Wrap(apperr.BrokerRejected, "place buy order", err)
	}

	trade := store.Trade{
		Side: "BUY", Symbol: req.Symbol, Qty: qty, Price: limitPrice, Total: float64(qty) * limitPrice,
		Strategy: req.Strategy, Timestamp: time.Now(), BrokerOrderID: placeRes.BrokerOrderID, Status: "ACCEPTED",
	}
	id, err := e.str.RecordBuy(ctx, trade)
	if err != nil {
		return store.Trade{}, apperr.Wrap(apperr.StoreBusy, "record buy", err)
	}
	trade.ID = id

	if req.SelectedStockID != nil {
		if linkErr := e.str.MarkSelectedStockTraded(ctx, *req.SelectedStockID, id); linkErr != nil {
			e.log.Warn("failed to link trade %d to selected stock %d: %v", id, *req.SelectedStockID, linkErr)
		}
	}

	e.mu.Lock()
	e.positions[req.Symbol] = &Position{Symbol: req.Symbol, Quantity: qty, AvgCost: limitPrice, OpenedAt: time.Now(), Strategy: req.Strategy, Source: "BOT"}
	e.mu.Unlock()

	return trade, nil
}

// SellRequest is the validated input to Sell.
type SellRequest struct {
	Symbol          string
	Kind            SellKind
	BrokerHoldingQty int64
}

// Sell implements spec.md §4.7's sell pipeline (manual and auto share
// this path; only the discount differs).
func (e *Executor) Sell(ctx context.Context, req SellRequest) (store.Trade, error) {
	e.mu.Lock()
	pos, open := e.positions[req.Symbol]
	e.mu.Unlock()
	if !open {
		return store.Trade{}, apperr.New(apperr.Validation, "no active position for "+req.Symbol)
	}

	qty := pos.Quantity
	if req.BrokerHoldingQty < qty {
		qty = req.BrokerHoldingQty
	}
	if qty <= 0 {
		return store.Trade{}, apperr.New(apperr.Validation, "no sellable quantity for "+req.Symbol)
	}

	res := e.col.GetCurrentPrice(ctx, req.Symbol)
	if res.Status != collector.StatusSuccess {
		return store.Trade{}, apperr.New(apperr.StaleData, "no usable price for "+req.Symbol+": "+res.Diagnostic)
	}

	discount := e.cfg.ManualDiscount
	if req.Kind == SellAuto {
		discount = e.cfg.AutoDiscount
	}
	limitPrice := SnapTick(res.Quote.Price * (1 - discount))

	placeRes, err := e.brk.PlaceOrder(ctx, req.Symbol, broker.Sell, qty, limitPrice)
	if err != nil {
		return store.Trade{}, apperr.Wrap(apperr.BrokerRejected, "place sell order", err)
	}

	trade := store.Trade{
		Side: "SELL", Symbol: req.Symbol, Qty: qty, Price: limitPrice, Total: float64(qty) * limitPrice,
		Strategy: pos.Strategy, Timestamp: time.Now(), BrokerOrderID: placeRes.BrokerOrderID, Status: "ACCEPTED",
	}
	id, err := e.str.RecordSell(ctx, trade)
	if err != nil {
		return store.Trade{}, apperr.Wrap(apperr.StoreBusy, "record sell", err)
	}
	trade.ID = id

	e.mu.Lock()
	if qty >= pos.Quantity {
		delete(e.positions, req.Symbol)
	} else {
		pos.Quantity -= qty
	}
	e.mu.Unlock()

	return trade, nil
}

// Positions returns a snapshot of open positions.
func (e *Executor) Positions() []Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	return out
}

// AdoptExisting registers a pre-existing broker holding as a Position
// with Source=EXISTING (SPEC_FULL.md §12 boot-time reconciliation),
// distinct from positions this process opened itself.
func (e *Executor) AdoptExisting(h broker.Holding) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.positions[h.Symbol]; ok {
		return
	}
	e.positions[h.Symbol] = &Position{Symbol: h.Symbol, Quantity: h.Qty, AvgCost: h.AvgCost, OpenedAt: time.Now(), Source: "EXISTING"}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
