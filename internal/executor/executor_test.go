package executor

import (
	"context"
	"testing"
	"time"

	"github.com/tgparkk/stockbot/internal/broker"
	"github.com/tgparkk/stockbot/internal/cache"
	"github.com/tgparkk/stockbot/internal/collector"
	"github.com/tgparkk/stockbot/internal/store"
)

func newTestExecutor(t *testing.T) (*Executor, *broker.MockClient, store.Store) {
	t.Helper()
	c := cache.New(cache.DefaultConfig(), nil)
	mock := broker.NewMockClient()
	col := collector.New(c, mock, true)
	st, err := store.NewSQLiteStore(t.TempDir() + "/trades.db")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(DefaultConfig(), col, mock, st), mock, st
}

func TestSnapTickBoundaries(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{999, 999},
		{1000, 1000},
		{4999, 4995},
		{5000, 5000},
		{9999, 9990},
		{10000, 10000},
		{49980, 49950},
		{99960, 99900},
		{499800, 499500},
		{1_000_300, 1_000_000},
	}
	for _, c := range cases {
		if got := SnapTick(c.in); got != c.want {
			t.Errorf("SnapTick(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestBuySizesWithinRatiosAndPlacesOrder(t *testing.T) {
	e, mock, _ := newTestExecutor(t)
	ctx := context.Background()
	mock.Quotes["005930"] = broker.Quote{Symbol: "005930", Price: 70000, Timestamp: time.Now()}

	trade, err := e.Buy(ctx, BuyRequest{
		Symbol: "005930", Strategy: "momentum",
		Params: StrategyParams{Premium: 0.003, StrategyMult: 1, Strength: 1},
		Cash:   10_000_000,
	})
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if trade.Qty <= 0 {
		t.Fatalf("expected positive qty, got %d", trade.Qty)
	}
	if trade.Total > 10_000_000*DefaultConfig().MaxRatio {
		t.Fatalf("total %v exceeds max ratio ceiling", trade.Total)
	}
	if len(mock.PlacedOrders) != 1 || mock.PlacedOrders[0].Side != broker.Buy {
		t.Fatalf("expected one buy order placed, got %+v", mock.PlacedOrders)
	}

	positions := e.Positions()
	if len(positions) != 1 || positions[0].Symbol != "005930" {
		t.Fatalf("expected one open position, got %+v", positions)
	}
}

func TestBuyRejectsDuplicateWhileAlreadyLong(t *testing.T) {
	e, mock, _ := newTestExecutor(t)
	ctx := context.Background()
	mock.Quotes["005930"] = broker.Quote{Symbol: "005930", Price: 70000, Timestamp: time.Now()}

	if _, err := e.Buy(ctx, BuyRequest{Symbol: "005930", Params: StrategyParams{Premium: 0.003, StrategyMult: 1, Strength: 1}, Cash: 10_000_000}); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	if _, err := e.Buy(ctx, BuyRequest{Symbol: "005930", Params: StrategyParams{Premium: 0.003, StrategyMult: 1, Strength: 1}, Cash: 10_000_000}); err == nil {
		t.Fatal("expected rejection for already-long symbol")
	}
}

func TestBuyInsufficientFundsBelowMinimum(t *testing.T) {
	e, mock, _ := newTestExecutor(t)
	ctx := context.Background()
	mock.Quotes["005930"] = broker.Quote{Symbol: "005930", Price: 70000, Timestamp: time.Now()}

	_, err := e.Buy(ctx, BuyRequest{
		Symbol: "005930", Params: StrategyParams{Premium: 0.003, StrategyMult: 1, Strength: 0.001}, Cash: 10_000_000,
	})
	if err == nil {
		t.Fatal("expected insufficient-funds rejection for a tiny budget")
	}
}

func TestSellClosesPositionAndRecordsTrade(t *testing.T) {
	e, mock, _ := newTestExecutor(t)
	ctx := context.Background()
	mock.Quotes["005930"] = broker.Quote{Symbol: "005930", Price: 70000, Timestamp: time.Now()}

	buy, err := e.Buy(ctx, BuyRequest{Symbol: "005930", Params: StrategyParams{Premium: 0.003, StrategyMult: 1, Strength: 1}, Cash: 10_000_000})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	mock.Quotes["005930"] = broker.Quote{Symbol: "005930", Price: 75000, Timestamp: time.Now()}
	sell, err := e.Sell(ctx, SellRequest{Symbol: "005930", Kind: SellManual, BrokerHoldingQty: buy.Qty})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if sell.Qty != buy.Qty {
		t.Fatalf("sell qty = %d, want %d", sell.Qty, buy.Qty)
	}
	if len(e.Positions()) != 0 {
		t.Fatalf("expected position closed, got %+v", e.Positions())
	}
}

func TestSellWithNoPositionIsRejected(t *testing.T) {
	e, _, _ := newTestExecutor(t)
	if _, err := e.Sell(context.Background(), SellRequest{Symbol: "005930", Kind: SellManual, BrokerHoldingQty: 10}); err == nil {
		t.Fatal("expected rejection for sell with no open position")
	}
}

func TestSweepStaleOrdersCancelsOldUnfilled(t *testing.T) {
	e, mock, _ := newTestExecutor(t)
	mock.DayOrders = []broker.DayOrder{
		{BrokerOrderID: "1", Symbol: "005930", RemainingQty: 10, RoutingOrgNo: "00950", SubmittedAt: time.Now().Add(-10 * time.Minute)},
		{BrokerOrderID: "2", Symbol: "000660", RemainingQty: 5, SubmittedAt: time.Now()},
	}
	e.pendingOrders["005930"] = true

	swept, err := e.SweepStaleOrders(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(swept) != 1 || swept[0].BrokerOrderID != "1" {
		t.Fatalf("expected only the stale order swept, got %+v", swept)
	}
	if e.pendingOrders["005930"] {
		t.Fatal("expected pending-order entry cleared after sweep")
	}
}
