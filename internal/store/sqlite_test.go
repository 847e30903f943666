package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trades.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordBuyThenSellFIFOLinkage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	buyID, err := s.RecordBuy(ctx, Trade{
		Symbol: "005930", Qty: 10, Price: 70000, Total: 700000,
		Strategy: "momentum", Timestamp: time.Now().Add(-time.Hour), Status: "FILLED",
	})
	if err != nil {
		t.Fatalf("RecordBuy: %v", err)
	}

	sellID, err := s.RecordSell(ctx, Trade{
		Symbol: "005930", Qty: 10, Price: 72000, Total: 720000,
		Strategy: "momentum", Timestamp: time.Now(), Status: "FILLED",
	})
	if err != nil {
		t.Fatalf("RecordSell: %v", err)
	}
	if sellID == 0 {
		t.Fatal("expected non-zero sell id")
	}

	trades, err := s.ListTradesSince(ctx, time.Now().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("ListTradesSince: %v", err)
	}
	var sell *Trade
	for i := range trades {
		if trades[i].ID == sellID {
			sell = &trades[i]
		}
	}
	if sell == nil {
		t.Fatal("sell row not found")
	}
	if sell.BuyTradeID == nil || *sell.BuyTradeID != buyID {
		t.Fatalf("expected sell linked to buy %d, got %v", buyID, sell.BuyTradeID)
	}
	if sell.PnL == nil || *sell.PnL != 20000 {
		t.Fatalf("expected pnl 20000, got %v", sell.PnL)
	}
}

func TestRecordSellQuantityMismatchNoRowSplit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	buyID, err := s.RecordBuy(ctx, Trade{
		Symbol: "005930", Qty: 5, Price: 70000, Total: 350000,
		Timestamp: time.Now().Add(-time.Hour), Status: "FILLED",
	})
	if err != nil {
		t.Fatalf("RecordBuy: %v", err)
	}

	// Sell quantity (10) exceeds the BUY's quantity (5) — per spec.md
	// §4.6 this still attributes to the first unconsumed BUY, no split.
	sellID, err := s.RecordSell(ctx, Trade{
		Symbol: "005930", Qty: 10, Price: 72000, Total: 720000,
		Timestamp: time.Now(), Status: "FILLED",
	})
	if err != nil {
		t.Fatalf("RecordSell: %v", err)
	}

	trades, _ := s.ListTradesSince(ctx, time.Now().Add(-2*time.Hour))
	if len(trades) != 2 {
		t.Fatalf("expected exactly 2 rows (no split), got %d", len(trades))
	}
	for _, tr := range trades {
		if tr.ID == sellID && (tr.BuyTradeID == nil || *tr.BuyTradeID != buyID) {
			t.Fatalf("sell not linked to sole buy %d: %v", buyID, tr.BuyTradeID)
		}
	}
}

func TestUpsertDailySummaryIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertDailySummary(ctx, DailySummary{Date: "2026-07-31", Total: 1, Buys: 1, PnL: 100}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertDailySummary(ctx, DailySummary{Date: "2026-07-31", Total: 2, Buys: 1, Sells: 1, PnL: 250}); err != nil {
		t.Fatalf("upsert 2: %v", err)
	}

	sum, ok, err := s.GetDailySummary(ctx, "2026-07-31")
	if err != nil || !ok {
		t.Fatalf("GetDailySummary: ok=%v err=%v", ok, err)
	}
	if sum.Total != 2 || sum.PnL != 250 {
		t.Fatalf("expected latest upsert to win, got %+v", sum)
	}
}

func TestInsertAndMarkSelectedStockTraded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.InsertSelectedStock(ctx, SelectedStock{
		Date: "2026-07-31", Slot: "mid_market", Symbol: "005930", Strategy: "momentum",
		Score: 0.8, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("InsertSelectedStock: %v", err)
	}

	if err := s.MarkSelectedStockTraded(ctx, id, 42); err != nil {
		t.Fatalf("MarkSelectedStockTraded: %v", err)
	}
}
