// Package store implements the durable, crash-safe Trade Store
// (spec.md §4.6/§6), grounded on internal/database/db.go (pool
// construction, migration runner shape) and internal/database/repository.go
// (CRUD method naming, upsert-on-conflict idiom). Where the teacher backs
// onto Postgres only, this package is split behind one Store interface
// with two drivers: modernc.org/sqlite (the default, embedded backend —
// matches spec.md §9's stale-WAL-cleanup design note literally) and
// pgx/v5+pgxpool (kept for an externalized deployment).
package store

import (
	"context"
	"time"
)

// Trade is spec.md §3/§6's persisted trade record.
type Trade struct {
	ID            int64
	Side          string
	Symbol        string
	Name          string
	Qty           int64
	Price         float64
	Total         float64
	Strategy      string
	Timestamp     time.Time
	BrokerOrderID string
	Status        string
	Error         string
	BuyTradeID    *int64
	PnL           *float64
	PnLRate       *float64
	HoldMinutes   *int64
	MarketJSON    string
	TechJSON      string
	Notes         string
}

// DailySummary is the (date)-keyed rollup.
type DailySummary struct {
	Date       string
	Total      int64
	Buys       int64
	Sells      int64
	PnL        float64
	PnLRate    float64
	Wins       int64
	Losses     int64
	LargestWin float64
	LargestLoss float64
}

// SelectedStock is one slot's persisted candidate snapshot.
type SelectedStock struct {
	ID              int64
	Date            string
	Slot            string
	SlotStart       time.Time
	SlotEnd         time.Time
	Symbol          string
	Name            string
	Strategy        string
	Score           float64
	Reason          string
	RankInStrategy  int
	CurrentPrice    float64
	ChangeRate      float64
	Volume          int64
	VolumeRatio     float64
	GapRate         float64
	Momentum        float64
	BreakoutVolume  bool
	TechJSON        string
	Activated       bool
	ActivatedOK     bool
	Traded          bool
	TradeID         *int64
	CreatedAt       time.Time
	Notes           string
}

// TimeSlotSummary is the (date, slot)-keyed rollup.
type TimeSlotSummary struct {
	Date              string
	Slot              string
	Total             int64
	PerStrategyCounts map[string]int64
	PnLTotal          float64
	AvgScore          float64
}

// Store is the Trade Store's public contract (spec.md §4.6).
type Store interface {
	// RecordBuy inserts a BUY trade row and returns its id.
	RecordBuy(ctx context.Context, t Trade) (int64, error)
	// RecordSell inserts a SELL trade row, linking it to the earliest
	// unconsumed BUY of the same symbol via FIFO (spec.md §4.6), and
	// computing pnl/pnl_rate/hold_minutes. Returns the new row's id.
	RecordSell(ctx context.Context, t Trade) (int64, error)

	UpsertDailySummary(ctx context.Context, s DailySummary) error
	UpsertTimeSlotSummary(ctx context.Context, s TimeSlotSummary) error

	InsertSelectedStock(ctx context.Context, s SelectedStock) (int64, error)
	MarkSelectedStockTraded(ctx context.Context, id, tradeID int64) error

	ListTradesSince(ctx context.Context, since time.Time) ([]Trade, error)
	GetDailySummary(ctx context.Context, date string) (DailySummary, bool, error)

	Close() error
}
