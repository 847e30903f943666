// Package broker is the typed wrapper over the brokerage REST endpoints
// (spec.md §4.2 / Component B). Wire format and authentication are
// deliberately out of scope per spec.md §1 ("brokerage REST/WebSocket wire
// details... out of scope") — this package exposes only the behavioral
// contracts the core consumes, grounded on the shape of
// internal/binance/client.go (typed request/response structs, one method
// per logical call) adapted from Binance futures endpoints to the Korean
// equities endpoints spec.md §4.2 and §6 name.
package broker

import "time"

// Side is a buy/sell order side.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Market selects a screening universe.
type Market string

const (
	MarketAll    Market = "ALL"
	MarketKOSPI  Market = "KOSPI"
	MarketKOSDAQ Market = "KOSDAQ"
)

// OrderState is spec.md §3's Order.state enum.
type OrderState string

const (
	OrderPending   OrderState = "PENDING"
	OrderAccepted  OrderState = "ACCEPTED"
	OrderFilled    OrderState = "FILLED"
	OrderPartial   OrderState = "PARTIAL"
	OrderCancelled OrderState = "CANCELLED"
	OrderRejected  OrderState = "REJECTED"
	OrderExpired   OrderState = "EXPIRED"
)

// Quote is the broker's response to get_quote.
type Quote struct {
	Symbol     string
	Price      float64
	ChangeRate float64
	Volume     int64
	Open       float64
	High       float64
	Low        float64
	PrevClose  float64
	Timestamp  time.Time
}

// OrderbookLevel is one (price, size) rung.
type OrderbookLevel struct {
	Price float64
	Size  int64
}

// Orderbook is the broker's response to get_orderbook: ten levels each side.
type Orderbook struct {
	Symbol     string
	Asks       [10]OrderbookLevel
	Bids       [10]OrderbookLevel
	AskTotal   int64
	BidTotal   int64
	CapturedAt time.Time
}

// DailyRow is one OHLCV row, oldest-to-newest within a series.
type DailyRow struct {
	Date   string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Period selects the daily-series granularity.
type Period string

const (
	PeriodDay   Period = "D"
	PeriodWeek  Period = "W"
	PeriodMonth Period = "M"
)

// PlaceOrderResult is place_order's success response.
type PlaceOrderResult struct {
	BrokerOrderID string
	// RoutingOrgNo is the organization/routing number the broker returns
	// with the order, required later to cancel it (spec.md §4.2's
	// cancel_order "org_no" parameter, and SPEC_FULL.md §12's stale-order
	// sweep — see internal/executor/sweep.go).
	RoutingOrgNo string
}

// DayOrder is one row of list_day_orders.
type DayOrder struct {
	BrokerOrderID string
	Symbol        string
	Side          Side
	Qty           int64
	FilledQty     int64
	RemainingQty  int64
	LimitPrice    float64
	SubmittedAt   time.Time
	Cancelled     bool
	RoutingOrgNo  string
}

// Holding is one line of get_balance's holdings array.
type Holding struct {
	Symbol  string
	Qty     int64
	AvgCost float64
}

// Balance is get_balance's response.
type Balance struct {
	TotalValue     float64
	CashAvailable  float64
	StockValue     float64
	UnrealizedPnL  float64
	Holdings       []Holding
}

// ScreenedItem is one ranked row within a screen_market category.
type ScreenedItem struct {
	Symbol          string
	Name            string
	ChangeRate      float64
	Volume          int64
	VolumeRatio     float64
	GapRate         float64
	TechnicalScore  float64
	Reason          string
}

// ScreenResult is screen_market's response: four ranked category lists.
type ScreenResult struct {
	Gap       []ScreenedItem
	Volume    []ScreenedItem
	Momentum  []ScreenedItem
	Technical []ScreenedItem
}
