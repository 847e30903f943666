package broker

import "context"

// Broker is the behavioral contract spec.md §4.2 names. Implementations
// are expected to rate-limit themselves: "no caller-visible back-pressure
// beyond sleeping between calls."
type Broker interface {
	GetQuote(ctx context.Context, symbol string) (Quote, error)
	GetOrderbook(ctx context.Context, symbol string) (Orderbook, error)
	GetDailySeries(ctx context.Context, symbol string, period Period, n int) ([]DailyRow, error)
	PlaceOrder(ctx context.Context, symbol string, side Side, qty int64, limitPrice float64) (PlaceOrderResult, error)
	CancelOrder(ctx context.Context, brokerOrderID, orgNo string, side Side, qtyAll bool) error
	ListDayOrders(ctx context.Context) ([]DayOrder, error)
	GetBalance(ctx context.Context) (Balance, error)
	ScreenMarket(ctx context.Context, market Market) (ScreenResult, error)
}

// compile-time assertions
var _ Broker = (*Client)(nil)
var _ Broker = (*MockClient)(nil)
