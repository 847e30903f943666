package broker

import (
	"context"
	"strconv"
	"sync"
)

// MockClient is a configurable in-memory Broker used by tests across
// internal/collector, internal/executor, internal/discovery, and
// internal/scheduler, grounded on the teacher's internal/binance
// MockClient pattern referenced from interface.go's compile-time assertion.
type MockClient struct {
	mu sync.Mutex

	Quotes     map[string]Quote
	Orderbooks map[string]Orderbook
	Daily      map[string][]DailyRow
	Balance_   Balance
	Screen     ScreenResult
	DayOrders  []DayOrder

	QuoteErr   error
	OrderErr   error
	CancelErr  error

	PlacedOrders []PlaceOrderRequestRecord
	NextOrderID  int
}

// PlaceOrderRequestRecord records a call to PlaceOrder for test assertions.
type PlaceOrderRequestRecord struct {
	Symbol     string
	Side       Side
	Qty        int64
	LimitPrice float64
}

// NewMockClient builds an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{
		Quotes:     make(map[string]Quote),
		Orderbooks: make(map[string]Orderbook),
		Daily:      make(map[string][]DailyRow),
	}
}

func (m *MockClient) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QuoteErr != nil {
		return Quote{}, m.QuoteErr
	}
	q, ok := m.Quotes[symbol]
	if !ok {
		return Quote{}, errNotFound(symbol)
	}
	return q, nil
}

func (m *MockClient) GetOrderbook(ctx context.Context, symbol string) (Orderbook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ob, ok := m.Orderbooks[symbol]
	if !ok {
		return Orderbook{}, errNotFound(symbol)
	}
	return ob, nil
}

func (m *MockClient) GetDailySeries(ctx context.Context, symbol string, period Period, n int) ([]DailyRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.Daily[symbol]
	if len(rows) > n {
		rows = rows[len(rows)-n:]
	}
	return rows, nil
}

func (m *MockClient) PlaceOrder(ctx context.Context, symbol string, side Side, qty int64, limitPrice float64) (PlaceOrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OrderErr != nil {
		return PlaceOrderResult{}, m.OrderErr
	}
	m.NextOrderID++
	m.PlacedOrders = append(m.PlacedOrders, PlaceOrderRequestRecord{Symbol: symbol, Side: side, Qty: qty, LimitPrice: limitPrice})
	return PlaceOrderResult{
		BrokerOrderID: strconv.Itoa(m.NextOrderID),
		RoutingOrgNo:  "ORG" + strconv.Itoa(m.NextOrderID),
	}, nil
}

func (m *MockClient) CancelOrder(ctx context.Context, brokerOrderID, orgNo string, side Side, qtyAll bool) error {
	return m.CancelErr
}

func (m *MockClient) ListDayOrders(ctx context.Context) ([]DayOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.DayOrders, nil
}

func (m *MockClient) GetBalance(ctx context.Context) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Balance_, nil
}

func (m *MockClient) ScreenMarket(ctx context.Context, market Market) (ScreenResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Screen, nil
}

type notFoundErr struct{ symbol string }

func (e notFoundErr) Error() string { return "not found: " + e.symbol }

func errNotFound(symbol string) error { return notFoundErr{symbol: symbol} }
