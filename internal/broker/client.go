package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/tgparkk/stockbot/internal/apperr"
	"github.com/tgparkk/stockbot/internal/logging"
)

// Client is the typed HTTPS wrapper (spec.md §4.2), grounded on
// internal/binance/client.go's struct-of-(httpClient, credentials,
// baseURL) shape and one-method-per-endpoint layout, adapted from
// Binance's HMAC query-signing to the bearer-token auth a Korean brokerage
// REST API uses (wire format itself stays out of scope per spec.md §1).
type Client struct {
	httpClient *http.Client
	baseURL    string
	accountNo  string

	tokens  *TokenCache
	limiter *RateLimiter
	breaker *gobreaker.CircuitBreaker[any]
	log     *logging.Logger
}

// NewClient builds a Client. tokens supplies (and refreshes/caches) the
// bearer access token; the caller is responsible for having populated it
// via a prior OAuth exchange, which is itself a wire/auth detail out of
// scope per spec.md §1.
func NewClient(baseURL, accountNo string, tokens *TokenCache) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		accountNo:  accountNo,
		tokens:     tokens,
		limiter:    NewRateLimiter(1000, time.Minute, 75*time.Millisecond),
		breaker:    newBreaker("broker-rest"),
		log:        logging.WithComponent("broker"),
	}
}

func (c *Client) authHeader() (string, error) {
	tok, err := c.tokens.Get()
	if err != nil {
		return "", err
	}
	return "Bearer " + tok, nil
}

// do executes one REST call under the rate limiter and circuit breaker,
// translating transport/HTTP failures into the apperr taxonomy (spec.md §7).
func (c *Client) do(ctx context.Context, priority RequestPriority, weight int, method, path string, body, out interface{}) error {
	c.limiter.Wait(priority, weight)

	_, err := c.breaker.Execute(func() (any, error) {
		var reader io.Reader
		if body != nil {
			data, mErr := json.Marshal(body)
			if mErr != nil {
				return nil, apperr.Wrap(apperr.Validation, "encode request", mErr)
			}
			reader = bytes.NewReader(data)
		}

		req, rErr := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if rErr != nil {
			return nil, apperr.Wrap(apperr.Transport, "build request", rErr)
		}
		req.Header.Set("Content-Type", "application/json")
		if auth, aErr := c.authHeader(); aErr == nil {
			req.Header.Set("Authorization", auth)
		}

		resp, dErr := c.httpClient.Do(req)
		if dErr != nil {
			return nil, apperr.Wrap(apperr.Transport, "request failed", dErr)
		}
		defer resp.Body.Close()

		respBody, rdErr := io.ReadAll(resp.Body)
		if rdErr != nil {
			return nil, apperr.Wrap(apperr.Transport, "read response", rdErr)
		}

		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			return nil, apperr.New(apperr.RateLimited, "broker throttled the request")
		case http.StatusOK, http.StatusCreated:
			if out != nil {
				if err := json.Unmarshal(respBody, out); err != nil {
					return nil, apperr.Wrap(apperr.Transport, "decode response", err)
				}
			}
			return nil, nil
		case http.StatusForbidden, http.StatusUnauthorized:
			return nil, apperr.New(apperr.BrokerRejected, fmt.Sprintf("broker rejected request: %s", string(respBody)))
		default:
			return nil, apperr.New(apperr.BrokerRejected, fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(respBody)))
		}
	})

	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return apperr.Wrap(apperr.Transport, "circuit breaker open", err)
		}
		return err
	}
	return nil
}

type quoteWire struct {
	Symbol     string  `json:"symbol"`
	Price      float64 `json:"price"`
	ChangeRate float64 `json:"change_rate"`
	Volume     int64   `json:"volume"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	PrevClose  float64 `json:"prev_close"`
}

// GetQuote implements Broker.
func (c *Client) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	var w quoteWire
	if err := c.do(ctx, PriorityNormal, 1, http.MethodGet, "/quotations/price?symbol="+symbol, nil, &w); err != nil {
		return Quote{}, err
	}
	return Quote{
		Symbol: w.Symbol, Price: w.Price, ChangeRate: w.ChangeRate, Volume: w.Volume,
		Open: w.Open, High: w.High, Low: w.Low, PrevClose: w.PrevClose,
		Timestamp: time.Now(),
	}, nil
}

type orderbookWire struct {
	Symbol string `json:"symbol"`
	Asks   [10]OrderbookLevel `json:"asks"`
	Bids   [10]OrderbookLevel `json:"bids"`
	AskTotal int64 `json:"ask_total"`
	BidTotal int64 `json:"bid_total"`
}

// GetOrderbook implements Broker.
func (c *Client) GetOrderbook(ctx context.Context, symbol string) (Orderbook, error) {
	var w orderbookWire
	if err := c.do(ctx, PriorityNormal, 1, http.MethodGet, "/quotations/orderbook?symbol="+symbol, nil, &w); err != nil {
		return Orderbook{}, err
	}
	return Orderbook{
		Symbol: w.Symbol, Asks: w.Asks, Bids: w.Bids,
		AskTotal: w.AskTotal, BidTotal: w.BidTotal, CapturedAt: time.Now(),
	}, nil
}

// GetDailySeries implements Broker.
func (c *Client) GetDailySeries(ctx context.Context, symbol string, period Period, n int) ([]DailyRow, error) {
	var rows []DailyRow
	path := fmt.Sprintf("/quotations/daily?symbol=%s&period=%s&count=%d", symbol, period, n)
	if err := c.do(ctx, PriorityLow, 2, http.MethodGet, path, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

type placeOrderRequest struct {
	AccountNo     string  `json:"account_no"`
	Symbol        string  `json:"symbol"`
	Side          Side    `json:"side"`
	Qty           int64   `json:"qty"`
	LimitPrice    float64 `json:"limit_price"`
	ClientOrderID string  `json:"client_order_id"`
}

type placeOrderWire struct {
	BrokerOrderID string `json:"broker_order_id"`
	RoutingOrgNo  string `json:"routing_org_no"`
}

// PlaceOrder implements Broker. Each call generates a fresh client-assigned
// order ID, so IDs are unique per request; a caller that repeats a call
// after a lost response sends a new ID, and the broker cannot match it to
// the earlier request.
func (c *Client) PlaceOrder(ctx context.Context, symbol string, side Side, qty int64, limitPrice float64) (PlaceOrderResult, error) {
	req := placeOrderRequest{
		AccountNo: c.accountNo, Symbol: symbol, Side: side, Qty: qty, LimitPrice: limitPrice,
		ClientOrderID: uuid.New().String(),
	}
	var w placeOrderWire
	if err := c.do(ctx, PriorityCritical, 1, http.MethodPost, "/trading/order", req, &w); err != nil {
		return PlaceOrderResult{}, err
	}
	return PlaceOrderResult{BrokerOrderID: w.BrokerOrderID, RoutingOrgNo: w.RoutingOrgNo}, nil
}

type cancelOrderRequest struct {
	AccountNo     string `json:"account_no"`
	BrokerOrderID string `json:"broker_order_id"`
	OrgNo         string `json:"org_no"`
	Side          Side   `json:"side"`
	QtyAll        bool   `json:"qty_all"`
}

// CancelOrder implements Broker.
func (c *Client) CancelOrder(ctx context.Context, brokerOrderID, orgNo string, side Side, qtyAll bool) error {
	req := cancelOrderRequest{AccountNo: c.accountNo, BrokerOrderID: brokerOrderID, OrgNo: orgNo, Side: side, QtyAll: qtyAll}
	return c.do(ctx, PriorityCritical, 1, http.MethodPost, "/trading/cancel", req, nil)
}

// ListDayOrders implements Broker.
func (c *Client) ListDayOrders(ctx context.Context) ([]DayOrder, error) {
	var orders []DayOrder
	if err := c.do(ctx, PriorityHigh, 1, http.MethodGet, "/trading/orders?account_no="+c.accountNo, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetBalance implements Broker.
func (c *Client) GetBalance(ctx context.Context) (Balance, error) {
	var bal Balance
	if err := c.do(ctx, PriorityHigh, 5, http.MethodGet, "/trading/balance?account_no="+c.accountNo, nil, &bal); err != nil {
		return Balance{}, err
	}
	return bal, nil
}

// ScreenMarket implements Broker.
func (c *Client) ScreenMarket(ctx context.Context, market Market) (ScreenResult, error) {
	var res ScreenResult
	if err := c.do(ctx, PriorityLow, 10, http.MethodGet, "/quotations/screen?market="+string(market), nil, &res); err != nil {
		return ScreenResult{}, err
	}
	return res, nil
}
