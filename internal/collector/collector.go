// Package collector implements the unified read path over the cache and
// broker (spec.md §4.4), new composition grounded on the staleness-check
// idiom in internal/binance/market_data_cache.go, generalized into the
// explicit 4-step precedence the specification requires.
package collector

import (
	"context"
	"sync"
	"time"

	"github.com/tgparkk/stockbot/internal/apperr"
	"github.com/tgparkk/stockbot/internal/broker"
	"github.com/tgparkk/stockbot/internal/cache"
	"github.com/tgparkk/stockbot/internal/logging"
)

// Status is the outcome tag on every Result the collector returns. The
// collector itself never panics or returns a bare error to callers that
// use Result-returning methods — failures are reported in-band (spec.md §4.4).
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result is the typed envelope every read operation returns.
type Result struct {
	Status     Status
	Message    string
	Source     cache.Source
	Diagnostic string
	Quote      broker.Quote
}

// Callback tolerates both 2-arg (symbol, data) and 3-arg
// (event_type, symbol, data) shapes via the two dedicated registration
// methods below; Go does not support variadic-shape callback signatures,
// so the spec's dynamic-language tolerance is expressed as two distinct
// entry points feeding the same internal dispatch.
type Callback func(symbol string, q broker.Quote)
type CallbackWithType func(eventType string, symbol string, q broker.Quote)

// Collector is the unified read path (spec.md §4.4).
type Collector struct {
	mu sync.RWMutex

	cache  *cache.Cache
	broker broker.Broker
	log    *logging.Logger

	useCache bool

	subs map[string][]dispatcher
}

type dispatcher struct {
	plain   Callback
	typed   CallbackWithType
}

// New builds a Collector over cache c and broker client b. useCache
// controls whether a Broker failure falls back to a stale cache value
// (spec.md §4.4 step 4).
func New(c *cache.Cache, b broker.Broker, useCache bool) *Collector {
	return &Collector{
		cache:    c,
		broker:   b,
		useCache: useCache,
		subs:     make(map[string][]dispatcher),
		log:      logging.WithComponent("collector"),
	}
}

// GetCurrentPrice implements the 4-step precedence of spec.md §4.4.
func (col *Collector) GetCurrentPrice(ctx context.Context, symbol string) Result {
	if age, ok := col.cache.QuoteAge(symbol); ok {
		if col.cache.IsStreamFresh(symbol) {
			q, _ := col.cache.GetQuote(symbol)
			return Result{Status: StatusSuccess, Source: cache.SourceCache, Quote: toBrokerQuote(q), Message: "from_cache=true"}
		}
		if age < 30*time.Second {
			q, _ := col.cache.GetQuote(symbol)
			if q.Source == cache.SourceStream {
				return Result{Status: StatusSuccess, Source: cache.SourceCache, Quote: toBrokerQuote(q), Message: "stream, stale but used"}
			}
		}
	}

	q, err := col.broker.GetQuote(ctx, symbol)
	if err != nil {
		if col.useCache {
			if cached, ok := col.cache.GetQuote(symbol); ok {
				return Result{
					Status: StatusError, Source: cache.SourceCache, Quote: toBrokerQuote(cached),
					Message: "broker failure, served stale cache", Diagnostic: err.Error(),
				}
			}
		}
		return Result{Status: StatusError, Message: "broker failure, no cache available", Diagnostic: err.Error()}
	}

	col.cache.PutQuote(cache.Quote{
		Symbol: q.Symbol, Price: q.Price, ChangeRate: q.ChangeRate, Volume: q.Volume,
		Open: q.Open, High: q.High, Low: q.Low, PrevClose: q.PrevClose,
		Source: cache.SourceREST, Timestamp: q.Timestamp,
	})
	return Result{Status: StatusSuccess, Source: cache.SourceREST, Quote: q, Message: "from_cache=false"}
}

// GetOrderbook uses a simple cache-first policy, no anti-overwrite rule.
func (col *Collector) GetOrderbook(ctx context.Context, symbol string) (broker.Orderbook, error) {
	if ob, _, ok := col.cache.GetOrderbook(symbol); ok {
		return toBrokerOrderbook(ob), nil
	}
	ob, err := col.broker.GetOrderbook(ctx, symbol)
	if err != nil {
		return broker.Orderbook{}, apperr.Wrap(apperr.Transport, "get orderbook", err)
	}
	col.cache.PutOrderbook(fromBrokerOrderbook(ob))
	return ob, nil
}

// dailyKey namespaces the daily-series cache by symbol and period so a
// daily and weekly series for the same symbol don't collide.
func dailyKey(symbol string, period broker.Period) string {
	return symbol + ":" + string(period)
}

// GetDailySeries uses a simple cache-first policy, no anti-overwrite rule.
func (col *Collector) GetDailySeries(ctx context.Context, symbol string, period broker.Period, n int) ([]broker.DailyRow, error) {
	key := dailyKey(symbol, period)
	if rows, _, ok := col.cache.GetDaily(key); ok && len(rows) >= n {
		return toBrokerDailyRows(rows), nil
	}
	rows, err := col.broker.GetDailySeries(ctx, symbol, period, n)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transport, "get daily series", err)
	}
	col.cache.PutDaily(key, fromBrokerDailyRows(rows))
	return rows, nil
}

// SubscribeRealtime registers cb for symbol's stream trade events. On
// each event the cache is updated then every registered callback for the
// symbol is fanned out.
func (col *Collector) SubscribeRealtime(symbol string, cb Callback) {
	col.mu.Lock()
	defer col.mu.Unlock()
	col.subs[symbol] = append(col.subs[symbol], dispatcher{plain: cb})
}

// SubscribeRealtimeTyped registers the 3-arg (event_type, symbol, data) shape.
func (col *Collector) SubscribeRealtimeTyped(symbol string, cb CallbackWithType) {
	col.mu.Lock()
	defer col.mu.Unlock()
	col.subs[symbol] = append(col.subs[symbol], dispatcher{typed: cb})
}

// OnStreamTrade is invoked by internal/stream on every TRADE event. It
// updates the cache then fans out to all registered callbacks.
func (col *Collector) OnStreamTrade(symbol string, q broker.Quote) {
	col.cache.PutQuote(cache.Quote{
		Symbol: q.Symbol, Price: q.Price, ChangeRate: q.ChangeRate, Volume: q.Volume,
		Open: q.Open, High: q.High, Low: q.Low, PrevClose: q.PrevClose,
		Source: cache.SourceStream, Timestamp: q.Timestamp,
	})

	col.mu.RLock()
	dispatchers := append([]dispatcher(nil), col.subs[symbol]...)
	col.mu.RUnlock()

	for _, d := range dispatchers {
		switch {
		case d.plain != nil:
			d.plain(symbol, q)
		case d.typed != nil:
			d.typed("TRADE", symbol, q)
		}
	}
}

func toBrokerQuote(q cache.Quote) broker.Quote {
	return broker.Quote{
		Symbol: q.Symbol, Price: q.Price, ChangeRate: q.ChangeRate, Volume: q.Volume,
		Open: q.Open, High: q.High, Low: q.Low, PrevClose: q.PrevClose, Timestamp: q.Timestamp,
	}
}

func toBrokerOrderbook(ob cache.Orderbook) broker.Orderbook {
	var out broker.Orderbook
	out.Symbol = ob.Symbol
	out.AskTotal, out.BidTotal = ob.AskTotal, ob.BidTotal
	out.CapturedAt = ob.CapturedAt
	for i := range ob.Asks {
		out.Asks[i] = broker.OrderbookLevel{Price: ob.Asks[i].Price, Size: ob.Asks[i].Size}
	}
	for i := range ob.Bids {
		out.Bids[i] = broker.OrderbookLevel{Price: ob.Bids[i].Price, Size: ob.Bids[i].Size}
	}
	return out
}

func fromBrokerOrderbook(ob broker.Orderbook) cache.Orderbook {
	var out cache.Orderbook
	out.Symbol = ob.Symbol
	out.AskTotal, out.BidTotal = ob.AskTotal, ob.BidTotal
	out.CapturedAt = ob.CapturedAt
	out.Source = cache.SourceREST
	for i := range ob.Asks {
		out.Asks[i] = cache.OrderbookLevel{Price: ob.Asks[i].Price, Size: ob.Asks[i].Size}
	}
	for i := range ob.Bids {
		out.Bids[i] = cache.OrderbookLevel{Price: ob.Bids[i].Price, Size: ob.Bids[i].Size}
	}
	return out
}

func toBrokerDailyRows(rows []cache.DailyRow) []broker.DailyRow {
	out := make([]broker.DailyRow, len(rows))
	for i, r := range rows {
		out[i] = broker.DailyRow{
			Date: r.Date, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume,
		}
	}
	return out
}

func fromBrokerDailyRows(rows []broker.DailyRow) []cache.DailyRow {
	out := make([]cache.DailyRow, len(rows))
	for i, r := range rows {
		out[i] = cache.DailyRow{
			Date: r.Date, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume,
		}
	}
	return out
}
