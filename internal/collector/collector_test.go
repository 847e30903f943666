package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tgparkk/stockbot/internal/broker"
	"github.com/tgparkk/stockbot/internal/cache"
)

func TestGetCurrentPriceFreshStreamWins(t *testing.T) {
	c := cache.New(cache.DefaultConfig(), nil)
	c.PutQuote(cache.Quote{Symbol: "005930", Price: 71000, Source: cache.SourceStream, Timestamp: time.Now()})

	mock := broker.NewMockClient()
	mock.Quotes["005930"] = broker.Quote{Symbol: "005930", Price: 99999}

	col := New(c, mock, true)
	res := col.GetCurrentPrice(context.Background(), "005930")
	if res.Status != StatusSuccess || res.Quote.Price != 71000 {
		t.Fatalf("expected fresh stream price 71000, got %+v", res)
	}
	if len(mock.PlacedOrders) != 0 {
		// not applicable, just sanity that broker wasn't touched via orders
	}
}

func TestGetCurrentPriceFallsBackToBroker(t *testing.T) {
	c := cache.New(cache.DefaultConfig(), nil)
	mock := broker.NewMockClient()
	mock.Quotes["005930"] = broker.Quote{Symbol: "005930", Price: 71500, Timestamp: time.Now()}

	col := New(c, mock, true)
	res := col.GetCurrentPrice(context.Background(), "005930")
	if res.Status != StatusSuccess || res.Source != cache.SourceREST || res.Quote.Price != 71500 {
		t.Fatalf("expected REST fallback price 71500, got %+v", res)
	}
}

func TestGetCurrentPriceBrokerFailureUsesStaleCache(t *testing.T) {
	c := cache.New(cache.DefaultConfig(), nil)
	c.PutQuote(cache.Quote{Symbol: "005930", Price: 70000, Source: cache.SourceREST, Timestamp: time.Now().Add(-time.Hour)})

	mock := broker.NewMockClient()
	mock.QuoteErr = errors.New("broker down")

	col := New(c, mock, true)
	res := col.GetCurrentPrice(context.Background(), "005930")
	if res.Status != StatusError || res.Quote.Price != 70000 {
		t.Fatalf("expected stale-cache fallback on broker failure, got %+v", res)
	}
}

func TestOnStreamTradeFansOutToCallbacks(t *testing.T) {
	c := cache.New(cache.DefaultConfig(), nil)
	mock := broker.NewMockClient()
	col := New(c, mock, true)

	var got broker.Quote
	col.SubscribeRealtime("005930", func(symbol string, q broker.Quote) {
		got = q
	})

	col.OnStreamTrade("005930", broker.Quote{Symbol: "005930", Price: 72000, Timestamp: time.Now()})
	if got.Price != 72000 {
		t.Fatalf("callback did not receive trade, got %+v", got)
	}

	if !c.IsStreamFresh("005930") {
		t.Fatal("expected cache updated to stream-fresh after trade event")
	}
}
