// Package cache implements the in-process, source-tagged, freshness-aware
// key-value store described in spec.md §4.1. It is grounded on the
// teacher's internal/binance/market_data_cache.go (sync.Map namespaces,
// staleness check via time.Since), extended with explicit source tagging
// and the anti-overwrite rule the teacher's single-source cache never
// needed.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Source records how a cached value entered the cache.
type Source string

const (
	SourceStream Source = "STREAM"
	SourceREST   Source = "REST"
	SourceCache  Source = "CACHE"
)

// Quote is spec.md §3's Quote record.
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
	Source     Source
}

// OrderbookLevel is one (price, size) rung.
type OrderbookLevel struct {
	Price float64
	Size  int64
}

// Orderbook is spec.md §3's Orderbook record.
type Orderbook struct {
	Symbol     string
	Asks       [10]OrderbookLevel
	Bids       [10]OrderbookLevel
	AskTotal   int64
	BidTotal   int64
	CapturedAt time.Time
	Source     Source
}

// DailyRow is one OHLCV row of a daily/weekly/monthly series.
type DailyRow struct {
	Date   string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

type quoteEntry struct {
	quote     Quote
	updatedAt time.Time
}

type orderbookEntry struct {
	book      Orderbook
	updatedAt time.Time
}

type dailyEntry struct {
	rows      []DailyRow
	updatedAt time.Time
}

// Clock is injected for testability (Design Notes: "expose a trait/interface
// Clock injected for testability").
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config tunes the freshness windows (spec.md §4.1).
type Config struct {
	StreamFresh      time.Duration
	StreamUsable     time.Duration
	RESTFresh        time.Duration
	AntiOverwriteAge time.Duration
}

// DefaultConfig matches spec.md's stated windows: stream fresh 5s, usable
// 30s, REST fresh 30s, anti-overwrite 5 minutes.
func DefaultConfig() Config {
	return Config{
		StreamFresh:      5 * time.Second,
		StreamUsable:     30 * time.Second,
		RESTFresh:        30 * time.Second,
		AntiOverwriteAge: 5 * time.Minute,
	}
}

// Stats mirrors the teacher's hit/miss counters.
type Stats struct {
	QuoteHits      int64
	QuoteMisses    int64
	OrderbookHits  int64
	OrderbookMisses int64
	DailyHits      int64
	DailyMisses    int64
	AntiOverwriteBlocks int64
}

// Cache is the scoped, in-process KV store keyed by symbol.
type Cache struct {
	cfg Config
	clk Clock

	quotes     sync.Map // string -> *quoteEntry
	orderbooks sync.Map // string -> *orderbookEntry
	daily      sync.Map // string -> *dailyEntry

	quoteHits, quoteMisses         int64
	obHits, obMisses               int64
	dailyHits, dailyMisses         int64
	antiOverwriteBlocks            int64
}

// New builds a Cache with the given config. Pass nil clock for time.Now.
func New(cfg Config, clk Clock) *Cache {
	if clk == nil {
		clk = realClock{}
	}
	return &Cache{cfg: cfg, clk: clk}
}

// PutQuote stores a quote, applying the anti-overwrite rule (spec.md §4.1):
// a REST-origin write must not replace a stream-origin entry younger than
// AntiOverwriteAge. Stream-origin and cache-origin writes are never blocked.
func (c *Cache) PutQuote(q Quote) {
	now := c.clk.Now()

	if q.Source == SourceREST {
		if existing, ok := c.quotes.Load(q.Symbol); ok {
			e := existing.(*quoteEntry)
			if e.quote.Source == SourceStream && now.Sub(e.updatedAt) < c.cfg.AntiOverwriteAge {
				atomic.AddInt64(&c.antiOverwriteBlocks, 1)
				return
			}
		}
	}

	c.quotes.Store(q.Symbol, &quoteEntry{quote: q, updatedAt: now})
}

// QuoteAge reports how old the cached entry for symbol is, and whether one
// exists at all.
func (c *Cache) QuoteAge(symbol string) (time.Duration, bool) {
	v, ok := c.quotes.Load(symbol)
	if !ok {
		return 0, false
	}
	e := v.(*quoteEntry)
	return c.clk.Now().Sub(e.updatedAt), true
}

// GetQuote returns the raw cached quote regardless of freshness; it does
// not report the entry's age. Callers applying the freshness precedence (spec.md
// §4.4) should use QuoteAge plus this, or go through internal/collector.
func (c *Cache) GetQuote(symbol string) (Quote, bool) {
	v, ok := c.quotes.Load(symbol)
	if !ok {
		atomic.AddInt64(&c.quoteMisses, 1)
		return Quote{}, false
	}
	atomic.AddInt64(&c.quoteHits, 1)
	return v.(*quoteEntry).quote, true
}

// IsStreamFresh reports whether symbol has a stream-origin quote younger
// than the configured StreamFresh window.
func (c *Cache) IsStreamFresh(symbol string) bool {
	v, ok := c.quotes.Load(symbol)
	if !ok {
		return false
	}
	e := v.(*quoteEntry)
	return e.quote.Source == SourceStream && c.clk.Now().Sub(e.updatedAt) < c.cfg.StreamFresh
}

// IsStreamUsable reports whether symbol has a stream-origin quote younger
// than the configured StreamUsable window (the "stale but used" tier).
func (c *Cache) IsStreamUsable(symbol string) bool {
	v, ok := c.quotes.Load(symbol)
	if !ok {
		return false
	}
	e := v.(*quoteEntry)
	return e.quote.Source == SourceStream && c.clk.Now().Sub(e.updatedAt) < c.cfg.StreamUsable
}

// PutOrderbook stores an orderbook snapshot unconditionally (no anti-overwrite
// rule applies to orderbooks, per spec.md §4.4).
func (c *Cache) PutOrderbook(ob Orderbook) {
	c.orderbooks.Store(ob.Symbol, &orderbookEntry{book: ob, updatedAt: c.clk.Now()})
}

// GetOrderbook returns the cached orderbook and its age.
func (c *Cache) GetOrderbook(symbol string) (Orderbook, time.Duration, bool) {
	v, ok := c.orderbooks.Load(symbol)
	if !ok {
		atomic.AddInt64(&c.obMisses, 1)
		return Orderbook{}, 0, false
	}
	atomic.AddInt64(&c.obHits, 1)
	e := v.(*orderbookEntry)
	return e.book, c.clk.Now().Sub(e.updatedAt), true
}

// PutDaily stores a daily/weekly/monthly series under key (e.g. "005930:D").
func (c *Cache) PutDaily(key string, rows []DailyRow) {
	c.daily.Store(key, &dailyEntry{rows: rows, updatedAt: c.clk.Now()})
}

// GetDaily returns the cached series and its age.
func (c *Cache) GetDaily(key string) ([]DailyRow, time.Duration, bool) {
	v, ok := c.daily.Load(key)
	if !ok {
		atomic.AddInt64(&c.dailyMisses, 1)
		return nil, 0, false
	}
	atomic.AddInt64(&c.dailyHits, 1)
	e := v.(*dailyEntry)
	return e.rows, c.clk.Now().Sub(e.updatedAt), true
}

// Clear drops every entry in every namespace.
func (c *Cache) Clear() {
	c.quotes.Range(func(k, _ interface{}) bool { c.quotes.Delete(k); return true })
	c.orderbooks.Range(func(k, _ interface{}) bool { c.orderbooks.Delete(k); return true })
	c.daily.Range(func(k, _ interface{}) bool { c.daily.Delete(k); return true })
}

// Stats returns a snapshot of hit/miss/anti-overwrite counters.
func (c *Cache) Stats() Stats {
	return Stats{
		QuoteHits:           atomic.LoadInt64(&c.quoteHits),
		QuoteMisses:         atomic.LoadInt64(&c.quoteMisses),
		OrderbookHits:       atomic.LoadInt64(&c.obHits),
		OrderbookMisses:     atomic.LoadInt64(&c.obMisses),
		DailyHits:           atomic.LoadInt64(&c.dailyHits),
		DailyMisses:         atomic.LoadInt64(&c.dailyMisses),
		AntiOverwriteBlocks: atomic.LoadInt64(&c.antiOverwriteBlocks),
	}
}
