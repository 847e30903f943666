// Package subscription implements the REALTIME/POLLING allocator
// (spec.md §4.5), grounded on
// internal/binance/kline_subscription_manager.go: its
// snapshot-under-RLock-then-act-outside-the-lock shape in
// SyncSubscriptions is reused directly for the "callbacks invoked
// outside the lock" discipline spec.md §4.5/§5 requires. The priority
// ladder, waitlist, and swap-in logic are new, built in the same
// file's subscribe/unsubscribe bookkeeping idiom.
package subscription

import (
	"container/heap"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tgparkk/stockbot/internal/apperr"
	"github.com/tgparkk/stockbot/internal/broker"
	"github.com/tgparkk/stockbot/internal/collector"
	"github.com/tgparkk/stockbot/internal/logging"
	"github.com/tgparkk/stockbot/internal/stream"
)

// Priority is spec.md §4.5's 5-level ladder; lower numeric value wins.
type Priority int

const (
	Critical   Priority = 1
	High       Priority = 2
	Medium     Priority = 3
	Low        Priority = 4
	Background Priority = 5
)

// WantsRealtime reports whether this priority tries streaming immediately.
func (p Priority) WantsRealtime() bool { return p == Critical || p == High }

// State is REALTIME or POLLING; there is no third state (spec.md §4.5).
type State string

const (
	Realtime State = "REALTIME"
	Polling  State = "POLLING"
)

// Callback receives the latest quote for a subscribed symbol.
type Callback func(symbol string, q broker.Quote)

// Entry is the per-symbol subscription record.
type Entry struct {
	Symbol        string
	Strategy      string
	WantsRealtime bool
	IsRealtime    bool
	Priority      Priority
	Score         float64
	AddedAt       time.Time
	Callback      Callback
}

// MaxRealtime is spec.md §4.5's STREAM_CAP/2 ceiling.
const MaxRealtime = 20

// Config tunes the polling loop.
type Config struct {
	PollInterval time.Duration
	PollFloor    time.Duration
}

// DefaultConfig matches spec.md's stated 15s default / 10s floor.
func DefaultConfig() Config {
	return Config{PollInterval: 15 * time.Second, PollFloor: 10 * time.Second}
}

// Stats exposes the allocator's operating counters.
type Stats struct {
	RealtimeCount  int
	PollingCount   int
	WaitlistLength int
	PrioritySwaps  int64
}

// streamAdapter is the subset of internal/stream.Client the allocator
// drives. Matching the real Client's (ctx, symbol, cb) Subscribe
// signature here keeps the composition root's wiring a direct pass of
// *stream.Client, with no intermediate shim; tests substitute a fake
// implementing the same two methods.
type streamAdapter interface {
	Subscribe(ctx context.Context, symbol string, cb stream.Callback) error
	Unsubscribe(symbol string)
}

// Manager is the REALTIME/POLLING allocator (spec.md §4.5).
type Manager struct {
	mu sync.Mutex // single reentrant-by-convention lock guarding all tables below

	cfg    Config
	col    *collector.Collector
	stream streamAdapter
	log    *logging.Logger

	entries  map[string]*Entry
	realtime map[string]bool
	polling  map[string]bool
	waitlist *waitHeap

	prioritySwaps int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Manager driving col for polling reads and streamClient for
// realtime subscriptions.
func New(cfg Config, col *collector.Collector, streamClient streamAdapter) *Manager {
	wl := &waitHeap{}
	heap.Init(wl)
	return &Manager{
		cfg:      cfg,
		col:      col,
		stream:   streamClient,
		entries:  make(map[string]*Entry),
		realtime: make(map[string]bool),
		polling:  make(map[string]bool),
		waitlist: wl,
		log:      logging.WithComponent("subscription"),
	}
}

// AddStockRequest implements spec.md §4.5's add_stock_request.
func (m *Manager) AddStockRequest(symbol string, priority Priority, strategy string, cb Callback) error {
	m.mu.Lock()

	if _, exists := m.entries[symbol]; exists {
		m.mu.Unlock()
		return apperr.New(apperr.Validation, "duplicate subscription request for "+symbol)
	}

	e := &Entry{
		Symbol: symbol, Strategy: strategy, Priority: priority,
		WantsRealtime: priority.WantsRealtime(), AddedAt: time.Now(), Callback: cb,
	}
	m.entries[symbol] = e

	if e.WantsRealtime && len(m.realtime) < MaxRealtime {
		m.promoteToRealtimeLocked(e)
		m.mu.Unlock()
		return nil
	}

	if e.WantsRealtime {
		heap.Push(m.waitlist, waitItem{symbol: symbol, priority: priority, score: e.Score})
	}
	m.polling[symbol] = true
	m.mu.Unlock()
	return nil
}

// promoteToRealtimeLocked must be called with m.mu held. It asks the
// stream client to subscribe; on any failure it demotes the symbol to
// polling instead (spec.md §4.5: "polling is the default safety net").
func (m *Manager) promoteToRealtimeLocked(e *Entry) {
	if m.stream != nil {
		err := m.stream.Subscribe(context.Background(), e.Symbol, func(ev stream.Event) {
			if ev.Type != stream.EventTrade {
				return
			}
			var tp stream.TradePayload
			if jsonErr := json.Unmarshal(ev.Payload, &tp); jsonErr != nil {
				return
			}
			q := broker.Quote{Symbol: ev.Symbol, Price: tp.Price, ChangeRate: tp.ChangeRate, Volume: tp.Volume, Timestamp: time.Now()}
			m.col.OnStreamTrade(ev.Symbol, q)
			if e.Callback != nil {
				e.Callback(ev.Symbol, q)
			}
		})
		if err != nil {
			m.log.WithError(err).Warn("stream subscribe failed for %s, falling back to polling", e.Symbol)
			e.IsRealtime = false
			m.polling[e.Symbol] = true
			return
		}
	}
	e.IsRealtime = true
	m.realtime[e.Symbol] = true
	delete(m.polling, e.Symbol)
}

// UpgradePriority implements spec.md §4.5's upgrade_priority swap-in rule.
func (m *Manager) UpgradePriority(symbol string, newPriority Priority) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[symbol]
	if !ok {
		return apperr.New(apperr.Validation, "unknown symbol "+symbol)
	}
	e.Priority = newPriority
	e.WantsRealtime = newPriority.WantsRealtime()

	if e.IsRealtime || !e.WantsRealtime {
		return nil
	}

	if len(m.realtime) < MaxRealtime {
		m.promoteToRealtimeLocked(e)
		return nil
	}

	victim := m.weakestRealtimeLocked()
	if victim == nil {
		return nil
	}
	outranks := newPriority < victim.Priority || (newPriority == victim.Priority && e.Score > victim.Score)
	if !outranks {
		return nil
	}

	m.demoteToPollingLocked(victim)
	m.promoteToRealtimeLocked(e)
	m.prioritySwaps++
	return nil
}

// weakestRealtimeLocked returns the current realtime holder that ranks
// lowest (highest numeric priority, then lowest score) — the first
// candidate to be evicted on an upgrade swap-in.
func (m *Manager) weakestRealtimeLocked() *Entry {
	var worst *Entry
	for sym := range m.realtime {
		e := m.entries[sym]
		if worst == nil || e.Priority > worst.Priority || (e.Priority == worst.Priority && e.Score < worst.Score) {
			worst = e
		}
	}
	return worst
}

// DowngradeToPolling implements spec.md §4.5's downgrade_to_polling.
func (m *Manager) DowngradeToPolling(symbol string) {
	m.mu.Lock()
	e, ok := m.entries[symbol]
	if !ok {
		m.mu.Unlock()
		return
	}
	m.demoteToPollingLocked(e)
	m.mu.Unlock()
}

func (m *Manager) demoteToPollingLocked(e *Entry) {
	if e.IsRealtime && m.stream != nil {
		m.stream.Unsubscribe(e.Symbol)
	}
	e.IsRealtime = false
	delete(m.realtime, e.Symbol)
	m.polling[e.Symbol] = true
	m.promoteWaitlistHeadLocked()
}

// promoteWaitlistHeadLocked promotes the highest-ranked waiting symbol
// into the freed realtime slot, if any and if capacity allows.
func (m *Manager) promoteWaitlistHeadLocked() {
	for m.waitlist.Len() > 0 && len(m.realtime) < MaxRealtime {
		item := heap.Pop(m.waitlist).(waitItem)
		e, ok := m.entries[item.symbol]
		if !ok || e.IsRealtime || !e.WantsRealtime {
			continue
		}
		m.promoteToRealtimeLocked(e)
		return
	}
}

// Re-subscribing every realtime symbol after a stream reconnect (spec.md
// §4.5) is handled inside internal/stream.Client itself: it retains each
// symbol's callback across reconnects and re-issues every subscribe
// message before reporting the session healthy again (see
// Client.resubscribeAll). The allocator does not need a parallel
// re-subscribe path — it only calls Subscribe once, when a symbol is
// first promoted to realtime or swapped in.

// RemoveStockRequest fully releases a symbol's subscription — unsubscribes
// it from the stream if realtime, drops it from polling, and forgets its
// entry. Used by the scheduler at slot teardown (spec.md §4.9 step 2:
// "release all subscriptions owned by it"), unlike DowngradeToPolling
// which keeps the symbol alive in the polling set.
func (m *Manager) RemoveStockRequest(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[symbol]
	if !ok {
		return
	}
	if e.IsRealtime && m.stream != nil {
		m.stream.Unsubscribe(symbol)
	}
	delete(m.realtime, symbol)
	delete(m.polling, symbol)
	delete(m.entries, symbol)
	m.promoteWaitlistHeadLocked()
}

// Stats returns a snapshot of the allocator's counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		RealtimeCount:  len(m.realtime),
		PollingCount:   len(m.polling),
		WaitlistLength: m.waitlist.Len(),
		PrioritySwaps:  m.prioritySwaps,
	}
}

// StartPolling launches the single polling worker (spec.md §4.5). It
// iterates the polling set once per interval, fetches via the collector
// with cache-on, and invokes each symbol's callback outside the lock.
func (m *Manager) StartPolling(ctx context.Context) {
	m.mu.Lock()
	if m.stopCh != nil {
		m.mu.Unlock()
		return
	}
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go m.pollLoop(ctx)
}

// StopPolling halts the polling worker.
func (m *Manager) StopPolling() {
	m.mu.Lock()
	stop := m.stopCh
	m.stopCh = nil
	m.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	m.wg.Wait()
}

func (m *Manager) pollLoop(ctx context.Context) {
	defer m.wg.Done()

	interval := m.cfg.PollInterval
	if interval < m.cfg.PollFloor {
		interval = m.cfg.PollFloor
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.mu.Lock()
	stop := m.stopCh
	m.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.pollOnce(ctx)
		}
	}
}

// pollOnce snapshots the polling set and every callback under the lock,
// then does the actual fetch/dispatch work outside it (spec.md §4.5
// concurrency discipline).
func (m *Manager) pollOnce(ctx context.Context) {
	m.mu.Lock()
	snapshot := make([]*Entry, 0, len(m.polling))
	for sym := range m.polling {
		snapshot = append(snapshot, m.entries[sym])
	}
	m.mu.Unlock()

	for _, e := range snapshot {
		if e == nil || e.Callback == nil {
			continue
		}
		res := m.col.GetCurrentPrice(ctx, e.Symbol)
		if res.Status == collector.StatusSuccess {
			e.Callback(e.Symbol, res.Quote)
		}
	}
}

// waitItem is one entry in the priority waitlist.
type waitItem struct {
	symbol   string
	priority Priority
	score    float64
}

// waitHeap orders by (priority asc, score desc) — spec.md §4.5.
type waitHeap []waitItem

func (h waitHeap) Len() int { return len(h) }
func (h waitHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].score > h[j].score
}
func (h waitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *waitHeap) Push(x interface{}) { *h = append(*h, x.(waitItem)) }
func (h *waitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
