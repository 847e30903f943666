package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/tgparkk/stockbot/internal/broker"
	"github.com/tgparkk/stockbot/internal/cache"
	"github.com/tgparkk/stockbot/internal/collector"
	"github.com/tgparkk/stockbot/internal/stream"
)

// fakeStream is a minimal streamAdapter double: Subscribe always
// succeeds unless forced to fail, and records every call.
type fakeStream struct {
	mu        sync.Mutex
	fail      map[string]bool
	subscribed map[string]bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{fail: make(map[string]bool), subscribed: make(map[string]bool)}
}

func (f *fakeStream) Subscribe(ctx context.Context, symbol string, cb stream.Callback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[symbol] {
		return errors.New("forced failure")
	}
	f.subscribed[symbol] = true
	return nil
}

func (f *fakeStream) Unsubscribe(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscribed, symbol)
}

func newTestManager(fs *fakeStream) *Manager {
	c := cache.New(cache.DefaultConfig(), nil)
	mock := broker.NewMockClient()
	col := collector.New(c, mock, true)
	return New(DefaultConfig(), col, fs)
}

func TestAddStockRequestCriticalGoesRealtime(t *testing.T) {
	fs := newFakeStream()
	m := newTestManager(fs)

	if err := m.AddStockRequest("005930", Critical, "momentum", nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	stats := m.Stats()
	if stats.RealtimeCount != 1 || stats.PollingCount != 0 {
		t.Fatalf("stats = %+v, want 1 realtime, 0 polling", stats)
	}
}

func TestAddStockRequestMediumPolls(t *testing.T) {
	fs := newFakeStream()
	m := newTestManager(fs)

	if err := m.AddStockRequest("005930", Medium, "momentum", nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	stats := m.Stats()
	if stats.RealtimeCount != 0 || stats.PollingCount != 1 {
		t.Fatalf("stats = %+v, want 0 realtime, 1 polling", stats)
	}
}

func TestAddStockRequestRejectsDuplicate(t *testing.T) {
	fs := newFakeStream()
	m := newTestManager(fs)
	_ = m.AddStockRequest("005930", Medium, "momentum", nil)
	if err := m.AddStockRequest("005930", Medium, "momentum", nil); err == nil {
		t.Fatal("expected duplicate rejection")
	}
}

func TestCapacityExceededFallsBackToPolling(t *testing.T) {
	fs := newFakeStream()
	m := newTestManager(fs)

	for i := 0; i < MaxRealtime; i++ {
		sym := symbolFor(i)
		if err := m.AddStockRequest(sym, Critical, "momentum", nil); err != nil {
			t.Fatalf("add %s: %v", sym, err)
		}
	}
	if err := m.AddStockRequest("OVERFLOW", Critical, "momentum", nil); err != nil {
		t.Fatalf("add overflow: %v", err)
	}
	stats := m.Stats()
	if stats.RealtimeCount != MaxRealtime {
		t.Fatalf("realtime count = %d, want %d", stats.RealtimeCount, MaxRealtime)
	}
	if stats.WaitlistLength != 1 {
		t.Fatalf("waitlist length = %d, want 1", stats.WaitlistLength)
	}
}

func TestStreamSubscribeFailureDemotesToPolling(t *testing.T) {
	fs := newFakeStream()
	fs.fail["005930"] = true
	m := newTestManager(fs)

	if err := m.AddStockRequest("005930", Critical, "momentum", nil); err != nil {
		t.Fatalf("add: %v", err)
	}
	stats := m.Stats()
	if stats.RealtimeCount != 0 || stats.PollingCount != 1 {
		t.Fatalf("stats = %+v, want fallback to polling", stats)
	}
}

func TestUpgradePrioritySwapsInWhenFull(t *testing.T) {
	fs := newFakeStream()
	m := newTestManager(fs)

	for i := 0; i < MaxRealtime; i++ {
		sym := symbolFor(i)
		if err := m.AddStockRequest(sym, High, "momentum", nil); err != nil {
			t.Fatalf("add %s: %v", sym, err)
		}
	}
	if err := m.AddStockRequest("CANDIDATE", Medium, "momentum", nil); err != nil {
		t.Fatalf("add candidate: %v", err)
	}

	if err := m.UpgradePriority("CANDIDATE", Critical); err != nil {
		t.Fatalf("upgrade: %v", err)
	}

	stats := m.Stats()
	if stats.PrioritySwaps != 1 {
		t.Fatalf("priority swaps = %d, want 1", stats.PrioritySwaps)
	}
	if stats.RealtimeCount != MaxRealtime {
		t.Fatalf("realtime count = %d, want %d", stats.RealtimeCount, MaxRealtime)
	}
}

func TestDowngradeToPollingPromotesWaitlistHead(t *testing.T) {
	fs := newFakeStream()
	m := newTestManager(fs)

	for i := 0; i < MaxRealtime; i++ {
		sym := symbolFor(i)
		if err := m.AddStockRequest(sym, Critical, "momentum", nil); err != nil {
			t.Fatalf("add %s: %v", sym, err)
		}
	}
	if err := m.AddStockRequest("WAITING", Critical, "momentum", nil); err != nil {
		t.Fatalf("add waiting: %v", err)
	}
	if got := m.Stats().WaitlistLength; got != 1 {
		t.Fatalf("waitlist length = %d, want 1", got)
	}

	m.DowngradeToPolling(symbolFor(0))

	stats := m.Stats()
	if stats.WaitlistLength != 0 {
		t.Fatalf("waitlist length after downgrade = %d, want 0", stats.WaitlistLength)
	}
	if stats.RealtimeCount != MaxRealtime {
		t.Fatalf("realtime count = %d, want %d", stats.RealtimeCount, MaxRealtime)
	}
}

func symbolFor(i int) string {
	return "SYM" + string(rune('A'+i%26)) + string(rune('0'+i/26))
}
