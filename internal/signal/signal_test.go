package signal

import (
	"testing"
	"time"

	"github.com/tgparkk/stockbot/internal/broker"
)

func makeDailyHistory(n int, trendUp bool) []broker.DailyRow {
	rows := make([]broker.DailyRow, n)
	price := 50000.0
	for i := 0; i < n; i++ {
		if trendUp {
			price += 50
		} else {
			price -= 10
		}
		rows[i] = broker.DailyRow{Date: "d", Open: price, High: price + 100, Low: price - 100, Close: price, Volume: 1000}
	}
	return rows
}

func TestProduceFailsFastBelowMinHistory(t *testing.T) {
	_, ok := Produce(DefaultIndicators(), "005930", broker.Quote{Price: 50000}, makeDailyHistory(30, true))
	if ok {
		t.Fatal("expected fail-fast with <60 days of history")
	}
}

func TestProduceUptrendYieldsBuyCandidate(t *testing.T) {
	daily := makeDailyHistory(90, true)
	quote := broker.Quote{Symbol: "005930", Price: daily[len(daily)-1].Close}
	sig, ok := Produce(DefaultIndicators(), "005930", quote, daily)
	if !ok {
		t.Fatal("expected enough history")
	}
	if sig.RiskReward <= 0 {
		t.Fatalf("expected positive risk/reward, got %v", sig.RiskReward)
	}
}

func TestGatePassesRequiresAllThresholds(t *testing.T) {
	g := DefaultGate()
	sig := AdvancedSignal{Action: ActionBuy, Score: 0.6, Confidence: 0.5, RiskReward: 1.5}
	if !g.Passes(sig) {
		t.Fatal("expected signal at exactly the thresholds to pass")
	}
	sig.RiskReward = 1.49
	if g.Passes(sig) {
		t.Fatal("expected signal below risk/reward threshold to fail")
	}
}

func TestDebouncerBlocksSecondBuyWithin60Seconds(t *testing.T) {
	d := NewDebouncer()
	base := time.Now()
	if !d.Allow("005930", "momentum", ActionBuy, base) {
		t.Fatal("expected first signal allowed")
	}
	if d.Allow("005930", "momentum", ActionBuy, base.Add(45*time.Second)) {
		t.Fatal("expected second BUY 45s apart to be blocked (spec invariant 14)")
	}
}

func TestDebouncerAllowsDifferentSymbolsIndependently(t *testing.T) {
	d := NewDebouncer()
	base := time.Now()
	if !d.Allow("005930", "momentum", ActionBuy, base) {
		t.Fatal("expected first symbol's signal allowed")
	}
	if !d.Allow("000660", "momentum", ActionBuy, base) {
		t.Fatal("expected a different symbol's signal to be independent")
	}
}

func TestDebouncerEnforcesPostBuyCooldown(t *testing.T) {
	d := NewDebouncer()
	base := time.Now()
	d.Allow("005930", "momentum", ActionBuy, base)
	if d.Allow("005930", "gap", ActionSell, base.Add(time.Minute)) {
		t.Fatal("expected any signal within the 5-minute post-buy cooldown to be blocked")
	}
}
