package candle

import (
	"testing"
	"time"
)

func TestCurrentRegimeSelectsByWallClock(t *testing.T) {
	m := New(DefaultConfig())

	cases := []struct {
		hhmm string
		want Regime
	}{
		{"08:30", RegimePremarket},
		{"10:15", RegimeRealtime},
		{"15:30", RegimeRealtime},
		{"20:00", RegimePremarket}, // after-hours preps for next day's premarket pass
	}
	for _, c := range cases {
		ts, _ := time.Parse("15:04", c.hhmm)
		if got := m.CurrentRegime(ts); got != c.want {
			t.Errorf("CurrentRegime(%s) = %v, want %v", c.hhmm, got, c.want)
		}
	}
}

func TestCurrentRegimeOverrideWins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RegimeOverride = RegimeRealtime
	m := New(cfg)

	ts, _ := time.Parse("15:04", "08:30") // would otherwise be premarket
	if got := m.CurrentRegime(ts); got != RegimeRealtime {
		t.Fatalf("expected override to win, got %v", got)
	}
}

func TestAddRejectsProtectedOverwrite(t *testing.T) {
	m := New(DefaultConfig())
	now := time.Now()

	if err := m.Add(&Candidate{Symbol: "000111", Status: StatusEntered, StrategySource: "realtime"}, now); err != nil {
		t.Fatalf("initial add: %v", err)
	}
	err := m.Add(&Candidate{Symbol: "000111", Status: StatusWatching, StrategySource: "premarket"}, now)
	if err == nil {
		t.Fatal("expected protected ENTERED candidate to reject overwrite")
	}
}

func TestAddAllowsRealtimeToOverwritePremarket(t *testing.T) {
	m := New(DefaultConfig())
	now := time.Now()

	if err := m.Add(&Candidate{Symbol: "000111", Status: StatusWatching, StrategySource: "premarket"}, now); err != nil {
		t.Fatalf("initial add: %v", err)
	}
	if err := m.Add(&Candidate{Symbol: "000111", Status: StatusWatching, StrategySource: "realtime", SignalStrength: 80}, now); err != nil {
		t.Fatalf("expected realtime to overwrite premarket: %v", err)
	}
	got, _ := m.Get("000111")
	if got.StrategySource != "realtime" || got.SignalStrength != 80 {
		t.Fatalf("expected overwritten candidate, got %+v", got)
	}
}

func TestAddRejectsConflictingSource(t *testing.T) {
	m := New(DefaultConfig())
	now := time.Now()

	if err := m.Add(&Candidate{Symbol: "000111", Status: StatusWatching, StrategySource: "realtime"}, now); err != nil {
		t.Fatalf("initial add: %v", err)
	}
	if err := m.Add(&Candidate{Symbol: "000111", Status: StatusWatching, StrategySource: "premarket"}, now); err == nil {
		t.Fatal("expected premarket overwriting realtime to be rejected as a source conflict")
	}
}

func TestAddEvictsLowestScoringIncumbentWhenFullAndMarginCleared(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxWatch = 1
	m := New(cfg)
	now := time.Now()

	weak := &Candidate{Symbol: "WEAK", Status: StatusScanning, StrategySource: "premarket", CreatedAt: now}
	if err := m.Add(weak, now); err != nil {
		t.Fatalf("add weak: %v", err)
	}

	strong := &Candidate{
		Symbol: "STRONG", Status: StatusBuyReady, StrategySource: "premarket",
		Patterns:       []Pattern{{Type: "HAMMER", Confidence: 0.9, Strength: 90}},
		SignalStrength: 90, CreatedAt: now,
	}
	if err := m.Add(strong, now); err != nil {
		t.Fatalf("expected strong candidate to evict weak one: %v", err)
	}
	if _, ok := m.Get("WEAK"); ok {
		t.Fatal("expected weak candidate to have been evicted")
	}
	if _, ok := m.Get("STRONG"); !ok {
		t.Fatal("expected strong candidate to have been admitted")
	}
}

func TestAddRejectsWhenFullAndMarginNotCleared(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxWatch = 1
	m := New(cfg)
	now := time.Now()

	incumbent := &Candidate{
		Symbol: "A", Status: StatusBuyReady, StrategySource: "premarket",
		SignalStrength: 50, CreatedAt: now,
	}
	if err := m.Add(incumbent, now); err != nil {
		t.Fatalf("add incumbent: %v", err)
	}

	challenger := &Candidate{Symbol: "B", Status: StatusScanning, StrategySource: "premarket", CreatedAt: now}
	if err := m.Add(challenger, now); err == nil {
		t.Fatal("expected challenger that doesn't clear the admission margin to be rejected")
	}
	if _, ok := m.Get("A"); !ok {
		t.Fatal("expected incumbent to survive a rejected challenge")
	}
}

func TestAddRefusesToEvictProtectedIncumbents(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxWatch = 1
	m := New(cfg)
	now := time.Now()

	if err := m.Add(&Candidate{Symbol: "A", Status: StatusEntered, StrategySource: "existing_holding"}, now); err != nil {
		t.Fatalf("add protected incumbent: %v", err)
	}

	strong := &Candidate{
		Symbol: "B", Status: StatusBuyReady, StrategySource: "premarket",
		Patterns: []Pattern{{Type: "HAMMER", Confidence: 0.95, Strength: 95}}, SignalStrength: 95,
	}
	if err := m.Add(strong, now); err == nil {
		t.Fatal("expected admission to fail when the only incumbent is protected and unevictable")
	}
}

func TestTransitionFollowsStateMachine(t *testing.T) {
	m := New(DefaultConfig())
	now := time.Now()
	m.Add(&Candidate{Symbol: "000111", Status: StatusScanning}, now)

	steps := []Status{StatusWatching, StatusBuyReady, StatusPendingOrder, StatusEntered, StatusSellReady}
	for _, s := range steps {
		if err := m.Transition("000111", s); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	got, _ := m.Get("000111")
	if got.Status != StatusSellReady {
		t.Fatalf("expected final status SELL_READY, got %v", got.Status)
	}
}

func TestTransitionRejectsInvalidEdge(t *testing.T) {
	m := New(DefaultConfig())
	now := time.Now()
	m.Add(&Candidate{Symbol: "000111", Status: StatusScanning}, now)

	if err := m.Transition("000111", StatusEntered); err == nil {
		t.Fatal("expected SCANNING -> ENTERED to be rejected")
	}
}

func TestTransitionAllowsBuyReadyRevertingToWatchingOnInvalidation(t *testing.T) {
	m := New(DefaultConfig())
	now := time.Now()
	m.Add(&Candidate{Symbol: "000111", Status: StatusWatching}, now)
	if err := m.Transition("000111", StatusBuyReady); err != nil {
		t.Fatalf("watching -> buy_ready: %v", err)
	}
	if err := m.Transition("000111", StatusWatching); err != nil {
		t.Fatalf("expected buy_ready -> watching pattern-invalidation reversal to be allowed: %v", err)
	}
}

func TestExitRecordsPerformanceAndTransitionsToStopped(t *testing.T) {
	m := New(DefaultConfig())
	now := time.Now()
	m.Add(&Candidate{Symbol: "000111", Status: StatusEntered}, now)

	perf := Performance{ExitTime: now, RealizedPnL: -5000, PnLPct: -2.1, HasRealizedPnL: true}
	if err := m.Exit("000111", true, perf); err != nil {
		t.Fatalf("exit: %v", err)
	}
	got, _ := m.Get("000111")
	if got.Status != StatusStopped {
		t.Fatalf("expected STOPPED, got %v", got.Status)
	}
	if got.Performance.RealizedPnL != -5000 {
		t.Fatalf("expected performance recorded, got %+v", got.Performance)
	}
}

func TestTopBuyCandidatesOrdersByEntryPriority(t *testing.T) {
	m := New(DefaultConfig())
	now := time.Now()
	m.Add(&Candidate{Symbol: "LOW", Status: StatusBuyReady, Signal: SignalBuy, EntryPriority: 10}, now)
	m.Add(&Candidate{Symbol: "HIGH", Status: StatusBuyReady, Signal: SignalStrongBuy, EntryPriority: 90}, now)
	m.Add(&Candidate{Symbol: "NOTREADY", Status: StatusWatching, Signal: SignalStrongBuy, EntryPriority: 100}, now)

	top := m.TopBuyCandidates(10)
	if len(top) != 2 {
		t.Fatalf("expected 2 ready candidates, got %d: %+v", len(top), top)
	}
	if top[0].Symbol != "HIGH" {
		t.Fatalf("expected HIGH ranked first, got %+v", top)
	}
}

func TestAutoCleanupRemovesStaleEntries(t *testing.T) {
	m := New(DefaultConfig())
	now := time.Now()

	oldExit := now.Add(-48 * time.Hour)
	m.Add(&Candidate{Symbol: "OLDEXIT", Status: StatusExited, Performance: Performance{ExitTime: oldExit}}, now)
	m.Add(&Candidate{Symbol: "FRESH", Status: StatusWatching, CreatedAt: now}, now)

	removed := m.AutoCleanup(now, 24*time.Hour, 6*time.Hour, 12*time.Hour)
	if removed != 1 {
		t.Fatalf("expected 1 stale candidate removed, got %d", removed)
	}
	if _, ok := m.Get("OLDEXIT"); ok {
		t.Fatal("expected stale exited candidate to be cleaned up")
	}
	if _, ok := m.Get("FRESH"); !ok {
		t.Fatal("expected fresh candidate to survive cleanup")
	}
}
