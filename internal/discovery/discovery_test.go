package discovery

import (
	"context"
	"testing"

	"github.com/tgparkk/stockbot/internal/broker"
	"github.com/tgparkk/stockbot/internal/config"
	"github.com/tgparkk/stockbot/internal/store"
)

func newTestDiscoverer(t *testing.T) (*Discoverer, *broker.MockClient, store.Store) {
	t.Helper()
	mock := broker.NewMockClient()
	st, err := store.NewSQLiteStore(t.TempDir() + "/trades.db")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(mock, st, nil), mock, st
}

func midMarketSlot() config.TimeSlotConfig {
	return config.TimeSlotConfig{
		Name: "mid_market", Start: "10:30", End: "14:00",
		Primary:           map[string]float64{"technical": 2.0, "momentum": 1.5},
		Secondary:         map[string]float64{"volume": 1.2, "gap": 0.8},
		MaxCandidatesEach: 2,
	}
}

func TestDiscoverFiltersWeightsAndRanks(t *testing.T) {
	d, mock, _ := newTestDiscoverer(t)
	mock.Screen = broker.ScreenResult{
		Technical: []broker.ScreenedItem{
			{Symbol: "A", TechnicalScore: 90, Reason: "strong trend"},
			{Symbol: "B", TechnicalScore: 80, Reason: "ok trend"},
			{Symbol: "C", TechnicalScore: 10, Reason: "weak"}, // below filter
			{Symbol: "D", TechnicalScore: 70, Reason: "third"},
		},
		Momentum: []broker.ScreenedItem{
			{Symbol: "E", TechnicalScore: 60, Reason: "momentum pick"},
		},
	}
	slot := midMarketSlot()
	slot.MinTechnicalScore = 50

	candidates, err := d.Discover(context.Background(), "2026-07-31", slot)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	var technical []Candidate
	for _, c := range candidates {
		if c.Strategy == "technical" {
			technical = append(technical, c)
		}
	}
	if len(technical) != 2 {
		t.Fatalf("expected top-2 technical candidates kept (MaxCandidatesEach=2), got %d: %+v", len(technical), technical)
	}
	if technical[0].Symbol != "A" || technical[0].Rank != 1 {
		t.Fatalf("expected A ranked first, got %+v", technical[0])
	}
	if technical[1].Symbol != "B" || technical[1].Rank != 2 {
		t.Fatalf("expected B ranked second, got %+v", technical[1])
	}
	for _, c := range technical {
		if c.Symbol == "C" {
			t.Fatal("low-technical-score candidate C should have been filtered out")
		}
	}
}

func TestDiscoverPersistsSelectedStocks(t *testing.T) {
	d, mock, _ := newTestDiscoverer(t)
	mock.Screen = broker.ScreenResult{
		Gap: []broker.ScreenedItem{{Symbol: "000111", ChangeRate: 3.4, TechnicalScore: 75, GapRate: 3.4, Reason: "gap up"}},
	}
	slot := config.TimeSlotConfig{Name: "pre_market", Primary: map[string]float64{"gap": 2.0}, MaxCandidatesEach: 5}

	candidates, err := d.Discover(context.Background(), "2026-07-31", slot)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Symbol != "000111" {
		t.Fatalf("expected one persisted gap candidate for 000111, got %+v", candidates)
	}
}

func TestDiscoverReturnsRepeatSymbolWithoutMirror(t *testing.T) {
	// Without a mirror, dedupe is a no-op and a strategy/slot pair can
	// reappear across slots in the same day — this documents that choice
	// rather than asserting behavior a nil mirror can't provide.
	d, mock, _ := newTestDiscoverer(t)
	mock.Screen = broker.ScreenResult{
		Gap: []broker.ScreenedItem{{Symbol: "000111", TechnicalScore: 75, GapRate: 3.4}},
	}
	slot := config.TimeSlotConfig{Name: "pre_market", Primary: map[string]float64{"gap": 2.0}, MaxCandidatesEach: 5}

	first, err := d.Discover(context.Background(), "2026-07-31", slot)
	if err != nil {
		t.Fatalf("first discover: %v", err)
	}
	second, err := d.Discover(context.Background(), "2026-07-31", slot)
	if err != nil {
		t.Fatalf("second discover: %v", err)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected both passes to return the candidate with nil mirror, got %d and %d", len(first), len(second))
	}
}
