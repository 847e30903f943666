// Package scheduler implements the TimeSlot state machine (spec.md §4.9):
// picking the active slot off the wall clock, running one Candidate
// Discovery pass per slot, handing the kept candidates to the
// Subscription Manager with a priority derived from strategy and rank,
// and tearing a slot's subscriptions down when the next one begins.
// Grounded on internal/scanner/scanner.go's runScanLoop (ticker +
// stopChan, immediate first pass, responsive shutdown) — the scan
// loop's fixed interval becomes a short slot-boundary poll here since
// slot transitions are wall-clock events rather than a uniform cadence.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tgparkk/stockbot/internal/apperr"
	"github.com/tgparkk/stockbot/internal/broker"
	"github.com/tgparkk/stockbot/internal/collector"
	"github.com/tgparkk/stockbot/internal/config"
	"github.com/tgparkk/stockbot/internal/discovery"
	"github.com/tgparkk/stockbot/internal/logging"
	"github.com/tgparkk/stockbot/internal/signal"
	"github.com/tgparkk/stockbot/internal/subscription"
)

// checkInterval is how often the loop re-checks whether the active slot
// has changed. spec.md §4.9 asks for idle sleeps "in chunks of 60s or
// less, responsive to shutdown"; 30s keeps slot transitions from
// lagging the wall clock by more than half that.
const checkInterval = 30 * time.Second

// dailyHistoryDays is how much daily history is fetched once per
// admitted symbol for signal.Produce's fail-fast rule (needs >=60 days).
const dailyHistoryDays = 90

// Scheduler runs the slot state machine described above.
type Scheduler struct {
	cfg   config.SchedulerConfig
	col   *collector.Collector
	disc  *discovery.Discoverer
	subs  *subscription.Manager
	pipe  *signal.Pipeline
	log   *logging.Logger

	mu          sync.Mutex
	activeSlot  string
	slotSymbols map[string][]string          // slot name -> symbols it owns
	dailyCache  map[string][]broker.DailyRow // symbol -> cached daily history
}

// New builds a Scheduler. pipe.OnPriceEvent is invoked for every quote
// delivered to an admitted candidate's subscription.
func New(cfg config.SchedulerConfig, col *collector.Collector, disc *discovery.Discoverer, subs *subscription.Manager, pipe *signal.Pipeline) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		col:         col,
		disc:        disc,
		subs:        subs,
		pipe:        pipe,
		log:         logging.WithComponent("scheduler"),
		slotSymbols: make(map[string][]string),
		dailyCache:  make(map[string][]broker.DailyRow),
	}
}

// Run drives the scheduling loop until ctx is cancelled, then tears
// down every subscription it owns (spec.md §4.9's "Cleanup").
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler starting")
	defer s.cleanup()

	s.tick(ctx)

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler shutting down")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick determines the current slot and, on a transition, tears the
// previous slot down and runs a fresh discovery pass for the new one.
func (s *Scheduler) tick(ctx context.Context) {
	slot, ok := findSlot(time.Now(), s.cfg.Slots)
	if !ok {
		if s.activeSlot != "" {
			s.teardownSlot(s.activeSlot)
			s.activeSlot = ""
		}
		return
	}
	if slot.Name == s.activeSlot {
		return
	}

	if s.activeSlot != "" {
		s.teardownSlot(s.activeSlot)
	}
	s.activeSlot = slot.Name
	s.enterSlot(ctx, slot, false)
}

// enterSlot runs Candidate Discovery for the newly active slot and
// admits every kept candidate into the Subscription Manager (spec.md
// §4.9 steps 3-6). force bypasses the discovery dedupe set so a
// teardown+re-enter of the same slot (ForceRefresh) reproduces the same
// selected_stocks rows instead of admitting zero candidates.
func (s *Scheduler) enterSlot(ctx context.Context, slot config.TimeSlotConfig, force bool) {
	date := time.Now().Format("2006-01-02")
	var candidates []discovery.Candidate
	var err error
	if force {
		candidates, err = s.disc.ForceDiscover(ctx, date, slot)
	} else {
		candidates, err = s.disc.Discover(ctx, date, slot)
	}
	if err != nil {
		s.log.WithError(err).Warn("discovery failed for slot %s", slot.Name)
		return
	}

	owned := make([]string, 0, len(candidates))
	for _, c := range candidates {
		priority := priorityFor(c)
		cb := s.makeCallback(c.Strategy)

		if err := s.subs.AddStockRequest(c.Symbol, priority, c.Strategy, cb); err != nil {
			s.log.WithError(err).Warn(fmt.Sprintf("skipping subscription for %s/%s", c.Symbol, c.Strategy))
			continue
		}
		owned = append(owned, c.Symbol)
		s.primeDailyHistory(ctx, c.Symbol)
	}

	s.mu.Lock()
	s.slotSymbols[slot.Name] = owned
	s.mu.Unlock()
	s.log.Info("slot %s entered with %d candidates admitted", slot.Name, len(owned))
}

// primeDailyHistory fetches and caches one symbol's daily history once
// at admission time rather than on every quote callback — intraday
// price ticks don't change the daily candles the indicators run over.
func (s *Scheduler) primeDailyHistory(ctx context.Context, symbol string) {
	rows, err := s.col.GetDailySeries(ctx, symbol, broker.PeriodDay, dailyHistoryDays)
	if err != nil {
		s.log.WithError(err).Warn("daily history fetch failed for %s", symbol)
		return
	}
	s.mu.Lock()
	s.dailyCache[symbol] = rows
	s.mu.Unlock()
}

// makeCallback returns the subscription.Callback for one strategy,
// closing over the scheduler's cached daily history so the signal
// pipeline always has something to score against.
func (s *Scheduler) makeCallback(strategy string) subscription.Callback {
	return func(symbol string, q broker.Quote) {
		s.mu.Lock()
		daily := s.dailyCache[symbol]
		s.mu.Unlock()
		if s.pipe != nil {
			s.pipe.OnPriceEvent(symbol, strategy, q, daily)
		}
	}
}

// teardownSlot releases every subscription the named slot owns
// (spec.md §4.9 step 2: "release all subscriptions owned by it").
func (s *Scheduler) teardownSlot(name string) {
	s.mu.Lock()
	symbols := s.slotSymbols[name]
	delete(s.slotSymbols, name)
	for _, sym := range symbols {
		delete(s.dailyCache, sym)
	}
	s.mu.Unlock()

	for _, sym := range symbols {
		s.subs.RemoveStockRequest(sym)
	}
	s.log.Info("slot %s torn down, %d subscriptions released", name, len(symbols))
}

// cleanup tears down every slot the scheduler still owns; called once
// Run's context is cancelled.
func (s *Scheduler) cleanup() {
	s.mu.Lock()
	names := make([]string, 0, len(s.slotSymbols))
	for name := range s.slotSymbols {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		s.teardownSlot(name)
	}
}

// ForceRefresh re-runs Candidate Discovery for the currently active slot
// outside the normal 30s poll cadence (spec.md §6's force_refresh hook).
// It is a no-op between slots.
func (s *Scheduler) ForceRefresh(ctx context.Context) error {
	s.mu.Lock()
	slot, ok := findSlot(time.Now(), s.cfg.Slots)
	active := s.activeSlot
	s.mu.Unlock()

	if !ok || slot.Name != active {
		return apperr.New(apperr.Validation, "no active slot to refresh")
	}
	s.teardownSlot(active)
	s.enterSlot(ctx, slot, true)
	return nil
}

// ActiveSlot returns the name of the currently active slot, or "" between
// slots.
func (s *Scheduler) ActiveSlot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeSlot
}

// Stats summarizes the scheduler's current slot ownership.
type Stats struct {
	ActiveSlot   string
	OwnedSymbols int
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	owned := 0
	for _, syms := range s.slotSymbols {
		owned += len(syms)
	}
	return Stats{ActiveSlot: s.activeSlot, OwnedSymbols: owned}
}

// findSlot returns the slot whose [Start, End) window contains now, if
// any. Start/End are "HH:MM" strings; an empty bound is open on that
// side. Comparing the zero-padded strings directly works because
// "HH:MM" sorts lexicographically the same as chronologically within a
// day.
func findSlot(now time.Time, slots []config.TimeSlotConfig) (config.TimeSlotConfig, bool) {
	cur := now.Format("15:04")
	for _, slot := range slots {
		if slot.Start != "" && cur < slot.Start {
			continue
		}
		if slot.End != "" && cur >= slot.End {
			continue
		}
		return slot, true
	}
	return config.TimeSlotConfig{}, false
}

// priorityFor derives a candidate's subscription priority from its
// strategy and its in-strategy rank (spec.md §4.9 step 6): gap-strategy
// candidates start CRITICAL, everything else HIGH; ranks 6-10 degrade
// one level, ranks 11+ degrade two.
func priorityFor(c discovery.Candidate) subscription.Priority {
	base := subscription.High
	if c.Strategy == "gap" {
		base = subscription.Critical
	}

	degrade := 0
	switch {
	case c.Rank >= 11:
		degrade = 2
	case c.Rank >= 6:
		degrade = 1
	}

	p := int(base) + degrade
	if p > int(subscription.Background) {
		p = int(subscription.Background)
	}
	return subscription.Priority(p)
}
