// Package discovery implements Candidate Discovery (spec.md §4.9 steps
// 3-5): turning one screen_market call into a ranked, filtered, persisted
// SelectedStock set per strategy. Grounded on
// internal/scanner/{scanner,evaluator,types}.go's worker-pool scan loop
// (symbol channel -> goroutines -> result channel -> sort-and-truncate),
// adapted here from a per-symbol proximity scan over klines to a
// per-strategy filter/weight/rank pass over screen_market's four
// category lists, fanned out with golang.org/x/sync/errgroup instead of
// a hand-rolled WaitGroup+channel worker pool.
package discovery

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tgparkk/stockbot/internal/broker"
	"github.com/tgparkk/stockbot/internal/cache"
	"github.com/tgparkk/stockbot/internal/config"
	"github.com/tgparkk/stockbot/internal/logging"
	"github.com/tgparkk/stockbot/internal/store"
)

// Candidate is one ranked, filtered symbol emerging from a single
// strategy's category list within a slot.
type Candidate struct {
	Symbol         string
	Name           string
	Strategy       string
	Score          float64
	Rank           int // 1-based rank within this strategy's kept list
	Reason         string
	CurrentPrice   float64
	ChangeRate     float64
	Volume         int64
	VolumeRatio    float64
	GapRate        float64
	TechnicalScore float64
}

// Discoverer runs one slot's discovery pass.
type Discoverer struct {
	brk   broker.Broker
	str   store.Store
	mirror *cache.Mirror
	log   *logging.Logger
}

// New builds a Discoverer. mirror may be nil (dedupe becomes a no-op).
func New(brk broker.Broker, str store.Store, mirror *cache.Mirror) *Discoverer {
	return &Discoverer{brk: brk, str: str, mirror: mirror, log: logging.WithComponent("discovery")}
}

// Discover implements spec.md §4.9 steps 3-5 for one slot: one
// screen_market call, per-strategy filter+weight+rank fanned out
// concurrently via errgroup, then persistence of the kept SelectedStock
// rows. It returns the kept candidates across all of the slot's
// strategies (primary and secondary combined), ordered by strategy then
// rank, for the scheduler to hand to the Subscription Manager (step 6).
func (d *Discoverer) Discover(ctx context.Context, date string, slot config.TimeSlotConfig) ([]Candidate, error) {
	screen, err := d.brk.ScreenMarket(ctx, broker.MarketAll)
	if err != nil {
		return nil, err
	}

	weights := make(map[string]float64, len(slot.Primary)+len(slot.Secondary))
	for k, v := range slot.Primary {
		weights[k] = v
	}
	for k, v := range slot.Secondary {
		if _, ok := weights[k]; !ok {
			weights[k] = v
		}
	}

	strategies := make([]string, 0, len(weights))
	for strat := range weights {
		strategies = append(strategies, strat)
	}
	sort.Strings(strategies) // deterministic fan-out order

	results := make([][]Candidate, len(strategies))
	g, gctx := errgroup.WithContext(ctx)
	for i, strat := range strategies {
		i, strat := i, strat
		g.Go(func() error {
			_ = gctx
			results[i] = d.filterAndRank(screen, strat, weights[strat], slot)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := time.Now()
	var all []Candidate
	for _, kept := range results {
		for _, c := range kept {
			if d.mirror != nil && !d.mirror.MarkSeen(ctx, slot.Name, c.Symbol) {
				continue // already selected in this slot today
			}
			all = append(all, c)
			sel := store.SelectedStock{
				Date: date, Slot: slot.Name, Symbol: c.Symbol, Name: c.Name, Strategy: c.Strategy,
				Score: c.Score, Reason: c.Reason, RankInStrategy: c.Rank,
				CurrentPrice: c.CurrentPrice, ChangeRate: c.ChangeRate, Volume: c.Volume,
				VolumeRatio: c.VolumeRatio, GapRate: c.GapRate, CreatedAt: now,
			}
			if _, err := d.str.InsertSelectedStock(ctx, sel); err != nil {
				d.log.Warn("failed to persist selected stock %s/%s: %v", c.Symbol, c.Strategy, err)
				continue
			}
		}
	}
	return all, nil
}

// ForceDiscover re-runs Discover for slot after clearing its Redis
// dedupe set, so an operator-triggered re-discovery of the currently
// active slot (spec.md §6 force_refresh) reproduces the same
// selected_stocks rows instead of MarkSeen suppressing every candidate
// as already selected today.
func (d *Discoverer) ForceDiscover(ctx context.Context, date string, slot config.TimeSlotConfig) ([]Candidate, error) {
	if d.mirror != nil {
		d.mirror.ClearSeen(ctx, slot.Name)
	}
	return d.Discover(ctx, date, slot)
}

// filterAndRank extracts one strategy's category list from screen_market's
// result, applies the slot's filters, weights each score, sorts
// descending, and keeps the top MaxCandidatesEach (spec.md §4.9 step 4).
func (d *Discoverer) filterAndRank(screen broker.ScreenResult, strategy string, weight float64, slot config.TimeSlotConfig) []Candidate {
	var items []broker.ScreenedItem
	switch strategy {
	case "gap":
		items = screen.Gap
	case "volume":
		items = screen.Volume
	case "momentum":
		items = screen.Momentum
	case "technical":
		items = screen.Technical
	default:
		return nil
	}

	kept := make([]Candidate, 0, len(items))
	for _, it := range items {
		if it.GapRate < slot.MinGapRate {
			continue
		}
		if it.TechnicalScore < slot.MinTechnicalScore {
			continue
		}
		if it.VolumeRatio < slot.MinVolumeRatio {
			continue
		}
		kept = append(kept, Candidate{
			Symbol: it.Symbol, Name: it.Name, Strategy: strategy,
			Score: it.TechnicalScore * weight, Reason: it.Reason,
			ChangeRate: it.ChangeRate, Volume: it.Volume, VolumeRatio: it.VolumeRatio,
			GapRate: it.GapRate, TechnicalScore: it.TechnicalScore,
		})
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })

	max := slot.MaxCandidatesEach
	if max > 0 && len(kept) > max {
		kept = kept[:max]
	}
	for i := range kept {
		kept[i].Rank = i + 1
	}
	return kept
}
