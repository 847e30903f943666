// Package candle implements the Candle Trade Manager (spec.md §4.8): a
// pattern-driven watcher/enterer/exiter that treats candlestick
// candidates as one more strategy peer sharing the Data Collector with
// Candidate Discovery and the Scheduler, rather than owning any stream
// or polling loop of its own.
//
// Grounded on original_source/core/strategy/candle_stock_manager.py's
// CandleStockManager: the single-map-of-candidates store, the
// quality-score admission/eviction rule (a new candidate must beat the
// lowest-scoring non-critical incumbent by a margin), and the
// premarket/realtime regime split are all adapted directly from there,
// re-typed from Python dicts to Go structs. internal/order/manager.go
// supplies the map-of-records-behind-one-owning-mutex bookkeeping idiom
// used here (a *sync.Mutex is added since, unlike the teacher's
// single-goroutine OrderManager, this manager is read and written from
// both the Scheduler's discovery path and the Subscription Manager's
// per-quote callbacks concurrently).
package candle

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tgparkk/stockbot/internal/apperr"
	"github.com/tgparkk/stockbot/internal/logging"
)

// Status is spec.md §4.8's per-candidate state machine.
type Status string

const (
	StatusScanning     Status = "SCANNING"
	StatusWatching     Status = "WATCHING"
	StatusBuyReady     Status = "BUY_READY"
	StatusPendingOrder Status = "PENDING_ORDER"
	StatusEntered      Status = "ENTERED"
	StatusSellReady    Status = "SELL_READY"
	StatusStopped      Status = "STOPPED"
	StatusExited       Status = "EXITED"
)

// validTransitions enumerates spec.md §4.8's state diagram, including
// the BUY_READY -> WATCHING pattern-invalidation reversal.
var validTransitions = map[Status]map[Status]bool{
	StatusScanning:     {StatusWatching: true},
	StatusWatching:     {StatusBuyReady: true},
	StatusBuyReady:     {StatusPendingOrder: true, StatusWatching: true},
	StatusPendingOrder: {StatusEntered: true, StatusWatching: true},
	StatusEntered:      {StatusSellReady: true, StatusStopped: true},
	StatusSellReady:    {StatusExited: true},
	StatusStopped:      {},
	StatusExited:       {},
}

// Signal is the candidate's own directional read, independent of
// internal/signal's AdvancedSignal (spec.md §3's CandleCandidate carries
// its own signal field).
type Signal string

const (
	SignalStrongBuy  Signal = "STRONG_BUY"
	SignalBuy        Signal = "BUY"
	SignalHold       Signal = "HOLD"
	SignalSell       Signal = "SELL"
	SignalStrongSell Signal = "STRONG_SELL"
)

// Regime is the wall-clock-selected pattern-reading mode (spec.md
// §4.8's "two regimes").
type Regime string

const (
	RegimePremarket Regime = "premarket"
	RegimeRealtime  Regime = "realtime"
)

// Pattern is one detected candlestick pattern on a candidate.
type Pattern struct {
	Type       string
	Confidence float64 // 0..1
	Strength   float64 // 0..100
}

// RiskManagement is the candidate's stop/target block.
type RiskManagement struct {
	StopPrice   float64
	TargetPrice float64
}

// Performance records a closed candidate's outcome.
type Performance struct {
	ExitTime      time.Time
	RealizedPnL   float64
	PnLPct        float64
	HoldingHours  float64
	HasRealizedPnL bool
}

// Candidate is spec.md §3's CandleCandidate: a pattern-watch record with
// its own state machine, independent of the Subscription Manager's
// Entry or the Trade Executor's Position.
type Candidate struct {
	Symbol         string
	Name           string
	Status         Status
	Signal         Signal
	Patterns       []Pattern
	SignalStrength float64 // 0..100
	EntryPriority  float64
	CurrentPrice   float64
	StrategySource string // "premarket", "realtime", or "existing_holding"
	Risk           RiskManagement
	Performance    Performance
	CreatedAt      time.Time
	LastUpdated    time.Time
}

// isProtected reports whether c must never be evicted by the admission
// rule (spec.md §4.8: "Candidates in ENTERED or PENDING_ORDER are never
// evicted").
func (c *Candidate) isProtected() bool {
	return c.Status == StatusEntered || c.Status == StatusPendingOrder
}

// isReadyForEntry reports whether c currently qualifies as a buy
// candidate for GetTopBuyCandidates.
func (c *Candidate) isReadyForEntry() bool {
	return c.Status == StatusBuyReady && (c.Signal == SignalStrongBuy || c.Signal == SignalBuy)
}

// Config tunes the bounded universe and regime selection.
type Config struct {
	MaxWatch        int
	AdmissionMargin float64
	RegimeOverride  Regime // "" = auto-select from wall clock

	PremarketStart string // "HH:MM"
	PremarketEnd   string
	RealtimeStart  string
	RealtimeEnd    string
}

// DefaultConfig matches spec.md §4.8's stated default (MAX_WATCH=100,
// margin>=30) and original_source's premarket/realtime window.
func DefaultConfig() Config {
	return Config{
		MaxWatch:        100,
		AdmissionMargin: 30,
		PremarketStart:  "08:00",
		PremarketEnd:    "09:59",
		RealtimeStart:   "10:00",
		RealtimeEnd:     "15:30",
	}
}

// Manager is the bounded-universe candle candidate store (spec.md §4.8).
type Manager struct {
	mu sync.Mutex

	cfg   Config
	stock map[string]*Candidate
	log   *logging.Logger
}

// New builds an empty Manager.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg, stock: make(map[string]*Candidate), log: logging.WithComponent("candle")}
}

// CurrentRegime reports the active regime at now: RegimeOverride wins if
// set, otherwise a pure wall-clock gate against the configured windows,
// defaulting to premarket outside both windows (original_source:
// "장후에는 다음날 준비용으로 장전 모드" — after-hours prepares for the
// next day's premarket pass).
func (m *Manager) CurrentRegime(now time.Time) Regime {
	if m.cfg.RegimeOverride != "" {
		return m.cfg.RegimeOverride
	}
	cur := now.Format("15:04")
	if inWindow(cur, m.cfg.PremarketStart, m.cfg.PremarketEnd) {
		return RegimePremarket
	}
	if inWindow(cur, m.cfg.RealtimeStart, m.cfg.RealtimeEnd) {
		return RegimeRealtime
	}
	return RegimePremarket
}

func inWindow(cur, start, end string) bool {
	return start != "" && end != "" && cur >= start && cur <= end
}

// Add admits a new candidate into the bounded universe, or updates an
// existing one per spec.md §4.8's source-priority rule: a realtime
// detection may overwrite an existing premarket one, same-source
// updates are always allowed, and anything else is a conflict and is
// rejected. ENTERED/PENDING_ORDER candidates are never overwritten.
func (m *Manager) Add(c *Candidate, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.LastUpdated = now

	if existing, ok := m.stock[c.Symbol]; ok {
		if existing.isProtected() {
			return apperr.New(apperr.Validation, "candidate "+c.Symbol+" is in a protected status, refusing overwrite")
		}
		if c.StrategySource == "realtime" && existing.StrategySource == "premarket" {
			m.stock[c.Symbol] = c
			return nil
		}
		if c.StrategySource == existing.StrategySource {
			m.stock[c.Symbol] = c
			return nil
		}
		return apperr.New(apperr.Validation, "candidate "+c.Symbol+" source conflict: "+existing.StrategySource+" -> "+c.StrategySource)
	}

	if len(m.stock) >= m.cfg.MaxWatch {
		victim, victimScore := m.lowestScoringEvictableLocked(now)
		if victim == nil {
			return apperr.New(apperr.CapacityExceeded, "candle universe full and no evictable candidate")
		}
		newScore := qualityScore(c, now)
		if newScore <= victimScore+m.cfg.AdmissionMargin {
			return apperr.New(apperr.CapacityExceeded, "candidate does not beat lowest incumbent by the admission margin")
		}
		delete(m.stock, victim.Symbol)
		m.log.Info(fmt.Sprintf("candle universe full, evicted %s (score %.1f) for %s (score %.1f)", victim.Symbol, victimScore, c.Symbol, newScore))
	}

	m.stock[c.Symbol] = c
	return nil
}

// lowestScoringEvictableLocked returns the lowest quality-scoring
// non-protected candidate and its score, for the admission rule.
func (m *Manager) lowestScoringEvictableLocked(now time.Time) (*Candidate, float64) {
	var worst *Candidate
	worstScore := 0.0
	for _, c := range m.stock {
		if c.isProtected() {
			continue
		}
		score := qualityScore(c, now)
		if worst == nil || score < worstScore {
			worst, worstScore = c, score
		}
	}
	return worst, worstScore
}

// qualityScore is original_source's _calculate_candidate_quality_score,
// reduced to the fields spec.md §4.8 names: pattern confidence, pattern
// strength, signal strength, status weight, and freshness.
func qualityScore(c *Candidate, now time.Time) float64 {
	if c.StrategySource == "existing_holding" {
		return 999
	}

	score := 0.0
	if len(c.Patterns) > 0 {
		maxConfidence, maxStrength := 0.0, 0.0
		for _, p := range c.Patterns {
			if p.Confidence > maxConfidence {
				maxConfidence = p.Confidence
			}
			if p.Strength > maxStrength {
				maxStrength = p.Strength
			}
		}
		score += maxConfidence * 150
		score += maxStrength * 1.2
	}

	score += c.SignalStrength

	statusWeights := map[Status]float64{
		StatusBuyReady:  30,
		StatusWatching:  10,
		StatusScanning:  5,
		StatusSellReady: 15,
		StatusEntered:   25,
	}
	score += statusWeights[c.Status]

	if !c.CreatedAt.IsZero() {
		age := now.Sub(c.CreatedAt)
		switch {
		case age < 6*time.Hour:
			score += 25
		case age < 24*time.Hour:
			score += 15
		case age > 48*time.Hour:
			score -= 20
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 700 {
		score = 700
	}
	return score
}

// Transition moves a candidate through spec.md §4.8's state machine,
// rejecting any edge not in validTransitions.
func (m *Manager) Transition(symbol string, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.stock[symbol]
	if !ok {
		return apperr.New(apperr.Validation, "unknown candle candidate "+symbol)
	}
	if !validTransitions[c.Status][to] {
		return apperr.New(apperr.Validation, string(c.Status)+" -> "+string(to)+" is not a valid candle state transition")
	}
	c.Status = to
	c.LastUpdated = time.Now()
	return nil
}

// Exit records a closed candidate's performance and transitions it to
// EXITED or STOPPED.
func (m *Manager) Exit(symbol string, stopped bool, perf Performance) error {
	to := StatusExited
	if stopped {
		to = StatusStopped
	}
	if err := m.Transition(symbol, to); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.stock[symbol]; ok {
		c.Performance = perf
	}
	return nil
}

// UpdatePrice refreshes a candidate's current price.
func (m *Manager) UpdatePrice(symbol string, price float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.stock[symbol]
	if !ok {
		return false
	}
	c.CurrentPrice = price
	c.LastUpdated = time.Now()
	return true
}

// Remove drops a candidate from the universe unconditionally.
func (m *Manager) Remove(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stock[symbol]; !ok {
		return false
	}
	delete(m.stock, symbol)
	return true
}

// Get returns one candidate, if present.
func (m *Manager) Get(symbol string) (Candidate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.stock[symbol]
	if !ok {
		return Candidate{}, false
	}
	return *c, true
}

// ByStatus returns every candidate currently in the given status.
func (m *Manager) ByStatus(status Status) []Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Candidate
	for _, c := range m.stock {
		if c.Status == status {
			out = append(out, *c)
		}
	}
	return out
}

// TopBuyCandidates returns up to limit ready-to-enter candidates,
// ordered by entry priority descending.
func (m *Manager) TopBuyCandidates(limit int) []Candidate {
	m.mu.Lock()
	var kept []Candidate
	for _, c := range m.stock {
		if c.isReadyForEntry() {
			kept = append(kept, *c)
		}
	}
	m.mu.Unlock()

	sort.Slice(kept, func(i, j int) bool { return kept[i].EntryPriority > kept[j].EntryPriority })
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

// TopSellCandidates returns up to limit SELL/STRONG_SELL-signalled
// candidates, ordered by signal strength descending.
func (m *Manager) TopSellCandidates(limit int) []Candidate {
	m.mu.Lock()
	var kept []Candidate
	for _, c := range m.stock {
		if c.Signal == SignalSell || c.Signal == SignalStrongSell {
			kept = append(kept, *c)
		}
	}
	m.mu.Unlock()

	sort.Slice(kept, func(i, j int) bool { return kept[i].SignalStrength > kept[j].SignalStrength })
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

// AutoCleanup removes stale candidates per original_source's auto_cleanup:
// EXITED candidates past maxAge since exit, WATCHING candidates whose
// pattern is older than maxPatternAge, and HOLD candidates idle past
// maxIdleForHold. It returns the number removed.
func (m *Manager) AutoCleanup(now time.Time, maxAge, maxPatternAge, maxIdleForHold time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stale []string
	for symbol, c := range m.stock {
		switch {
		case c.Status == StatusExited && !c.Performance.ExitTime.IsZero() && now.Sub(c.Performance.ExitTime) > maxAge:
			stale = append(stale, symbol)
		case c.Status == StatusWatching && now.Sub(c.CreatedAt) > maxPatternAge:
			stale = append(stale, symbol)
		case c.Signal == SignalHold && now.Sub(c.LastUpdated) > maxIdleForHold:
			stale = append(stale, symbol)
		}
	}
	for _, symbol := range stale {
		delete(m.stock, symbol)
	}
	return len(stale)
}

// Stats summarizes the universe's current composition.
type Stats struct {
	Total            int
	ByStatus         map[Status]int
	ActivePositions  int
	BuyReadyCount    int
}

// Stats returns a snapshot of the manager's bookkeeping counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Stats{Total: len(m.stock), ByStatus: make(map[Status]int)}
	for _, c := range m.stock {
		st.ByStatus[c.Status]++
		if c.Status == StatusEntered {
			st.ActivePositions++
		}
		if c.isReadyForEntry() {
			st.BuyReadyCount++
		}
	}
	return st
}
