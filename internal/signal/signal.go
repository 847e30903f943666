package signal

import (
	"sync"
	"time"

	"github.com/tgparkk/stockbot/internal/broker"
	"github.com/tgparkk/stockbot/internal/logging"
)

// Action is the signal's recommended action.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// AdvancedSignal is spec.md §4.9 step 2's production: RSI/MACD/5-20-60
// MAs/Bollinger/ATR-based stop, reduced to a composite score/confidence/
// risk-reward triad the gate evaluates.
type AdvancedSignal struct {
	Symbol      string
	Action      Action
	Score       float64 // composite strength, [0,1]
	Confidence  float64 // [0,1]
	RiskReward  float64
	StopPrice   float64
	TargetPrice float64
	Reason      string
}

// minHistoryDays is spec.md §4.9 step 2's "fail fast if <60 days of history".
const minHistoryDays = 60

// Produce builds an AdvancedSignal from the freshest quote plus daily
// history. It returns ok=false if there isn't enough history to trust the
// indicators (spec.md's fail-fast rule).
func Produce(ind Indicators, symbol string, quote broker.Quote, daily []broker.DailyRow) (AdvancedSignal, bool) {
	if len(daily) < minHistoryDays {
		return AdvancedSignal{}, false
	}

	ma5 := ind.SMA(daily, 5)
	ma20 := ind.SMA(daily, 20)
	ma60 := ind.SMA(daily, 60)
	rsi := ind.RSI(daily, 14)
	macd := ind.MACD(daily)
	boll := ind.Bollinger(daily, 20, 2.0)
	atr := ind.ATR(daily, 14)

	trendUp := ma5 > ma20 && ma20 > ma60
	momentumUp := macd.Histogram > 0
	notOverbought := rsi < 70
	nearLowerBand := boll.Lower > 0 && quote.Price <= boll.Middle

	score := 0.0
	if trendUp {
		score += 0.35
	}
	if momentumUp {
		score += 0.35
	}
	if notOverbought {
		score += 0.15
	}
	if nearLowerBand {
		score += 0.15
	}

	confidence := clamp01(1 - absRatio(rsi-50, 50))

	action := ActionHold
	if score >= 0.6 && trendUp && momentumUp {
		action = ActionBuy
	}

	stop := quote.Price - atr*1.5
	target := quote.Price + atr*3.0
	riskReward := 0.0
	if quote.Price-stop > 0 {
		riskReward = (target - quote.Price) / (quote.Price - stop)
	}

	return AdvancedSignal{
		Symbol: symbol, Action: action, Score: score, Confidence: confidence,
		RiskReward: riskReward, StopPrice: stop, TargetPrice: target,
		Reason: "ma5/20/60 trend, macd histogram, rsi, bollinger composite",
	}, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func absRatio(v, scale float64) float64 {
	if v < 0 {
		v = -v
	}
	if scale == 0 {
		return 0
	}
	return v / scale
}

// Gate decides whether a produced signal clears spec.md §4.9 step 3's
// composite score/confidence/risk-reward thresholds.
type Gate struct {
	MinScore      float64
	MinConfidence float64
	MinRiskReward float64
}

// DefaultGate matches spec.md's stated risk/reward >= 1.5 threshold.
func DefaultGate() Gate {
	return Gate{MinScore: 0.5, MinConfidence: 0.4, MinRiskReward: 1.5}
}

// Passes reports whether sig clears the gate for a BUY.
func (g Gate) Passes(sig AdvancedSignal) bool {
	return sig.Action == ActionBuy && sig.Score >= g.MinScore &&
		sig.Confidence >= g.MinConfidence && sig.RiskReward >= g.MinRiskReward
}

// debounceState tracks the last time each kind of signal fired for a symbol.
type debounceState struct {
	lastAny      time.Time
	lastStrategy map[string]time.Time
	lastBuy      time.Time
}

// Debouncer implements spec.md §4.9's signal pipeline step 1 and invariant
// 14 (two BUY signals for the same symbol 45s apart -> only the first
// forwarded): reject if the same symbol produced any signal within 10s,
// same-strategy within 30s, BUY within 60s, or is in a 5-minute cooldown
// after a BUY.
type Debouncer struct {
	mu    sync.Mutex
	state map[string]*debounceState
}

// NewDebouncer builds an empty Debouncer.
func NewDebouncer() *Debouncer {
	return &Debouncer{state: make(map[string]*debounceState)}
}

const (
	anySignalWindow      = 10 * time.Second
	sameStrategyWindow   = 30 * time.Second
	buySignalWindow      = 60 * time.Second
	postBuyCooldown      = 5 * time.Minute
)

// Allow reports whether a signal for (symbol, strategy, action) at now may
// be forwarded, and records it if so.
func (d *Debouncer) Allow(symbol, strategy string, action Action, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.state[symbol]
	if !ok {
		st = &debounceState{lastStrategy: make(map[string]time.Time)}
		d.state[symbol] = st
	}

	if !st.lastBuy.IsZero() && now.Sub(st.lastBuy) < postBuyCooldown {
		return false
	}
	if !st.lastAny.IsZero() && now.Sub(st.lastAny) < anySignalWindow {
		return false
	}
	if last, ok := st.lastStrategy[strategy]; ok && now.Sub(last) < sameStrategyWindow {
		return false
	}
	if action == ActionBuy && !st.lastBuy.IsZero() && now.Sub(st.lastBuy) < buySignalWindow {
		return false
	}

	st.lastAny = now
	st.lastStrategy[strategy] = now
	if action == ActionBuy {
		st.lastBuy = now
	}
	return true
}

// Pipeline wires produce -> debounce -> gate -> forward for one symbol's
// price event (spec.md §4.9's "Signal pipeline").
type Pipeline struct {
	ind       Indicators
	debouncer *Debouncer
	gate      Gate
	forward   func(sig AdvancedSignal)
	log       *logging.Logger
}

// NewPipeline builds a Pipeline. forward is called for every signal that
// clears the gate (normally internal/executor.Buy's caller).
func NewPipeline(ind Indicators, gate Gate, forward func(sig AdvancedSignal)) *Pipeline {
	return &Pipeline{ind: ind, debouncer: NewDebouncer(), gate: gate, forward: forward, log: logging.WithComponent("signal")}
}

// OnPriceEvent implements the per-event pipeline: produce, debounce
// (which needs the produced signal's action), gate, forward.
func (p *Pipeline) OnPriceEvent(symbol, strategy string, quote broker.Quote, daily []broker.DailyRow) {
	sig, ok := Produce(p.ind, symbol, quote, daily)
	if !ok {
		return
	}
	if !p.debouncer.Allow(symbol, strategy, sig.Action, time.Now()) {
		return
	}
	if !p.gate.Passes(sig) {
		return
	}
	if p.forward != nil {
		p.forward(sig)
	}
}
