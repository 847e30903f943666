// Package signal implements the Signal pipeline and AdvancedSignal gate
// (spec.md §4.9's "Signal pipeline" subsection). Indicator formulas
// themselves are explicitly out of scope per spec.md §1 ("technical
// indicator formulas... out of scope"), so AdvancedSignal production is
// built behind a pluggable Indicators interface; the one concrete
// implementation here (dailyIndicators) is adapted from
// internal/strategy/indicators.go's CalculateSMA/CalculateRSI/
// CalculateMACD/CalculateBollingerBands/CalculateATR, re-typed from
// binance.Kline to broker.DailyRow (OHLCV without binance's fields) and
// with CalculateMACD's signal-line approximation replaced by a maintained
// EMA-of-MACD series, since a history of daily rows is available here
// where the teacher's version only had one kline batch in hand.
package signal

import (
	"math"

	"github.com/tgparkk/stockbot/internal/broker"
)

// Indicators is the pluggable indicator-calculation contract AdvancedSignal
// production depends on, not the concrete math (spec.md §1 non-goal).
type Indicators interface {
	SMA(rows []broker.DailyRow, period int) float64
	EMA(rows []broker.DailyRow, period int) float64
	RSI(rows []broker.DailyRow, period int) float64
	MACD(rows []broker.DailyRow) MACDResult
	Bollinger(rows []broker.DailyRow, period int, stdDevMult float64) BollingerResult
	ATR(rows []broker.DailyRow, period int) float64
}

// MACDResult mirrors internal/strategy/indicators.go's MACDResult.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// BollingerResult mirrors internal/strategy/indicators.go's BollingerBandsResult.
type BollingerResult struct {
	Upper, Middle, Lower float64
}

// dailyIndicators is the default Indicators implementation.
type dailyIndicators struct{}

// DefaultIndicators returns the adapted-from-teacher indicator set.
func DefaultIndicators() Indicators { return dailyIndicators{} }

func (dailyIndicators) SMA(rows []broker.DailyRow, period int) float64 {
	if len(rows) < period {
		return 0
	}
	sum := 0.0
	start := len(rows) - period
	for i := start; i < len(rows); i++ {
		sum += rows[i].Close
	}
	return sum / float64(period)
}

func (d dailyIndicators) EMA(rows []broker.DailyRow, period int) float64 {
	if len(rows) < period {
		return 0
	}
	ema := d.SMA(rows[:period], period)
	mult := 2.0 / float64(period+1)
	for i := period; i < len(rows); i++ {
		ema = (rows[i].Close * mult) + (ema * (1 - mult))
	}
	return ema
}

func (dailyIndicators) RSI(rows []broker.DailyRow, period int) float64 {
	if len(rows) < period+1 {
		return 50.0
	}
	gains, losses := 0.0, 0.0
	for i := len(rows) - period; i < len(rows); i++ {
		change := rows[i].Close - rows[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// MACD computes the 12/26/9 MACD by maintaining an EMA-of-MACD series over
// the full row history, rather than the teacher's single-point
// approximation (`macdLine * 0.8`) — a daily-row history is available
// here, so the real signal line can be tracked.
func (d dailyIndicators) MACD(rows []broker.DailyRow) MACDResult {
	const fast, slow, sigPeriod = 12, 26, 9
	if len(rows) < slow+sigPeriod {
		return MACDResult{}
	}

	macdSeries := make([]float64, 0, len(rows)-slow+1)
	for end := slow; end <= len(rows); end++ {
		window := rows[:end]
		macdSeries = append(macdSeries, d.EMA(window, fast)-d.EMA(window, slow))
	}
	if len(macdSeries) < sigPeriod {
		return MACDResult{}
	}

	signal := emaOfSeries(macdSeries, sigPeriod)
	macd := macdSeries[len(macdSeries)-1]
	return MACDResult{MACD: macd, Signal: signal, Histogram: macd - signal}
}

func emaOfSeries(series []float64, period int) float64 {
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += series[i]
	}
	ema := sum / float64(period)
	mult := 2.0 / float64(period+1)
	for i := period; i < len(series); i++ {
		ema = (series[i] * mult) + (ema * (1 - mult))
	}
	return ema
}

func (d dailyIndicators) Bollinger(rows []broker.DailyRow, period int, stdDevMult float64) BollingerResult {
	if len(rows) < period {
		return BollingerResult{}
	}
	middle := d.SMA(rows, period)
	variance := 0.0
	start := len(rows) - period
	for i := start; i < len(rows); i++ {
		diff := rows[i].Close - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(period))
	return BollingerResult{Upper: middle + stdDev*stdDevMult, Middle: middle, Lower: middle - stdDev*stdDevMult}
}

func (dailyIndicators) ATR(rows []broker.DailyRow, period int) float64 {
	if len(rows) < period+1 {
		return 0
	}
	sum := 0.0
	start := len(rows) - period
	for i := start; i < len(rows); i++ {
		high, low, prevClose := rows[i].High, rows[i].Low, rows[i-1].Close
		tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
		sum += tr
	}
	return sum / float64(period)
}
