package backtest

import (
	"math"

	"github.com/shopspring/decimal"
)

// Metrics summarizes one simulation run for scoring.
type Metrics struct {
	Trades        int
	Wins          int
	Losses        int
	GrossProfit   decimal.Decimal
	GrossLoss     decimal.Decimal // positive magnitude
	NetPnL        decimal.Decimal
	MaxDrawdown   decimal.Decimal // positive magnitude
	Sharpe        float64
	AnyLiquidated bool
}

// Summarize computes Metrics from a trade list. returns are the
// per-trade PnL series used for Sharpe and drawdown.
func Summarize(trades []Trade) Metrics {
	var m Metrics
	equity := decimal.Zero
	peak := decimal.Zero
	maxDD := decimal.Zero

	var pnls []float64
	for _, t := range trades {
		m.Trades++
		if t.Liquidated {
			m.AnyLiquidated = true
		}
		if t.PnL.GreaterThanOrEqual(decimal.Zero) {
			m.Wins++
			m.GrossProfit = m.GrossProfit.Add(t.PnL)
		} else {
			m.Losses++
			m.GrossLoss = m.GrossLoss.Add(t.PnL.Abs())
		}
		m.NetPnL = m.NetPnL.Add(t.PnL)

		equity = equity.Add(t.PnL)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		dd := peak.Sub(equity)
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}

		f, _ := t.PnL.Float64()
		pnls = append(pnls, f)
	}
	m.MaxDrawdown = maxDD
	m.Sharpe = clampSharpe(sharpeOf(pnls))
	return m
}

func sharpeOf(returns []float64) float64 {
	n := len(returns)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(n)

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(n - 1)
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0
	}
	return mean / stddev
}

// ProfitFactor is gross profit / gross loss.
func (m Metrics) ProfitFactor() float64 {
	if m.GrossLoss.IsZero() {
		if m.GrossProfit.IsZero() {
			return 0
		}
		return math.Inf(1)
	}
	pf, _ := m.GrossProfit.Div(m.GrossLoss).Float64()
	return pf
}

// StopRate is the fraction of trades that closed via SL or liquidation.
func (m Metrics) StopRate(stopCount int) float64 {
	if m.Trades == 0 {
		return 0
	}
	return float64(stopCount) / float64(m.Trades)
}

// WinRate is wins / trades.
func (m Metrics) WinRate() float64 {
	if m.Trades == 0 {
		return 0
	}
	return float64(m.Wins) / float64(m.Trades)
}

// Weights is the caller-supplied scoring mix (spec default 50/30/20).
type Weights struct {
	PnL      float64
	Sharpe   float64
	Drawdown float64
}

// DefaultWeights returns the default 50/30/20 mix.
func DefaultWeights() Weights { return Weights{PnL: 0.50, Sharpe: 0.30, Drawdown: 0.20} }

// RejectionReason names why a candidate configuration was excluded.
type RejectionReason string

const (
	RejectAnyLiquidation     RejectionReason = "produced_liquidation"
	RejectProfitFactorOrStop RejectionReason = "profit_factor_or_stop_rate"
	RejectLiquidationDistance RejectionReason = "sl_too_close_to_liquidation"
	RejectTPSLRatio          RejectionReason = "tp_sl_ratio_too_low"
	RejectWinRate            RejectionReason = "win_rate_below_breakeven"
)

// Evaluate applies the five rejection predicates in order and, if the
// candidate survives, returns its score.
func Evaluate(m Metrics, stopCount int, params SimParams, w Weights) (score float64, reject RejectionReason, ok bool) {
	if m.AnyLiquidated {
		return 0, RejectAnyLiquidation, false
	}

	pf := m.ProfitFactor()
	stopRate := m.StopRate(stopCount)
	if pf < 1.05 || stopRate > 0.65 {
		return 0, RejectProfitFactorOrStop, false
	}

	if params.Leverage > 0 {
		liqDistancePct, _ := decimal.NewFromFloat(100).Div(decimal.NewFromInt(int64(params.Leverage))).Float64()
		slPct, _ := params.SLPercent.Float64()
		if slPct >= 0.9*liqDistancePct {
			return 0, RejectLiquidationDistance, false
		}
	}

	tpPct, _ := params.TPPercent.Float64()
	slPct, _ := params.SLPercent.Float64()
	if slPct == 0 || tpPct/slPct < 0.33 {
		return 0, RejectTPSLRatio, false
	}

	breakeven := slPct/(tpPct+slPct) + 0.05
	if m.WinRate() < breakeven {
		return 0, RejectWinRate, false
	}

	pnl, _ := m.NetPnL.Float64()
	ddDenom, _ := m.MaxDrawdown.Add(decimal.NewFromInt(1)).Float64()
	score = w.PnL*pnl + w.Sharpe*m.Sharpe + w.Drawdown*(pnl/ddDenom)
	return score, "", true
}

// Candidate is one (symbol, params) pairing with its computed outcome,
// used by the optimizer to pick a per-symbol winner.
type Candidate struct {
	Symbol  string
	Params  SimParams
	Metrics Metrics
	Score   float64
	Reject  RejectionReason
	Ok      bool
}

// BestPerSymbol selects the highest-scoring surviving candidate for each
// symbol. Rejected candidates are dropped from consideration but not
// silently discarded from the caller's visibility: callers should log
// len(candidates)-len(survivors) as the rejected count.
func BestPerSymbol(candidates []Candidate) map[string]Candidate {
	best := make(map[string]Candidate)
	for _, c := range candidates {
		if !c.Ok {
			continue
		}
		cur, exists := best[c.Symbol]
		if !exists || c.Score > cur.Score {
			best[c.Symbol] = c
		}
	}
	return best
}

// RecommendedMaxOpenPositions is the number of symbols with a surviving
// best candidate: the recommended max-open-positions equals the number
// of included symbols.
func RecommendedMaxOpenPositions(best map[string]Candidate) int {
	return len(best)
}
