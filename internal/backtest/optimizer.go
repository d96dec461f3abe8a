package backtest

import (
	"github.com/rs/zerolog"

	"github.com/lickhunter/engine/internal/liquidations"
)

// SymbolData is one symbol's replay input: its stored liquidation history
// and its cached candle series.
type SymbolData struct {
	Symbol  string
	Events  []liquidations.Event
	Candles []Candle
}

// stopCount counts the trades that closed on SL or liquidation (TP and
// EOD closes are not counted); it is the numerator of the stop rate.
func stopCount(trades []Trade) int {
	n := 0
	for _, t := range trades {
		if t.Reason == CloseReasonSL || t.Reason == CloseReasonLiquidation {
			n++
		}
	}
	return n
}

// Optimizer runs a parameter grid against each symbol's data and keeps the
// best-scoring surviving candidate per symbol.
type Optimizer struct {
	log     zerolog.Logger
	weights Weights
}

// NewOptimizer builds an Optimizer. weights is the caller-supplied
// PnL/Sharpe/drawdown mix; zero-value Weights falls back to the
// default 50/30/20.
func NewOptimizer(log zerolog.Logger, weights Weights) *Optimizer {
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	return &Optimizer{log: log.With().Str("component", "optimizer").Logger(), weights: weights}
}

// Run simulates every grid entry against every symbol's data with the
// supplied rng, evaluates each, and returns the full candidate list
// (survivors and rejects alike) plus the best surviving candidate per
// symbol. The caller decides whether to apply the recommendation — this
// never mutates live configuration; a recommendation is emitted, never
// applied without explicit operator confirmation.
func (o *Optimizer) Run(data []SymbolData, grid []SimParams, rng Rand) (all []Candidate, best map[string]Candidate) {
	for _, d := range data {
		for _, params := range grid {
			trades := Run(d.Symbol, d.Events, d.Candles, params, rng)
			metrics := Summarize(trades)
			score, reason, ok := Evaluate(metrics, stopCount(trades), params, o.weights)
			c := Candidate{Symbol: d.Symbol, Params: params, Metrics: metrics, Score: score, Reject: reason, Ok: ok}
			all = append(all, c)
		}
	}

	best = BestPerSymbol(all)

	rejected := len(all) - countOK(all)
	o.log.Info().
		Int("candidates", len(all)).
		Int("rejected", rejected).
		Int("symbols_with_recommendation", len(best)).
		Msg("optimizer run complete")

	return all, best
}

func countOK(candidates []Candidate) int {
	n := 0
	for _, c := range candidates {
		if c.Ok {
			n++
		}
	}
	return n
}

// Recommendation is the emitted (not applied) output of an optimizer run.
type Recommendation struct {
	PerSymbol               map[string]Candidate
	RecommendedMaxPositions int
}

// Recommend packages the best-per-symbol candidates into the emitted
// recommendation. Applying it to live configuration requires the
// operator's explicit confirmation (FORCE_OPTIMIZER_CONFIRM), handled by
// the caller — this package only ever reports.
func Recommend(best map[string]Candidate) Recommendation {
	return Recommendation{PerSymbol: best, RecommendedMaxPositions: RecommendedMaxOpenPositions(best)}
}
