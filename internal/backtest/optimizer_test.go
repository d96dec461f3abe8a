package backtest

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lickhunter/engine/internal/liquidations"
)

func TestOptimizerRunPicksBestSurvivingCandidatePerSymbol(t *testing.T) {
	start := time.Now()
	data := []SymbolData{
		{
			Symbol: "ASTERUSDT",
			Events: []liquidations.Event{
				mkEvent(start, sideSell, decimal.NewFromInt(100), decimal.NewFromInt(20)),
			},
			Candles: candleSeries(start, []float64{100, 101, 103, 106, 110}),
		},
	}

	tight := baseParams()
	tight.TPPercent = decimal.NewFromInt(4)
	tight.SLPercent = decimal.NewFromInt(2)

	tooClose := baseParams()
	tooClose.Leverage = 10
	tooClose.SLPercent = decimal.NewFromFloat(9.5) // rejected: too close to liquidation distance

	grid := []SimParams{tight, tooClose}

	opt := NewOptimizer(zerolog.Nop(), DefaultWeights())
	all, best := opt.Run(data, grid, fixedRand{v: 0.1})

	require.Len(t, all, 2)
	winner, ok := best["ASTERUSDT"]
	require.True(t, ok)
	require.True(t, winner.Ok)
	require.Equal(t, "4", winner.Params.TPPercent.String())
}

func TestOptimizerRunEmptyWhenAllRejected(t *testing.T) {
	start := time.Now()
	data := []SymbolData{
		{
			Symbol:  "ASTERUSDT",
			Events:  []liquidations.Event{mkEvent(start, sideSell, decimal.NewFromInt(100), decimal.NewFromInt(20))},
			Candles: candleSeries(start, []float64{100, 85}), // crashes through liquidation
		},
	}
	params := baseParams()
	params.Leverage = 10

	opt := NewOptimizer(zerolog.Nop(), DefaultWeights())
	_, best := opt.Run(data, []SimParams{params}, fixedRand{v: 0.1})
	require.Empty(t, best)
}

func TestRecommendReportsMaxPositionsAcrossSymbols(t *testing.T) {
	best := map[string]Candidate{
		"ASTERUSDT": {Score: 10, Ok: true},
		"ETHUSDT":   {Score: 5, Ok: true},
	}
	rec := Recommend(best)
	require.Equal(t, 2, rec.RecommendedMaxPositions)
	require.Len(t, rec.PerSymbol, 2)
}
