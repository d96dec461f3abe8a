package backtest

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func winTrade(pnl float64) Trade {
	return Trade{PnL: decimal.NewFromFloat(pnl), Reason: CloseReasonTP}
}

func lossTrade(pnl float64) Trade {
	return Trade{PnL: decimal.NewFromFloat(pnl), Reason: CloseReasonSL}
}

func TestSummarizeComputesPnLAndDrawdown(t *testing.T) {
	trades := []Trade{winTrade(10), lossTrade(-4), winTrade(6), lossTrade(-12)}
	m := Summarize(trades)

	require.Equal(t, 4, m.Trades)
	require.Equal(t, 2, m.Wins)
	require.Equal(t, 2, m.Losses)
	require.Equal(t, "0", m.NetPnL.String())
	require.True(t, m.MaxDrawdown.GreaterThan(decimal.Zero))
	require.False(t, m.AnyLiquidated)
}

func TestSummarizeFlagsLiquidation(t *testing.T) {
	trades := []Trade{winTrade(10), {PnL: decimal.NewFromInt(-50), Reason: CloseReasonLiquidation, Liquidated: true}}
	m := Summarize(trades)
	require.True(t, m.AnyLiquidated)
}

func TestEvaluateRejectsOnAnyLiquidation(t *testing.T) {
	m := Metrics{AnyLiquidated: true}
	_, reason, ok := Evaluate(m, 0, baseParams(), DefaultWeights())
	require.False(t, ok)
	require.Equal(t, RejectAnyLiquidation, reason)
}

func TestEvaluateRejectsLowProfitFactor(t *testing.T) {
	m := Metrics{Trades: 10, Wins: 5, Losses: 5, GrossProfit: decimal.NewFromInt(100), GrossLoss: decimal.NewFromInt(100)}
	_, reason, ok := Evaluate(m, 2, baseParams(), DefaultWeights())
	require.False(t, ok)
	require.Equal(t, RejectProfitFactorOrStop, reason)
}

func TestEvaluateRejectsSLTooCloseToLiquidation(t *testing.T) {
	params := baseParams()
	params.Leverage = 10 // liquidation distance 10%
	params.SLPercent = decimal.NewFromFloat(9.5) // >= 0.9*10
	params.TPPercent = decimal.NewFromFloat(20)
	m := Metrics{
		Trades: 10, Wins: 8, Losses: 2,
		GrossProfit: decimal.NewFromInt(500), GrossLoss: decimal.NewFromInt(100),
	}
	_, reason, ok := Evaluate(m, 2, params, DefaultWeights())
	require.False(t, ok)
	require.Equal(t, RejectLiquidationDistance, reason)
}

func TestEvaluateRejectsLowTPSLRatio(t *testing.T) {
	params := baseParams()
	params.SLPercent = decimal.NewFromFloat(5)
	params.TPPercent = decimal.NewFromFloat(1) // ratio 0.2 < 0.33
	m := Metrics{
		Trades: 10, Wins: 8, Losses: 2,
		GrossProfit: decimal.NewFromInt(500), GrossLoss: decimal.NewFromInt(100),
	}
	_, reason, ok := Evaluate(m, 1, params, DefaultWeights())
	require.False(t, ok)
	require.Equal(t, RejectTPSLRatio, reason)
}

func TestEvaluateRejectsBelowBreakevenWinRate(t *testing.T) {
	params := baseParams()
	params.SLPercent = decimal.NewFromFloat(2)
	params.TPPercent = decimal.NewFromFloat(4) // breakeven = 2/6+0.05 = 0.3833
	m := Metrics{
		Trades: 10, Wins: 3, Losses: 7, // win rate 0.30 < breakeven
		GrossProfit: decimal.NewFromInt(500), GrossLoss: decimal.NewFromInt(100),
	}
	_, reason, ok := Evaluate(m, 1, params, DefaultWeights())
	require.False(t, ok)
	require.Equal(t, RejectWinRate, reason)
}

func TestEvaluateAcceptsHealthyConfig(t *testing.T) {
	params := baseParams()
	params.Leverage = 5               // liquidation distance 20%
	params.SLPercent = decimal.NewFromFloat(2)
	params.TPPercent = decimal.NewFromFloat(4)
	m := Metrics{
		Trades: 20, Wins: 12, Losses: 8,
		GrossProfit: decimal.NewFromInt(600), GrossLoss: decimal.NewFromInt(200),
		NetPnL: decimal.NewFromInt(400), MaxDrawdown: decimal.NewFromInt(50), Sharpe: 1.2,
	}
	score, reason, ok := Evaluate(m, 5, params, DefaultWeights())
	require.True(t, ok)
	require.Empty(t, reason)
	require.True(t, score > 0)
}

func TestBestPerSymbolPicksHighestScoringSurvivor(t *testing.T) {
	candidates := []Candidate{
		{Symbol: "ASTERUSDT", Score: 10, Ok: true},
		{Symbol: "ASTERUSDT", Score: 25, Ok: true},
		{Symbol: "ASTERUSDT", Score: 99, Ok: false}, // rejected, must not win despite high score
		{Symbol: "ETHUSDT", Score: 5, Ok: true},
	}
	best := BestPerSymbol(candidates)
	require.Equal(t, 25.0, best["ASTERUSDT"].Score)
	require.Equal(t, 5.0, best["ETHUSDT"].Score)
	require.Equal(t, 2, RecommendedMaxOpenPositions(best))
}
