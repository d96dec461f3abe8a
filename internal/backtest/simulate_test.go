package backtest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lickhunter/engine/internal/liquidations"
)

// fixedRand returns the same value every call, making outcomes
// deterministic without depending on math/rand's algorithm.
type fixedRand struct{ v float64 }

func (f fixedRand) Float64() float64 { return f.v }

func mkEvent(t time.Time, side futuresSide, price, qty decimal.Decimal) liquidations.Event {
	return liquidations.Event{
		Symbol:    "ASTERUSDT",
		Side:      liquidations.Side(side),
		Price:     price,
		Qty:       qty,
		Notional:  price.Mul(qty),
		TradeTime: t,
	}
}

type futuresSide string

const (
	sideBuy  futuresSide = "BUY"
	sideSell futuresSide = "SELL"
)

func candleSeries(start time.Time, closes []float64) []Candle {
	out := make([]Candle, len(closes))
	for i, c := range closes {
		price := decimal.NewFromFloat(c)
		out[i] = Candle{
			OpenTimeMs: start.Add(time.Duration(i) * time.Minute).UnixMilli(),
			Open:       price,
			High:       price.Mul(decimal.NewFromFloat(1.002)),
			Low:        price.Mul(decimal.NewFromFloat(0.998)),
			Close:      price,
			Volume:     decimal.NewFromInt(100),
		}
	}
	return out
}

func baseParams() SimParams {
	return SimParams{
		LongThreshold:    decimal.NewFromInt(1000),
		ShortThreshold:   decimal.NewFromInt(1000),
		WindowMs:         60000,
		CooldownMs:       0,
		HunterCooldownMs: 0,
		SLPercent:        decimal.NewFromInt(2),
		TPPercent:        decimal.NewFromInt(4),
		Leverage:         10,
		MakerFeeRate:     decimal.NewFromFloat(0.0002),
		TakerFeeRate:     decimal.NewFromFloat(0.0004),
	}
}

func TestRunEntersOnThresholdAndClosesOnTP(t *testing.T) {
	start := time.Now()
	events := []liquidations.Event{
		mkEvent(start, sideSell, decimal.NewFromInt(100), decimal.NewFromInt(20)), // SELL liquidation -> long entry, notional 2000
	}
	// rising candle series so the long position's TP is touched.
	candles := candleSeries(start, []float64{100, 101, 103, 106, 110})

	rng := fixedRand{v: 0.1} // fills the limit order, no market fallback, picks the closer target (SL here) on ties
	trades := Run("ASTERUSDT", events, candles, baseParams(), rng)

	require.Len(t, trades, 1)
	require.Equal(t, liquidations.DirectionLong, trades[0].Side)
	require.Equal(t, CloseReasonTP, trades[0].Reason)
	require.True(t, trades[0].PnL.GreaterThan(decimal.Zero))
}

func TestRunSkipsBelowThreshold(t *testing.T) {
	start := time.Now()
	events := []liquidations.Event{
		mkEvent(start, sideSell, decimal.NewFromInt(100), decimal.NewFromInt(1)), // notional 100, below 1000 threshold
	}
	candles := candleSeries(start, []float64{100, 101, 103})

	trades := Run("ASTERUSDT", events, candles, baseParams(), fixedRand{v: 0.1})
	require.Empty(t, trades)
}

func TestRunRespectsCooldown(t *testing.T) {
	start := time.Now()
	params := baseParams()
	params.CooldownMs = 3600000 // 1 hour
	events := []liquidations.Event{
		mkEvent(start, sideSell, decimal.NewFromInt(100), decimal.NewFromInt(20)),
		// After the first trade resolves (TP at candle 3), so only the cooldown can block it.
		mkEvent(start.Add(5*time.Minute), sideSell, decimal.NewFromInt(100), decimal.NewFromInt(20)),
	}
	candles := candleSeries(start, []float64{100, 101, 103, 106, 110, 112, 114})

	trades := Run("ASTERUSDT", events, candles, params, fixedRand{v: 0.1})
	require.Len(t, trades, 1, "second event should be blocked by the per-direction cooldown")
}

func TestRunBlocksOverlappingSameDirectionEntryUntilPriorTradeResolves(t *testing.T) {
	start := time.Now()
	params := baseParams()
	params.CooldownMs = 0
	params.HunterCooldownMs = 0
	events := []liquidations.Event{
		mkEvent(start, sideSell, decimal.NewFromInt(100), decimal.NewFromInt(20)),
		mkEvent(start.Add(30*time.Second), sideSell, decimal.NewFromInt(100), decimal.NewFromInt(20)),
	}
	// flat until the last bar, which touches TP: the first trade stays open
	// through every candle until index 4.
	candles := candleSeries(start, []float64{100, 100, 100, 100, 110})

	trades := Run("ASTERUSDT", events, candles, params, fixedRand{v: 0.1})
	require.Len(t, trades, 1, "second event arrives before the first long position resolves and must be blocked")
}

func TestSimulateOneTradeHitsLiquidationFirst(t *testing.T) {
	start := time.Now()
	entry := decimal.NewFromInt(100)
	// leverage 10 -> liquidation distance 10%; crash the candle well past it
	candles := []Candle{
		{OpenTimeMs: start.UnixMilli(), Open: entry, High: entry, Low: decimal.NewFromInt(85), Close: decimal.NewFromInt(85), Volume: decimal.NewFromInt(10)},
	}
	params := baseParams()
	trade, next, exitMs := simulateOneTrade("ASTERUSDT", liquidations.DirectionLong, entry, start.UnixMilli(), candles, 0, params, fixedRand{v: 0.1})
	require.Equal(t, CloseReasonLiquidation, trade.Reason)
	require.True(t, trade.Liquidated)
	require.True(t, trade.PnL.LessThan(decimal.Zero))
	require.Equal(t, 1, next)
	require.Equal(t, candles[0].OpenTimeMs, exitMs)
}

func TestSimulateOneTradeFallsBackToEODWhenNoTouch(t *testing.T) {
	start := time.Now()
	entry := decimal.NewFromInt(100)
	candles := candleSeries(start, []float64{100, 100.1, 100.2})
	params := baseParams()
	trade, next, exitMs := simulateOneTrade("ASTERUSDT", liquidations.DirectionLong, entry, start.UnixMilli(), candles, 0, params, fixedRand{v: 0.1})
	require.Equal(t, CloseReasonEOD, trade.Reason)
	require.Equal(t, len(candles), next)
	require.Equal(t, candles[len(candles)-1].Close.String(), trade.ExitPrice.String())
	require.Equal(t, candles[len(candles)-1].OpenTimeMs, exitMs)
}

func TestCommissionAppliesAverageFillsMultiplier(t *testing.T) {
	params := baseParams()
	notional := decimal.NewFromInt(1000)
	fee := Commission(notional, params, false)
	// entry: 1000*(0.9*0.0002+0.1*0.0004) = 1000*0.00022 = 0.22
	// exit: 1000*0.0004 = 0.4
	// total * 1.5 = 0.93
	require.Equal(t, "0.93", fee.StringFixed(2))
}

func TestCommissionUsesMakerRateOnEOD(t *testing.T) {
	params := baseParams()
	notional := decimal.NewFromInt(1000)
	feeEOD := Commission(notional, params, true)
	feeNonEOD := Commission(notional, params, false)
	require.True(t, feeEOD.LessThan(feeNonEOD))
}

func TestClampSharpeBounds(t *testing.T) {
	require.Equal(t, 5.0, clampSharpe(42))
	require.Equal(t, -5.0, clampSharpe(-42))
	require.Equal(t, 0.0, clampSharpe(0))
	require.Equal(t, 0.0, clampSharpe(mathNaN()))
}

func mathNaN() float64 {
	var zero float64
	return zero / zero
}
