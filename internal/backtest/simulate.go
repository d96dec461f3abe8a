// Package backtest is the Backtester/Optimizer (C9): replays stored
// liquidations against a cached candle series and scores candidate
// configurations.
//
// No prior engine analogue exists for offline simulation; the shape
// (explicit *rand.Rand threaded through every probabilistic decision
// instead of a package-level math/rand call) is grounded on the
// kasyap1234-delta-go backtest engine manifest's deterministic-candle
// replay idiom, adapted to a liquidation-driven entry model and scoring
// rules instead of that engine's own strategy interface.
package backtest

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/lickhunter/engine/internal/liquidations"
)

// Candle is one OHLCV bar.
type Candle struct {
	OpenTimeMs int64
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     decimal.Decimal
}

// SimParams is one candidate configuration under test.
type SimParams struct {
	LongThreshold  decimal.Decimal
	ShortThreshold decimal.Decimal
	WindowMs       int64
	CooldownMs     int64
	HunterCooldownMs int64
	SLPercent      decimal.Decimal
	TPPercent      decimal.Decimal
	Leverage       int
	MakerFeeRate   decimal.Decimal
	TakerFeeRate   decimal.Decimal
}

const (
	limitFillRate      = 0.85
	marketFallbackRate = 0.10
	marketSlippagePct  = 0.0020
	tpSlippagePct      = 0.0010
	slSlippageBase     = 0.0050
	slSlippageHighVol  = 0.0080
	volFactorThreshold = 1.5
	liquidationFeePct  = 0.005
	avgFillsPerTrade   = 1.5
)

// CloseReason explains why a simulated position closed.
type CloseReason string

const (
	CloseReasonTP           CloseReason = "tp"
	CloseReasonSL           CloseReason = "sl"
	CloseReasonLiquidation  CloseReason = "liquidation"
	CloseReasonEOD          CloseReason = "eod"
)

// Trade is one simulated round trip.
type Trade struct {
	Symbol      string
	Side        liquidations.Direction
	EntryPrice  decimal.Decimal
	ExitPrice   decimal.Decimal
	Qty         decimal.Decimal
	PnL         decimal.Decimal // net of commission
	Reason      CloseReason
	Liquidated  bool
}

// Rand is the minimal random source the simulator consumes, satisfied by
// *rand.Rand. Passed in explicitly so a run is fully reproducible from a
// seed (no hidden time.Now()/math/rand global state).
type Rand interface {
	Float64() float64
}

// entryWindow tracks cumulative volume for one direction during the
// replay, mirroring threshold.Monitor's ring-buffer logic but against a
// candle timeline instead of live events.
type entryWindow struct {
	entries []tick
	sum     decimal.Decimal
	lastTriggerMs int64
}

type tick struct {
	atMs     int64
	notional decimal.Decimal
}

func (w *entryWindow) add(atMs int64, notional decimal.Decimal, windowMs int64) {
	w.entries = append(w.entries, tick{atMs: atMs, notional: notional})
	w.sum = w.sum.Add(notional)
	cutoff := atMs - windowMs
	i := 0
	for i < len(w.entries) && w.entries[i].atMs < cutoff {
		w.sum = w.sum.Sub(w.entries[i].notional)
		i++
	}
	if i > 0 {
		w.entries = w.entries[i:]
	}
}

// Run simulates params against events and candles (assumed sorted
// ascending by time, one candle series per symbol). rng drives every
// probabilistic decision.
func Run(symbol string, events []liquidations.Event, candles []Candle, params SimParams, rng Rand) []Trade {
	var trades []Trade
	longW := &entryWindow{}
	shortW := &entryWindow{}
	var lastHunterTriggerMs int64
	var heldUntilLongMs, heldUntilShortMs int64

	candleIdx := 0
	for _, ev := range events {
		ms := ev.TradeTime.UnixMilli()
		dir := ev.Side.Direction()

		w := longW
		heldUntilMs := heldUntilLongMs
		threshold := params.LongThreshold
		if dir == liquidations.DirectionShort {
			w = shortW
			heldUntilMs = heldUntilShortMs
			threshold = params.ShortThreshold
		}
		w.add(ms, ev.Notional, params.WindowMs)

		if ms < heldUntilMs {
			continue
		}
		if w.sum.LessThan(threshold) {
			continue
		}
		if w.lastTriggerMs != 0 && ms-w.lastTriggerMs < params.CooldownMs {
			continue
		}
		if lastHunterTriggerMs != 0 && ms-lastHunterTriggerMs < params.HunterCooldownMs {
			continue
		}

		if rng.Float64() > limitFillRate {
			continue // limit order skipped unfilled
		}

		// Advance to the first candle opening at or after entry time.
		for candleIdx < len(candles) && candles[candleIdx].OpenTimeMs < ms {
			candleIdx++
		}
		if candleIdx >= len(candles) {
			break
		}

		entryPrice := ev.Price
		if rng.Float64() < marketFallbackRate {
			if dir == liquidations.DirectionLong {
				entryPrice = entryPrice.Mul(decimal.NewFromFloat(1 + marketSlippagePct))
			} else {
				entryPrice = entryPrice.Mul(decimal.NewFromFloat(1 - marketSlippagePct))
			}
		}

		trade, nextIdx, exitMs := simulateOneTrade(symbol, dir, entryPrice, ms, candles, candleIdx, params, rng)
		trades = append(trades, trade)

		w.lastTriggerMs = ms
		lastHunterTriggerMs = ms
		candleIdx = nextIdx

		if dir == liquidations.DirectionLong {
			heldUntilLongMs = exitMs
		} else {
			heldUntilShortMs = exitMs
		}
	}

	return trades
}

// simulateOneTrade returns the resolved Trade, the candle index to resume
// scanning from, and the ms timestamp at which the position resolved —
// callers use the latter to keep the slot held until resolution instead of
// releasing it immediately.
func simulateOneTrade(symbol string, dir liquidations.Direction, entry decimal.Decimal, entryMs int64, candles []Candle, startIdx int, params SimParams, rng Rand) (Trade, int, int64) {
	isLong := dir == liquidations.DirectionLong
	hundred := decimal.NewFromInt(100)
	slFrac := params.SLPercent.Div(hundred)
	tpFrac := params.TPPercent.Div(hundred)

	var slPrice, tpPrice, liqPrice decimal.Decimal
	levFrac := decimal.NewFromInt(1)
	if params.Leverage > 0 {
		levFrac = decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(params.Leverage)))
	}
	if isLong {
		slPrice = entry.Mul(decimal.NewFromInt(1).Sub(slFrac))
		tpPrice = entry.Mul(decimal.NewFromInt(1).Add(tpFrac))
		liqPrice = entry.Mul(decimal.NewFromInt(1).Sub(levFrac))
	} else {
		slPrice = entry.Mul(decimal.NewFromInt(1).Add(slFrac))
		tpPrice = entry.Mul(decimal.NewFromInt(1).Sub(tpFrac))
		liqPrice = entry.Mul(decimal.NewFromInt(1).Add(levFrac))
	}

	qty := decimal.NewFromInt(1)

	for i := startIdx; i < len(candles); i++ {
		c := candles[i]

		crossesLiq := false
		if isLong {
			crossesLiq = c.Low.LessThanOrEqual(liqPrice)
		} else {
			crossesLiq = c.High.GreaterThanOrEqual(liqPrice)
		}
		if crossesLiq {
			loss := entry.Mul(qty).Neg()
			fee := entry.Mul(qty).Mul(decimal.NewFromFloat(liquidationFeePct))
			pnl := loss.Sub(fee).Sub(Commission(entry.Mul(qty), params, false))
			return Trade{Symbol: symbol, Side: dir, EntryPrice: entry, ExitPrice: liqPrice, Qty: qty, PnL: pnl, Reason: CloseReasonLiquidation, Liquidated: true}, i + 1, c.OpenTimeMs
		}

		touchesTP := false
		touchesSL := false
		if isLong {
			touchesTP = c.High.GreaterThanOrEqual(tpPrice)
			touchesSL = c.Low.LessThanOrEqual(slPrice)
		} else {
			touchesTP = c.Low.LessThanOrEqual(tpPrice)
			touchesSL = c.High.GreaterThanOrEqual(slPrice)
		}

		if !touchesTP && !touchesSL {
			continue
		}

		hitTP := touchesTP
		if touchesTP && touchesSL {
			closerIsTP := tpFrac.LessThanOrEqual(slFrac)
			pickCloser := rng.Float64() < 0.70
			hitTP = (pickCloser && closerIsTP) || (!pickCloser && !closerIsTP)
		}

		volFactor := volatilityFactor(candles, i)
		if hitTP {
			exitPrice := tpPrice
			if isLong {
				exitPrice = exitPrice.Mul(decimal.NewFromFloat(1 - tpSlippagePct))
			} else {
				exitPrice = exitPrice.Mul(decimal.NewFromFloat(1 + tpSlippagePct))
			}
			pnl := exitPrice.Sub(entry).Mul(qty)
			if !isLong {
				pnl = entry.Sub(exitPrice).Mul(qty)
			}
			pnl = pnl.Sub(Commission(entry.Mul(qty), params, false))
			return Trade{Symbol: symbol, Side: dir, EntryPrice: entry, ExitPrice: exitPrice, Qty: qty, PnL: pnl, Reason: CloseReasonTP}, i + 1, c.OpenTimeMs
		}

		slSlip := slSlippageBase
		if volFactor > volFactorThreshold {
			slSlip = slSlippageHighVol
		}
		exitPrice := slPrice
		if isLong {
			exitPrice = exitPrice.Mul(decimal.NewFromFloat(1 - slSlip))
		} else {
			exitPrice = exitPrice.Mul(decimal.NewFromFloat(1 + slSlip))
		}
		pnl := exitPrice.Sub(entry).Mul(qty)
		if !isLong {
			pnl = entry.Sub(exitPrice).Mul(qty)
		}
		pnl = pnl.Sub(Commission(entry.Mul(qty), params, false))
		return Trade{Symbol: symbol, Side: dir, EntryPrice: entry, ExitPrice: exitPrice, Qty: qty, PnL: pnl, Reason: CloseReasonSL}, i + 1, c.OpenTimeMs
	}

	// Leftover: close at last bar, no slippage (EOD).
	if len(candles) == 0 {
		return Trade{Symbol: symbol, Side: dir, EntryPrice: entry, ExitPrice: entry, Qty: qty, PnL: decimal.Zero, Reason: CloseReasonEOD}, len(candles), entryMs
	}
	last := candles[len(candles)-1]
	pnl := last.Close.Sub(entry).Mul(qty)
	if !isLong {
		pnl = entry.Sub(last.Close).Mul(qty)
	}
	pnl = pnl.Sub(Commission(entry.Mul(qty), params, true))
	return Trade{Symbol: symbol, Side: dir, EntryPrice: entry, ExitPrice: last.Close, Qty: qty, PnL: pnl, Reason: CloseReasonEOD}, len(candles), last.OpenTimeMs
}

// volatilityFactor is a 20-bar range-vs-average proxy: the current bar's
// range divided by the trailing 20-bar average range.
func volatilityFactor(candles []Candle, idx int) float64 {
	lookback := 20
	start := idx - lookback
	if start < 0 {
		start = 0
	}
	if idx == start {
		return 1.0
	}
	var totalRange float64
	n := 0
	for i := start; i < idx; i++ {
		r := candles[i].High.Sub(candles[i].Low)
		f, _ := r.Float64()
		totalRange += f
		n++
	}
	if n == 0 || totalRange == 0 {
		return 1.0
	}
	avg := totalRange / float64(n)
	cur := candles[idx].High.Sub(candles[idx].Low)
	curF, _ := cur.Float64()
	if avg == 0 {
		return 1.0
	}
	return curF / avg
}

// Commission computes the entry/exit commission for one trade: entry =
// notional × (0.9×maker + 0.1×taker); exit = notional × taker (maker if
// EOD); both multiplied by 1.5 average fills per trade.
func Commission(notional decimal.Decimal, params SimParams, isEOD bool) decimal.Decimal {
	entryRate := params.MakerFeeRate.Mul(decimal.NewFromFloat(0.9)).Add(params.TakerFeeRate.Mul(decimal.NewFromFloat(0.1)))
	exitRate := params.TakerFeeRate
	if isEOD {
		exitRate = params.MakerFeeRate
	}
	entryFee := notional.Mul(entryRate)
	exitFee := notional.Mul(exitRate)
	return entryFee.Add(exitFee).Mul(decimal.NewFromFloat(avgFillsPerTrade))
}

// clampSharpe caps Sharpe to [-5, 5] so one freak run can't dominate scoring.
func clampSharpe(s float64) float64 {
	if math.IsNaN(s) {
		return 0
	}
	if s > 5 {
		return 5
	}
	if s < -5 {
		return -5
	}
	return s
}
