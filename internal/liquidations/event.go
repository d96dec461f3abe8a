// Package liquidations is the Liquidation Event model and the append-only
// Liquidation Store (C3).
//
// Side/Amount/Symbol are grounded directly on a forceOrder liquidation
// event struct; Price/Qty/notional/times round out the fields needed
// for threshold accumulation and storage.
package liquidations

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side mirrors the venue's forceOrder side: BUY means shorts are being
// liquidated (bullish fuel), SELL means longs are being liquidated.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Direction is the signal direction a liquidation side maps to in the
// Threshold Monitor: SELL liquidations fuel long signals, BUY liquidations
// fuel short signals.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

func (s Side) Direction() Direction {
	if s == SideSell {
		return DirectionLong
	}
	return DirectionShort
}

// Event is one observed forced liquidation, immutable once stored.
type Event struct {
	Symbol     string
	Side       Side
	Price      decimal.Decimal
	Qty        decimal.Decimal
	Notional   decimal.Decimal
	TradeTime  time.Time
	IngressTime time.Time
}

// NewEvent computes Notional = Price × Qty and stamps IngressTime.
func NewEvent(symbol string, side Side, price, qty decimal.Decimal, tradeTime time.Time) Event {
	return Event{
		Symbol:      symbol,
		Side:        side,
		Price:       price,
		Qty:         qty,
		Notional:    price.Mul(qty),
		TradeTime:   tradeTime,
		IngressTime: time.Now(),
	}
}
