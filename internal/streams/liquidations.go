// Package streams wraps the venue's public websocket feeds (forced
// liquidations, aggregate trades for VWAP) behind reconnecting readers
// that hand parsed events to a callback instead of a raw channel.
//
// Grounded directly on the !forceOrder@arr endpoint, a reconnect-with-sleep
// loop and wire struct, generalized from a fixed symbol allow-list and
// an Alert/Trade pair to the liquidations.Event model and a callback
// that never unwinds the reader on a single bad frame: stream handlers
// must never unwind the whole reader on a single bad event.
package streams

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/lickhunter/engine/internal/liquidations"
)

const forceOrderURL = "wss://fstream.binance.com/ws/!forceOrder@arr"

type forceOrderMsg struct {
	Order struct {
		Symbol string `json:"s"`
		Price  string `json:"p"`
		Qty    string `json:"q"`
		Side   string `json:"S"`
		Time   int64  `json:"T"`
	} `json:"o"`
}

// LiquidationReader reconnects to the public forced-liquidation feed and
// invokes onEvent for every parsed frame until ctx is cancelled.
type LiquidationReader struct {
	log     zerolog.Logger
	onEvent func(liquidations.Event)
}

// NewLiquidationReader builds a reader that calls onEvent for every
// parsed liquidation, for every symbol the venue reports (filtering by
// configured symbol happens upstream, in the engine's dispatch loop).
func NewLiquidationReader(log zerolog.Logger, onEvent func(liquidations.Event)) *LiquidationReader {
	return &LiquidationReader{log: log.With().Str("component", "liquidation_stream").Logger(), onEvent: onEvent}
}

// Run blocks until ctx is cancelled, reconnecting with a 5s backoff on
// any dial or read error.
func (r *LiquidationReader) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, forceOrderURL, nil)
		if err != nil {
			r.log.Error().Err(err).Msg("dial failed, retrying")
			if !sleepOrDone(ctx, 5*time.Second) {
				return
			}
			continue
		}
		r.log.Info().Msg("connected")
		r.readLoop(ctx, conn)
		conn.Close()

		if !sleepOrDone(ctx, 5*time.Second) {
			return
		}
	}
}

func (r *LiquidationReader) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			r.log.Error().Err(err).Msg("read error, reconnecting")
			return
		}

		var msg forceOrderMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			r.log.Warn().Err(err).Msg("dropped unparseable frame")
			continue
		}

		ev, ok := parseForceOrder(msg)
		if !ok {
			continue
		}
		r.onEvent(ev)
	}
}

func parseForceOrder(msg forceOrderMsg) (liquidations.Event, bool) {
	price, err := decimal.NewFromString(msg.Order.Price)
	if err != nil {
		return liquidations.Event{}, false
	}
	qty, err := decimal.NewFromString(msg.Order.Qty)
	if err != nil {
		return liquidations.Event{}, false
	}
	side := liquidations.SideBuy
	if msg.Order.Side == "SELL" {
		side = liquidations.SideSell
	}
	return liquidations.NewEvent(msg.Order.Symbol, side, price, qty, time.UnixMilli(msg.Order.Time)), true
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// ParseFloat64 is a small shared helper for numeric venue fields that
// don't warrant full decimal precision (e.g. display-only values).
func ParseFloat64(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
