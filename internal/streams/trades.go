package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// TradeTick is one aggTrade print, enough for a VWAP accumulator.
type TradeTick struct {
	Symbol string
	Price  decimal.Decimal
	Qty    decimal.Decimal
}

type combinedMsg struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type aggTradeData struct {
	Price string `json:"p"`
	Qty   string `json:"q"`
}

// TradeReader subscribes to a multiplexed aggTrade stream for a fixed
// symbol set, grounded on a combined-stream URL construction pattern,
// narrowed from aggTrade+depth5 to aggTrade only since VWAP only needs
// prints.
type TradeReader struct {
	log     zerolog.Logger
	symbols []string
	onTick  func(TradeTick)
}

// NewTradeReader builds a reader over symbols (already lower-cased venue
// symbols, e.g. "btcusdt").
func NewTradeReader(log zerolog.Logger, symbols []string, onTick func(TradeTick)) *TradeReader {
	return &TradeReader{log: log.With().Str("component", "trade_stream").Logger(), symbols: symbols, onTick: onTick}
}

func (r *TradeReader) url() string {
	streams := make([]string, len(r.symbols))
	for i, s := range r.symbols {
		streams[i] = fmt.Sprintf("%s@aggTrade", strings.ToLower(s))
	}
	return "wss://fstream.binance.com/stream?streams=" + strings.Join(streams, "/")
}

// Run blocks until ctx is cancelled, reconnecting with a 5s backoff.
func (r *TradeReader) Run(ctx context.Context) {
	if len(r.symbols) == 0 {
		return
	}
	url := r.url()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
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

func (r *TradeReader) readLoop(ctx context.Context, conn *websocket.Conn) {
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

		var env combinedMsg
		if err := json.Unmarshal(message, &env); err != nil {
			continue
		}
		var data aggTradeData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			continue
		}
		price, err := decimal.NewFromString(data.Price)
		if err != nil {
			continue
		}
		qty, err := decimal.NewFromString(data.Qty)
		if err != nil {
			continue
		}

		symbol := strings.ToUpper(strings.SplitN(env.Stream, "@", 2)[0])
		r.onTick(TradeTick{Symbol: symbol, Price: price, Qty: qty})
	}
}
