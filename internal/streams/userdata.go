package streams

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/lickhunter/engine/internal/position"
)

const userDataBaseURL = "wss://fstream.binance.com/ws/"

// userDataEnvelope is the common envelope every user-data event carries;
// the concrete payload is re-parsed by event type, mirroring the venue's
// tagged-union shape with typed Go structs instead of dynamic duck-typing.
type userDataEnvelope struct {
	EventType string `json:"e"`
}

type accountUpdateMsg struct {
	A struct {
		Positions []struct {
			Symbol     string `json:"s"`
			Amount     string `json:"pa"`
			EntryPrice string `json:"ep"`
			PosSide    string `json:"ps"`
		} `json:"P"`
	} `json:"a"`
}

type orderTradeUpdateMsg struct {
	O struct {
		Symbol       string `json:"s"`
		Side         string `json:"S"`
		Status       string `json:"X"`
		OrderID      int64  `json:"i"`
		ReduceOnly   bool   `json:"R"`
		RealizedPnL  string `json:"rp"`
		FilledQty    string `json:"z"`
		AvgPrice     string `json:"ap"`
		OriginalType string `json:"ot"`
	} `json:"o"`
}

type accountConfigUpdateMsg struct {
	AC struct {
		Symbol   string `json:"s"`
		Leverage int    `json:"l"`
	} `json:"ac"`
}

// UserDataHandler is what the Position Manager exposes for the stream
// reader to call on each parsed event type.
type UserDataHandler interface {
	HandleAccountUpdate(updates []position.AccountPositionUpdate)
	HandleOrderTradeUpdate(u position.OrderTradeUpdate)
	HandleAccountConfigUpdate(u position.AccountConfigUpdate)
}

// UserDataReader reconnects to the account's user-data-stream listen key
// and dispatches parsed events to a UserDataHandler (normally
// position.Manager). listenKeyFn is called once per connection attempt
// so a stale key (expired, or rotated by the 30-minute keepalive) is
// picked up on reconnect.
type UserDataReader struct {
	log         zerolog.Logger
	listenKeyFn func(ctx context.Context) (string, error)
	handler     UserDataHandler
}

// NewUserDataReader builds a reader. listenKeyFn obtains (or refreshes)
// the listen key via the engine's REST adapter.
func NewUserDataReader(log zerolog.Logger, listenKeyFn func(ctx context.Context) (string, error), handler UserDataHandler) *UserDataReader {
	return &UserDataReader{log: log.With().Str("component", "userdata_stream").Logger(), listenKeyFn: listenKeyFn, handler: handler}
}

// Run blocks until ctx is cancelled, reconnecting with a 5s backoff.
func (r *UserDataReader) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		key, err := r.listenKeyFn(ctx)
		if err != nil {
			r.log.Error().Err(err).Msg("failed to obtain listen key, retrying")
			if !sleepOrDone(ctx, 5*time.Second) {
				return
			}
			continue
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, userDataBaseURL+key, nil)
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

func (r *UserDataReader) readLoop(ctx context.Context, conn *websocket.Conn) {
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
		r.dispatch(message)
	}
}

func (r *UserDataReader) dispatch(message []byte) {
	var env userDataEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		r.log.Warn().Err(err).Msg("dropped unparseable user-data frame")
		return
	}

	switch env.EventType {
	case "ACCOUNT_UPDATE":
		var m accountUpdateMsg
		if err := json.Unmarshal(message, &m); err != nil {
			r.log.Warn().Err(err).Msg("dropped malformed ACCOUNT_UPDATE")
			return
		}
		updates := make([]position.AccountPositionUpdate, 0, len(m.A.Positions))
		for _, p := range m.A.Positions {
			amt := parseDecOrZero(p.Amount)
			entry := parseDecOrZero(p.EntryPrice)
			side := position.SideLong
			if amt.IsNegative() || p.PosSide == "SHORT" {
				side = position.SideShort
			}
			updates = append(updates, position.AccountPositionUpdate{
				Symbol: p.Symbol,
				Side:   side,
				Qty:    amt.Abs(),
				Entry:  entry,
			})
		}
		r.handler.HandleAccountUpdate(updates)

	case "ORDER_TRADE_UPDATE":
		var m orderTradeUpdateMsg
		if err := json.Unmarshal(message, &m); err != nil {
			r.log.Warn().Err(err).Msg("dropped malformed ORDER_TRADE_UPDATE")
			return
		}
		r.handler.HandleOrderTradeUpdate(position.OrderTradeUpdate{
			OrderID:      m.O.OrderID,
			Symbol:       m.O.Symbol,
			Side:         m.O.Side,
			Status:       m.O.Status,
			ReduceOnly:   m.O.ReduceOnly,
			RealizedPnL:  parseDecOrZero(m.O.RealizedPnL),
			FilledQty:    parseDecOrZero(m.O.FilledQty),
			AvgPrice:     parseDecOrZero(m.O.AvgPrice),
			IsEntryOrder: !m.O.ReduceOnly,
		})

	case "ACCOUNT_CONFIG_UPDATE":
		var m accountConfigUpdateMsg
		if err := json.Unmarshal(message, &m); err != nil {
			r.log.Warn().Err(err).Msg("dropped malformed ACCOUNT_CONFIG_UPDATE")
			return
		}
		if m.AC.Symbol == "" {
			return // a bare margin-call-config frame carries no leverage change
		}
		r.handler.HandleAccountConfigUpdate(position.AccountConfigUpdate{Symbol: m.AC.Symbol, Leverage: m.AC.Leverage})
	}
}

func parseDecOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
