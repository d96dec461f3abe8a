package streams

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lickhunter/engine/internal/liquidations"
	"github.com/lickhunter/engine/internal/position"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func TestParseForceOrderComputesNotionalAndDirection(t *testing.T) {
	msg := forceOrderMsg{}
	msg.Order.Symbol = "ASTERUSDT"
	msg.Order.Price = "100.5"
	msg.Order.Qty = "2"
	msg.Order.Side = "SELL"
	msg.Order.Time = 1700000000000

	ev, ok := parseForceOrder(msg)
	require.True(t, ok)
	require.Equal(t, "ASTERUSDT", ev.Symbol)
	require.Equal(t, liquidations.SideSell, ev.Side)
	require.Equal(t, liquidations.DirectionLong, ev.Side.Direction())
	require.Equal(t, "201", ev.Notional.String())
}

func TestParseForceOrderRejectsMalformedPrice(t *testing.T) {
	msg := forceOrderMsg{}
	msg.Order.Symbol = "ASTERUSDT"
	msg.Order.Price = "not-a-number"
	msg.Order.Qty = "2"

	_, ok := parseForceOrder(msg)
	require.False(t, ok)
}

type fakeUserDataHandler struct {
	accountUpdates []position.AccountPositionUpdate
	tradeUpdates   []position.OrderTradeUpdate
	configUpdates  []position.AccountConfigUpdate
}

func (f *fakeUserDataHandler) HandleAccountUpdate(updates []position.AccountPositionUpdate) {
	f.accountUpdates = append(f.accountUpdates, updates...)
}
func (f *fakeUserDataHandler) HandleOrderTradeUpdate(u position.OrderTradeUpdate) {
	f.tradeUpdates = append(f.tradeUpdates, u)
}
func (f *fakeUserDataHandler) HandleAccountConfigUpdate(u position.AccountConfigUpdate) {
	f.configUpdates = append(f.configUpdates, u)
}

func TestDispatchRoutesAccountUpdate(t *testing.T) {
	h := &fakeUserDataHandler{}
	r := NewUserDataReader(testLogger(), nil, h)

	frame := []byte(`{"e":"ACCOUNT_UPDATE","a":{"P":[{"s":"ASTERUSDT","pa":"1.500","ep":"100.0","ps":"LONG"}]}}`)
	r.dispatch(frame)

	require.Len(t, h.accountUpdates, 1)
	require.Equal(t, "ASTERUSDT", h.accountUpdates[0].Symbol)
	require.Equal(t, position.SideLong, h.accountUpdates[0].Side)
	require.Equal(t, "1.5", h.accountUpdates[0].Qty.String())
}

func TestDispatchRoutesOrderTradeUpdate(t *testing.T) {
	h := &fakeUserDataHandler{}
	r := NewUserDataReader(testLogger(), nil, h)

	frame := []byte(`{"e":"ORDER_TRADE_UPDATE","o":{"s":"ASTERUSDT","S":"SELL","X":"FILLED","i":555,"R":true,"rp":"12.5","z":"1.0","ap":"101.2","ot":"LIMIT"}}`)
	r.dispatch(frame)

	require.Len(t, h.tradeUpdates, 1)
	require.Equal(t, int64(555), h.tradeUpdates[0].OrderID)
	require.False(t, h.tradeUpdates[0].IsEntryOrder) // reduce-only => not an entry fill
}

func TestDispatchIgnoresConfigUpdateWithoutSymbol(t *testing.T) {
	h := &fakeUserDataHandler{}
	r := NewUserDataReader(testLogger(), nil, h)

	frame := []byte(`{"e":"ACCOUNT_CONFIG_UPDATE","ac":{}}`)
	r.dispatch(frame)
	require.Empty(t, h.configUpdates)
}

func TestDispatchRoutesAccountConfigUpdate(t *testing.T) {
	h := &fakeUserDataHandler{}
	r := NewUserDataReader(testLogger(), nil, h)

	frame := []byte(`{"e":"ACCOUNT_CONFIG_UPDATE","ac":{"s":"ASTERUSDT","l":20}}`)
	r.dispatch(frame)
	require.Len(t, h.configUpdates, 1)
	require.Equal(t, 20, h.configUpdates[0].Leverage)
}
