package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lickhunter/engine/internal/status"
)

func TestSubscribeTranslatesStatusEventsIntoCounters(t *testing.T) {
	hub := status.NewHub(zerolog.Nop())
	reg := New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reg.Subscribe(ctx, hub)
		close(done)
	}()

	hub.Publish(status.Event{Kind: status.KindOrderFilled, Symbol: "ASTERUSDT", Fields: map[string]any{"side": "BUY"}})
	hub.Publish(status.Event{Kind: status.KindTradeBlocked, Symbol: "ASTERUSDT", Code: "vwap_violation"})
	hub.Publish(status.Event{Kind: status.KindPositionClosed, Symbol: "ASTERUSDT"})

	require.Eventually(t, func() bool {
		return counterValue(t, reg, "engine_orders_placed_total", map[string]string{"symbol": "ASTERUSDT", "side": "BUY"}) == 1
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return counterValue(t, reg, "engine_orders_rejected_total", map[string]string{"symbol": "ASTERUSDT", "reason": "vwap_violation"}) == 1
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return counterValue(t, reg, "engine_open_positions", map[string]string{}) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
