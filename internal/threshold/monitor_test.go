package threshold

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lickhunter/engine/internal/liquidations"
)

func testConfig() SymbolConfig {
	return SymbolConfig{
		LongThreshold:  decimal.NewFromInt(10000),
		ShortThreshold: decimal.NewFromInt(10000),
		WindowMs:       (60 * time.Second).Milliseconds(),
		CooldownMs:     (30 * time.Second).Milliseconds(),
		UseThreshold:   true,
	}
}

func TestOnLiquidationAccumulatesPerDirection(t *testing.T) {
	m := New(2 * time.Minute)
	cfg := testConfig()
	now := time.Now()

	ev1 := liquidations.NewEvent("ASTERUSDT", liquidations.SideSell, decimal.NewFromInt(1), decimal.NewFromInt(3000), now)
	st := m.OnLiquidation(ev1, cfg)
	require.Equal(t, "3000", st.RecentLongVolume.String())
	require.Equal(t, "0", st.RecentShortVolume.String())

	ev2 := liquidations.NewEvent("ASTERUSDT", liquidations.SideSell, decimal.NewFromInt(1), decimal.NewFromInt(4000), now.Add(time.Second))
	st = m.OnLiquidation(ev2, cfg)
	require.Equal(t, "7000", st.RecentLongVolume.String())
}

func TestOnLiquidationEvictsOutsideWindow(t *testing.T) {
	m := New(2 * time.Minute)
	cfg := testConfig()
	base := time.Now()

	m.OnLiquidation(liquidations.NewEvent("ASTERUSDT", liquidations.SideSell, decimal.NewFromInt(1), decimal.NewFromInt(9000), base), cfg)
	st := m.OnLiquidation(liquidations.NewEvent("ASTERUSDT", liquidations.SideSell, decimal.NewFromInt(1), decimal.NewFromInt(500), base.Add(90*time.Second)), cfg)

	require.Equal(t, "500", st.RecentLongVolume.String())
}

func TestTriggeredRequiresVolumeAndCooldown(t *testing.T) {
	m := New(2 * time.Minute)
	cfg := testConfig()
	now := time.Now()

	ev := liquidations.NewEvent("ASTERUSDT", liquidations.SideSell, decimal.NewFromInt(1), decimal.NewFromInt(12000), now)
	m.OnLiquidation(ev, cfg)

	require.True(t, m.Triggered("ASTERUSDT", liquidations.DirectionLong, ev.Notional, cfg, now))

	m.MarkTriggered("ASTERUSDT", liquidations.DirectionLong, now)

	require.False(t, m.Triggered("ASTERUSDT", liquidations.DirectionLong, ev.Notional, cfg, now.Add(time.Second)))
	require.True(t, m.Triggered("ASTERUSDT", liquidations.DirectionLong, ev.Notional, cfg, now.Add(3*time.Minute)))
}

func TestTriggeredBlockedByGlobalHunterCooldown(t *testing.T) {
	m := New(2 * time.Minute)
	cfg := testConfig()
	now := time.Now()

	longEv := liquidations.NewEvent("ASTERUSDT", liquidations.SideSell, decimal.NewFromInt(1), decimal.NewFromInt(12000), now)
	m.OnLiquidation(longEv, cfg)
	m.MarkTriggered("ASTERUSDT", liquidations.DirectionLong, now)

	shortEv := liquidations.NewEvent("ETHUSDT", liquidations.SideBuy, decimal.NewFromInt(1), decimal.NewFromInt(12000), now.Add(time.Second))
	m.OnLiquidation(shortEv, cfg)

	require.False(t, m.Triggered("ETHUSDT", liquidations.DirectionShort, shortEv.Notional, cfg, now.Add(time.Second)))
	require.True(t, m.Triggered("ETHUSDT", liquidations.DirectionShort, shortEv.Notional, cfg, now.Add(3*time.Minute)))
}

func TestTriggeredInstantModeUsesSingleEvent(t *testing.T) {
	m := New(2 * time.Minute)
	cfg := testConfig()
	cfg.UseThreshold = false
	now := time.Now()

	small := liquidations.NewEvent("ASTERUSDT", liquidations.SideSell, decimal.NewFromInt(1), decimal.NewFromInt(500), now)
	m.OnLiquidation(small, cfg)
	require.False(t, m.Triggered("ASTERUSDT", liquidations.DirectionLong, small.Notional, cfg, now))

	big := liquidations.NewEvent("ASTERUSDT", liquidations.SideSell, decimal.NewFromInt(1), decimal.NewFromInt(11000), now)
	m.OnLiquidation(big, cfg)
	require.True(t, m.Triggered("ASTERUSDT", liquidations.DirectionLong, big.Notional, cfg, now))
}

func TestRemainingCooldownReflectsBindingConstraint(t *testing.T) {
	m := New(2 * time.Minute)
	cfg := testConfig()
	now := time.Now()

	m.MarkTriggered("ASTERUSDT", liquidations.DirectionLong, now)

	remaining := m.RemainingCooldown("ASTERUSDT", liquidations.DirectionLong, cfg, now.Add(10*time.Second))
	require.Greater(t, remaining, time.Duration(0))
	require.LessOrEqual(t, remaining, 2*time.Minute)

	remaining = m.RemainingCooldown("ASTERUSDT", liquidations.DirectionLong, cfg, now.Add(3*time.Minute))
	require.Equal(t, time.Duration(0), remaining)
}
