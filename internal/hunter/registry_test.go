package hunter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReserveThenAckRekeysID(t *testing.T) {
	r := NewRegistry(5 * time.Minute)
	now := time.Now()
	po := r.Reserve("ASTERUSDT", "BUY", now)
	require.True(t, r.HasPendingForSymbol("ASTERUSDT"))

	r.Ack(po.ID, "998877")
	require.True(t, r.HasPendingForSymbol("ASTERUSDT"))
	require.Equal(t, 1, r.Count())
}

func TestPurgeRemovesRecord(t *testing.T) {
	r := NewRegistry(5 * time.Minute)
	po := r.Reserve("ASTERUSDT", "BUY", time.Now())
	r.Purge(po.ID)
	require.False(t, r.HasPendingForSymbol("ASTERUSDT"))
	require.Equal(t, 0, r.Count())
}

func TestSweepDropsStaleRecords(t *testing.T) {
	r := NewRegistry(time.Minute)
	old := time.Now().Add(-2 * time.Minute)
	r.Reserve("ASTERUSDT", "BUY", old)
	fresh := time.Now()
	r.Reserve("ETHUSDT", "SELL", fresh)

	purged := r.Sweep(time.Now())
	require.Equal(t, 1, purged)
	require.False(t, r.HasPendingForSymbol("ASTERUSDT"))
	require.True(t, r.HasPendingForSymbol("ETHUSDT"))
}

func TestHasPendingForSymbolFalseWhenEmpty(t *testing.T) {
	r := NewRegistry(time.Minute)
	require.False(t, r.HasPendingForSymbol("ASTERUSDT"))
}
