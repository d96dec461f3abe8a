package copytrade

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCountOpenByWalletGroupsOnlyOpenPositions(t *testing.T) {
	store, err := Open("")
	require.NoError(t, err)
	defer store.Close()

	w1, err := store.InsertWallet(Wallet{Label: "f1", APIKey: "k", APISecret: "s", Multiplier: decimal.NewFromInt(1), Enabled: true})
	require.NoError(t, err)
	w2, err := store.InsertWallet(Wallet{Label: "f2", APIKey: "k", APISecret: "s", Multiplier: decimal.NewFromInt(1), Enabled: true})
	require.NoError(t, err)

	id1, err := store.InsertFollowerPosition(FollowerPosition{
		WalletID: w1, MasterOrderID: "m1", Symbol: "ASTERUSDT", Side: "LONG",
		Qty: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100), Status: FollowerStatusOpen, RealizedPnL: decimal.Zero, OpenedAt: time.Now(),
	})
	require.NoError(t, err)
	_, err = store.InsertFollowerPosition(FollowerPosition{
		WalletID: w1, MasterOrderID: "m2", Symbol: "ASTERUSDT", Side: "LONG",
		Qty: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100), Status: FollowerStatusOpen, RealizedPnL: decimal.Zero, OpenedAt: time.Now(),
	})
	require.NoError(t, err)
	_, err = store.InsertFollowerPosition(FollowerPosition{
		WalletID: w2, MasterOrderID: "m3", Symbol: "ASTERUSDT", Side: "SHORT",
		Qty: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100), Status: FollowerStatusOpen, RealizedPnL: decimal.Zero, OpenedAt: time.Now(),
	})
	require.NoError(t, err)

	counts, err := store.CountOpenByWallet()
	require.NoError(t, err)
	require.Equal(t, 2, counts[w1])
	require.Equal(t, 1, counts[w2])

	require.NoError(t, store.CloseFollowerPosition(id1, decimal.NewFromInt(5), time.Now()))

	counts, err = store.CountOpenByWallet()
	require.NoError(t, err)
	require.Equal(t, 1, counts[w1])
}
