package engine

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lickhunter/engine/internal/config"
	"github.com/lickhunter/engine/internal/copytrade"
	"github.com/lickhunter/engine/internal/position"
	"github.com/lickhunter/engine/internal/status"
)

type fakeExecutor struct {
	submittedQty decimal.Decimal
	placedSL     decimal.Decimal
	placedTP     decimal.Decimal
	cancelled    int
}

func (f *fakeExecutor) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}
func (f *fakeExecutor) SubmitMarketOrder(ctx context.Context, symbol, side string, qty decimal.Decimal, reduceOnly bool) (decimal.Decimal, error) {
	f.submittedQty = qty
	return decimal.NewFromInt(100), nil
}
func (f *fakeExecutor) CancelProtectiveOrders(ctx context.Context, symbol string) error {
	f.cancelled++
	return nil
}
func (f *fakeExecutor) PlaceProtectiveOrders(ctx context.Context, symbol, side string, qty, sl, tp decimal.Decimal) error {
	f.placedSL, f.placedTP = sl, tp
	return nil
}

func TestFanoutNotifierTranslatesMasterOpenedIntoFollowerMirror(t *testing.T) {
	store, err := copytrade.Open("")
	require.NoError(t, err)
	defer store.Close()

	walletID, err := store.InsertWallet(copytrade.Wallet{
		Label: "f1", APIKey: "k", APISecret: "s", Multiplier: decimal.NewFromFloat(0.5), Enabled: true,
	})
	require.NoError(t, err)

	exec := &fakeExecutor{}
	fo := copytrade.New(store, map[int64]copytrade.Executor{walletID: exec}, status.NewHub(zerolog.Nop()), zerolog.Nop(), 10)
	notifier := fanoutNotifier{fanout: fo}

	notifier.OnMasterOpened(context.Background(), position.MasterOpenedEvent{
		MasterOrderID: "m1", Symbol: "ASTERUSDT", Side: "BUY", Qty: decimal.NewFromInt(10), EntryPrice: decimal.NewFromInt(100),
	})
	require.Equal(t, "5", exec.submittedQty.String())

	positions, err := store.PositionsForMasterOrder("m1")
	require.NoError(t, err)
	require.Len(t, positions, 1)

	notifier.OnMasterProtectiveChange(context.Background(), position.MasterProtectiveChangeEvent{
		MasterOrderID: "m1", NewSLPrice: decimal.NewFromInt(90), NewTPPrice: decimal.NewFromInt(110),
	})
	require.Equal(t, "90", exec.placedSL.String())
	require.Equal(t, "110", exec.placedTP.String())

	notifier.OnMasterClosed(context.Background(), position.MasterClosedEvent{MasterOrderID: "m1", ExitPrice: decimal.NewFromInt(105)})
	remaining, err := store.PositionsForMasterOrder("m1")
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestPricingForResolvesPerSymbolConfig(t *testing.T) {
	e := &Engine{cfg: config.Config{
		Symbols: map[string]config.Symbol{
			"ASTERUSDT": {SLPercent: decimal.NewFromInt(2), TPPercent: decimal.NewFromInt(4)},
		},
	}}

	pc := e.pricingFor("ASTERUSDT")
	require.Equal(t, "2", pc.SLPercent.String())
	require.Equal(t, "4", pc.TPPercent.String())

	empty := e.pricingFor("UNKNOWN")
	require.True(t, empty.SLPercent.IsZero())
}
