package copytrade

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lickhunter/engine/internal/status"
)

type fakeExecutor struct {
	leverageSet int
	submitted   []decimal.Decimal
	submitErr   error
	fillPrice   decimal.Decimal
	cancelled   int
	placed      int
}

func (f *fakeExecutor) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	f.leverageSet = leverage
	return nil
}
func (f *fakeExecutor) SubmitMarketOrder(ctx context.Context, symbol, side string, qty decimal.Decimal, reduceOnly bool) (decimal.Decimal, error) {
	if f.submitErr != nil {
		return decimal.Zero, f.submitErr
	}
	f.submitted = append(f.submitted, qty)
	if f.fillPrice.IsZero() {
		return decimal.NewFromInt(100), nil
	}
	return f.fillPrice, nil
}
func (f *fakeExecutor) CancelProtectiveOrders(ctx context.Context, symbol string) error {
	f.cancelled++
	return nil
}
func (f *fakeExecutor) PlaceProtectiveOrders(ctx context.Context, symbol, side string, qty, sl, tp decimal.Decimal) error {
	f.placed++
	return nil
}

func seedWallet(t *testing.T, store *Store, multiplier string, allow []string, maxPerPair int) int64 {
	t.Helper()
	allowStr := ""
	for i, s := range allow {
		if i > 0 {
			allowStr += ","
		}
		allowStr += s
	}
	res, err := store.db.Exec(
		`INSERT INTO follower_wallets (label, api_key, api_secret, multiplier, symbol_allow, max_per_pair, enabled) VALUES (?, ?, ?, ?, ?, ?, 1)`,
		"follower-1", "k", "s", multiplier, allowStr, maxPerPair,
	)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func TestOnMasterOpenedMirrorsToEligibleFollower(t *testing.T) {
	store, err := Open("")
	require.NoError(t, err)
	defer store.Close()

	walletID := seedWallet(t, store, "0.5", nil, 0)
	exec := &fakeExecutor{}
	f := New(store, map[int64]Executor{walletID: exec}, status.NewHub(zerolog.Nop()), zerolog.Nop(), 10)

	f.OnMasterOpened(context.Background(), MasterOpened{
		MasterOrderID: "m1", Symbol: "ASTERUSDT", Side: "BUY", Qty: decimal.NewFromInt(10), EntryPrice: decimal.NewFromInt(100),
	})

	require.Len(t, exec.submitted, 1)
	require.Equal(t, "5", exec.submitted[0].String())

	positions, err := store.PositionsForMasterOrder("m1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
}

func TestOnMasterOpenedSkipsDisallowedSymbol(t *testing.T) {
	store, err := Open("")
	require.NoError(t, err)
	defer store.Close()

	walletID := seedWallet(t, store, "1", []string{"ETHUSDT"}, 0)
	exec := &fakeExecutor{}
	f := New(store, map[int64]Executor{walletID: exec}, status.NewHub(zerolog.Nop()), zerolog.Nop(), 10)

	f.OnMasterOpened(context.Background(), MasterOpened{
		MasterOrderID: "m2", Symbol: "ASTERUSDT", Side: "BUY", Qty: decimal.NewFromInt(10), EntryPrice: decimal.NewFromInt(100),
	})

	require.Empty(t, exec.submitted)
}

func TestOnMasterClosedClosesFollowerAndRecordsPnL(t *testing.T) {
	store, err := Open("")
	require.NoError(t, err)
	defer store.Close()

	walletID := seedWallet(t, store, "1", nil, 0)
	exec := &fakeExecutor{}
	f := New(store, map[int64]Executor{walletID: exec}, status.NewHub(zerolog.Nop()), zerolog.Nop(), 10)

	f.OnMasterOpened(context.Background(), MasterOpened{
		MasterOrderID: "m3", Symbol: "ASTERUSDT", Side: "BUY", Qty: decimal.NewFromInt(10), EntryPrice: decimal.NewFromInt(100),
	})
	f.OnMasterClosed(context.Background(), MasterClosed{MasterOrderID: "m3", ExitPrice: decimal.NewFromInt(110)})

	positions, err := store.PositionsForMasterOrder("m3")
	require.NoError(t, err)
	require.Empty(t, positions) // closed positions are no longer "open"
}

func TestOnMasterOpenedReportsZeroFailedWhenFollowersOnlySkipped(t *testing.T) {
	store, err := Open("")
	require.NoError(t, err)
	defer store.Close()

	allowListID := seedWallet(t, store, "1", []string{"ETHUSDT"}, 0)
	maxPerPairID := seedWallet(t, store, "1", nil, 1)
	_, err = store.InsertFollowerPosition(FollowerPosition{
		WalletID: maxPerPairID, MasterOrderID: "prior", Symbol: "ASTERUSDT", Side: "BUY",
		Qty: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100), Status: FollowerStatusOpen, OpenedAt: time.Now(),
	})
	require.NoError(t, err)

	exec1 := &fakeExecutor{}
	exec2 := &fakeExecutor{}
	hub := status.NewHub(zerolog.Nop())
	ch, cancel := hub.Subscribe()
	defer cancel()
	f := New(store, map[int64]Executor{allowListID: exec1, maxPerPairID: exec2}, hub, zerolog.Nop(), 10)

	f.OnMasterOpened(context.Background(), MasterOpened{
		MasterOrderID: "m5", Symbol: "ASTERUSDT", Side: "BUY", Qty: decimal.NewFromInt(10), EntryPrice: decimal.NewFromInt(100),
	})

	require.Empty(t, exec1.submitted)
	require.Empty(t, exec2.submitted)

	var ev status.Event
	select {
	case ev = <-ch:
	default:
		t.Fatal("expected a copy_trade_completed event")
	}
	require.Equal(t, 0, ev.Fields["successful"])
	require.Equal(t, 0, ev.Fields["failed"], "pre-condition skips must not count as failures")
	skips, ok := ev.Fields["skipped"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, skips, 2)
}

func TestOnMasterOpenedRecordsFollowerOwnFillPriceAsEntryPrice(t *testing.T) {
	store, err := Open("")
	require.NoError(t, err)
	defer store.Close()

	walletID := seedWallet(t, store, "1", nil, 0)
	exec := &fakeExecutor{fillPrice: decimal.NewFromInt(105)}
	f := New(store, map[int64]Executor{walletID: exec}, status.NewHub(zerolog.Nop()), zerolog.Nop(), 10)

	f.OnMasterOpened(context.Background(), MasterOpened{
		MasterOrderID: "m6", Symbol: "ASTERUSDT", Side: "BUY", Qty: decimal.NewFromInt(10), EntryPrice: decimal.NewFromInt(100),
	})

	positions, err := store.PositionsForMasterOrder("m6")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.Equal(t, "105", positions[0].EntryPrice.String(), "follower's recorded entry price must be its own fill, not the master's")
}

func TestFailedFollowerDoesNotBlockOthers(t *testing.T) {
	store, err := Open("")
	require.NoError(t, err)
	defer store.Close()

	badID := seedWallet(t, store, "1", nil, 0)
	goodID := seedWallet(t, store, "1", nil, 0)

	bad := &fakeExecutor{submitErr: context.DeadlineExceeded}
	good := &fakeExecutor{}
	f := New(store, map[int64]Executor{badID: bad, goodID: good}, status.NewHub(zerolog.Nop()), zerolog.Nop(), 10)

	f.OnMasterOpened(context.Background(), MasterOpened{
		MasterOrderID: "m4", Symbol: "ASTERUSDT", Side: "BUY", Qty: decimal.NewFromInt(10), EntryPrice: decimal.NewFromInt(100),
	})

	require.Empty(t, bad.submitted)
	require.Len(t, good.submitted, 1)
}
