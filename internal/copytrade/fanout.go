package copytrade

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/lickhunter/engine/internal/status"
)

// MasterOpened is what Hunter reports once an entry order is confirmed,
// carrying the exchange order id the fan-out keys follower positions on.
type MasterOpened struct {
	MasterOrderID string
	Symbol        string
	Side          string // BUY or SELL
	Qty           decimal.Decimal
	EntryPrice    decimal.Decimal
}

// MasterClosed is reported when the master position tied to an order id
// is closed.
type MasterClosed struct {
	MasterOrderID string
	ExitPrice     decimal.Decimal
}

// MasterProtectiveChange is reported when the master's TP/SL moves.
type MasterProtectiveChange struct {
	MasterOrderID string
	NewSLPrice    decimal.Decimal
	NewTPPrice    decimal.Decimal
}

// Executor places orders against a single follower's account. One
// Executor per wallet, keyed by wallet id, wired in by the engine (each
// wraps its own futures.Client built from that wallet's credentials).
type Executor interface {
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SubmitMarketOrder(ctx context.Context, symbol, side string, qty decimal.Decimal, reduceOnly bool) (avgPrice decimal.Decimal, err error)
	CancelProtectiveOrders(ctx context.Context, symbol string) error
	PlaceProtectiveOrders(ctx context.Context, symbol, side string, qty, slPrice, tpPrice decimal.Decimal) error
}

// Fanout is the Copy Trading Fan-out (C8).
type Fanout struct {
	store     *Store
	executors map[int64]Executor
	sink      status.Sink
	log       zerolog.Logger
	leverage  int
}

// New builds a Fanout. executors maps wallet id to its order executor;
// the engine wiring constructs one per enabled wallet from its stored
// credentials.
func New(store *Store, executors map[int64]Executor, sink status.Sink, log zerolog.Logger, leverage int) *Fanout {
	return &Fanout{store: store, executors: executors, sink: sink, log: log.With().Str("component", "copytrade").Logger(), leverage: leverage}
}

// fanoutResult is one follower's outcome, aggregated for the fan-out
// event. skipped marks a pre-condition rejection (allow-list, max-per-
// pair) that never reached the exchange, distinct from an actual
// submission failure.
type fanoutResult struct {
	walletID int64
	ok       bool
	skipped  bool
	reason   string
}

// OnMasterOpened mirrors a master entry to every enabled, eligible
// follower wallet, isolating errors per follower.
func (f *Fanout) OnMasterOpened(ctx context.Context, ev MasterOpened) {
	wallets, err := f.store.EnabledWallets()
	if err != nil {
		f.sink.Publish(status.Event{Kind: status.KindTradingError, Component: "copytrade", Message: "failed to load follower wallets: " + err.Error(), At: time.Now()})
		return
	}

	results := make([]fanoutResult, 0, len(wallets))
	for _, w := range wallets {
		results = append(results, f.mirrorOpen(ctx, w, ev))
	}

	successful, failed := 0, 0
	skips := make([]map[string]any, 0)
	for _, r := range results {
		switch {
		case r.ok:
			successful++
		case r.skipped:
			skips = append(skips, map[string]any{"wallet_id": r.walletID, "reason": r.reason})
		default:
			failed++
		}
	}
	f.sink.Publish(status.Event{
		Kind: status.KindCopyTradeComplete, Component: "copytrade", Symbol: ev.Symbol,
		Message: "fan-out complete",
		Fields:  map[string]any{"successful": successful, "failed": failed, "skipped": skips, "master_order_id": ev.MasterOrderID},
		At:      time.Now(),
	})
}

func (f *Fanout) mirrorOpen(ctx context.Context, w Wallet, ev MasterOpened) fanoutResult {
	if !allowed(w.SymbolAllow, ev.Symbol) {
		return fanoutResult{walletID: w.ID, skipped: true, reason: "symbol not in allow-list"}
	}
	if w.MaxPerPair > 0 {
		n, err := f.store.CountOpenForSymbol(w.ID, ev.Symbol)
		if err != nil {
			return fanoutResult{walletID: w.ID, ok: false, reason: err.Error()}
		}
		if n >= w.MaxPerPair {
			return fanoutResult{walletID: w.ID, skipped: true, reason: "max positions per pair reached"}
		}
	}

	exec, ok := f.executors[w.ID]
	if !ok {
		return fanoutResult{walletID: w.ID, ok: false, reason: "no executor wired for wallet"}
	}

	qty := ev.Qty.Mul(w.Multiplier)

	id, insertErr := f.store.InsertFollowerPosition(FollowerPosition{
		WalletID: w.ID, MasterOrderID: ev.MasterOrderID, Symbol: ev.Symbol, Side: ev.Side,
		Qty: qty, EntryPrice: ev.EntryPrice, Status: FollowerStatusOpen, OpenedAt: time.Now(),
	})
	if insertErr != nil {
		return fanoutResult{walletID: w.ID, ok: false, reason: insertErr.Error()}
	}

	if err := exec.SetLeverage(ctx, ev.Symbol, f.leverage); err != nil {
		_ = f.store.MarkFollowerError(id, err.Error())
		return fanoutResult{walletID: w.ID, ok: false, reason: err.Error()}
	}

	avgPrice, err := exec.SubmitMarketOrder(ctx, ev.Symbol, ev.Side, qty, false)
	if err != nil {
		_ = f.store.MarkFollowerError(id, err.Error())
		return fanoutResult{walletID: w.ID, ok: false, reason: err.Error()}
	}
	if err := f.store.UpdateFollowerEntryPrice(id, avgPrice); err != nil {
		f.log.Warn().Err(err).Int64("wallet_id", w.ID).Msg("failed to record follower fill price")
	}

	return fanoutResult{walletID: w.ID, ok: true}
}

func allowed(allowList []string, symbol string) bool {
	if len(allowList) == 0 {
		return true
	}
	for _, s := range allowList {
		if s == symbol {
			return true
		}
	}
	return false
}

// OnMasterClosed closes every follower position tied to the master
// order id with a reduce-only MARKET order, computing P&L per follower.
func (f *Fanout) OnMasterClosed(ctx context.Context, ev MasterClosed) {
	positions, err := f.store.PositionsForMasterOrder(ev.MasterOrderID)
	if err != nil {
		f.sink.Publish(status.Event{Kind: status.KindTradingError, Component: "copytrade", Message: "failed to load follower positions: " + err.Error(), At: time.Now()})
		return
	}
	for _, fp := range positions {
		f.closeOne(ctx, fp, ev.ExitPrice)
	}
}

func (f *Fanout) closeOne(ctx context.Context, fp FollowerPosition, exitPrice decimal.Decimal) {
	exec, ok := f.executors[fp.WalletID]
	if !ok {
		_ = f.store.MarkFollowerError(fp.ID, "no executor wired for wallet")
		return
	}

	side := "SELL"
	if fp.Side == "SELL" {
		side = "BUY"
	}
	_, err := exec.SubmitMarketOrder(ctx, fp.Symbol, side, fp.Qty, true)
	if err != nil {
		_ = f.store.MarkFollowerError(fp.ID, err.Error())
		return
	}

	pnl := exitPrice.Sub(fp.EntryPrice).Mul(fp.Qty)
	if fp.Side == "SELL" {
		pnl = fp.EntryPrice.Sub(exitPrice).Mul(fp.Qty)
	}
	if err := f.store.CloseFollowerPosition(fp.ID, pnl, time.Now()); err != nil {
		f.sink.Publish(status.Event{Kind: status.KindTradingError, Component: "copytrade", Symbol: fp.Symbol, Message: "failed to record follower close: " + err.Error(), At: time.Now()})
	}
}

// OnMasterProtectiveChange re-prices every open follower's TP/SL to
// match the master's new levels, sized to the follower's own quantity.
func (f *Fanout) OnMasterProtectiveChange(ctx context.Context, ev MasterProtectiveChange) {
	positions, err := f.store.PositionsForMasterOrder(ev.MasterOrderID)
	if err != nil {
		f.sink.Publish(status.Event{Kind: status.KindTradingError, Component: "copytrade", Message: "failed to load follower positions: " + err.Error(), At: time.Now()})
		return
	}
	for _, fp := range positions {
		exec, ok := f.executors[fp.WalletID]
		if !ok {
			continue
		}
		if err := exec.CancelProtectiveOrders(ctx, fp.Symbol); err != nil {
			_ = f.store.MarkFollowerError(fp.ID, err.Error())
			continue
		}
		if err := exec.PlaceProtectiveOrders(ctx, fp.Symbol, fp.Side, fp.Qty, ev.NewSLPrice, ev.NewTPPrice); err != nil {
			_ = f.store.MarkFollowerError(fp.ID, err.Error())
		}
	}
}
