// Package position is the Position Manager (C7): the authoritative local
// view of exchange positions and the protective orders (SL/TP) that
// guard them.
//
// Grounded on a monitorPositions poll loop and a
// MoveStopToBreakEven/closePosition cancel-then-replace idiom,
// generalized from a single-symbol break-even tracker into a full
// reconciliation algorithm: matching candidate legs by quantity,
// cancel-with-retry for wrong-qty legs, batch placement of missing legs,
// orphan cleanup, and stale-binding drop.
package position

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/lickhunter/engine/internal/exchange"
	"github.com/lickhunter/engine/internal/liquidations"
	"github.com/lickhunter/engine/internal/status"
)

// Side is the position's directional side, distinct from order side.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

func (s Side) entryOrderSide() string {
	if s == SideLong {
		return "BUY"
	}
	return "SELL"
}

func (s Side) protectiveOrderSide() string {
	if s == SideLong {
		return "SELL"
	}
	return "BUY"
}

func (s Side) direction() liquidations.Direction {
	if s == SideLong {
		return liquidations.DirectionLong
	}
	return liquidations.DirectionShort
}

// Position is the authoritative local record for one open exchange
// position.
type Position struct {
	Symbol     string
	Side       Side
	Entry      decimal.Decimal
	Qty        decimal.Decimal
	Leverage   int
	MarginUsed decimal.Decimal

	SLOrderID int64
	TPOrderID int64

	OpenedAt time.Time
}

func (p *Position) key() string { return p.Symbol + ":" + string(p.Side) }

// PositionSnapshot is one row of /fapi/v2/positionRisk.
type PositionSnapshot struct {
	Symbol        string
	Side          Side
	EntryPrice    decimal.Decimal
	Qty           decimal.Decimal // signed magnitude already normalized to positive
	Leverage      int
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// OpenOrderSnapshot is one row of /fapi/v1/openOrders.
type OpenOrderSnapshot struct {
	OrderID    int64
	Symbol     string
	Side       string // BUY or SELL
	Type       string
	Qty        decimal.Decimal
	Price      decimal.Decimal
	StopPrice  decimal.Decimal
	ReduceOnly bool
}

// ProtectiveOrderRequest is a single SL or TP leg to place.
type ProtectiveOrderRequest struct {
	Symbol     string
	Side       string // BUY or SELL
	Type       string // STOP_MARKET or TAKE_PROFIT_MARKET in one-way/hedge close-position mode
	Qty        decimal.Decimal
	StopPrice  decimal.Decimal
	ReduceOnly bool
}

// OrderResult mirrors hunter.OrderResult but is kept separate so this
// package has no dependency on hunter.
type OrderResult struct {
	OrderID  int64
	AvgPrice decimal.Decimal
}

// Gateway is the exchange surface Position Manager depends on. Kept as a
// narrow interface so reconciliation is unit-testable without a live
// futures.Client.
type Gateway interface {
	FetchPositions(ctx context.Context) ([]PositionSnapshot, error)
	FetchOpenOrders(ctx context.Context) ([]OpenOrderSnapshot, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	PlaceOrder(ctx context.Context, req ProtectiveOrderRequest) (OrderResult, error)
	PlaceBatchOrders(ctx context.Context, reqs []ProtectiveOrderRequest) ([]OrderResult, error)
	ClosePositionMarket(ctx context.Context, symbol string, side string, qty decimal.Decimal) (OrderResult, error)
}

// PricingConfig carries the per-symbol SL/TP percentages Manager needs
// to compute protective prices; Manager holds no config state of its own.
type PricingConfig struct {
	SLPercent decimal.Decimal
	TPPercent decimal.Decimal
}

// MasterOpenedEvent carries the fields copy-trading needs to mirror a
// newly filled entry order. Kept local to this package (rather than
// importing copytrade's types) since copytrade.Fanout is wired to it by
// the engine, not by Manager directly.
type MasterOpenedEvent struct {
	MasterOrderID string
	Symbol        string
	Side          string // BUY or SELL
	Qty           decimal.Decimal
	EntryPrice    decimal.Decimal
}

// MasterClosedEvent reports the master position tied to MasterOrderID
// closing, with the price the close filled at.
type MasterClosedEvent struct {
	MasterOrderID string
	ExitPrice     decimal.Decimal
}

// MasterProtectiveChangeEvent reports the master's SL/TP prices moving.
type MasterProtectiveChangeEvent struct {
	MasterOrderID string
	NewSLPrice    decimal.Decimal
	NewTPPrice    decimal.Decimal
}

// Notifier is Manager's optional copy-trading hook. Nil (the default) is
// a valid no-op state: a fresh Manager with no SetNotifier call simply
// never fans master events out.
type Notifier interface {
	OnMasterOpened(ctx context.Context, ev MasterOpenedEvent)
	OnMasterClosed(ctx context.Context, ev MasterClosedEvent)
	OnMasterProtectiveChange(ctx context.Context, ev MasterProtectiveChangeEvent)
}

// Manager is the Position Manager (C7).
type Manager struct {
	gw      Gateway
	sink    status.Sink
	log     zerolog.Logger
	hedge   bool

	mu        sync.RWMutex
	positions map[string]*Position // keyed by Position.key()

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	leverageMu    sync.RWMutex
	leverageCache map[string]int

	notifierMu sync.RWMutex
	notifier   Notifier
	// entryOrderIDs correlates a tracked position back to the entry order
	// that opened it, so a later close/protective-change can be reported
	// to copy-trading by the same master order id. Positions recovered
	// from a cold-start Reconcile (no observed entry fill) have no entry
	// here and simply aren't mirrored until they close and reopen.
	entryOrderIDs map[string]int64
}

// New builds a Manager.
func New(gw Gateway, sink status.Sink, log zerolog.Logger, hedge bool) *Manager {
	return &Manager{
		gw:            gw,
		sink:          sink,
		log:           log.With().Str("component", "position_manager").Logger(),
		hedge:         hedge,
		positions:     make(map[string]*Position),
		locks:         make(map[string]*sync.Mutex),
		leverageCache: make(map[string]int),
		entryOrderIDs: make(map[string]int64),
	}
}

// SetNotifier wires the copy-trading fan-out. Must be called before
// Start if copy-trading is enabled; safe to leave unset otherwise.
func (m *Manager) SetNotifier(n Notifier) {
	m.notifierMu.Lock()
	m.notifier = n
	m.notifierMu.Unlock()
}

func (m *Manager) notify() Notifier {
	m.notifierMu.RLock()
	defer m.notifierMu.RUnlock()
	return m.notifier
}

func (m *Manager) lockFor(name string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.locks[name]
	if !ok {
		l = &sync.Mutex{}
		m.locks[name] = l
	}
	return l
}

// Start fetches the initial position/open-order snapshot and builds the
// local maps. The caller wires the user-data stream separately and feeds
// events through HandleAccountUpdate / HandleOrderTradeUpdate /
// HandleAccountConfigUpdate.
func (m *Manager) Start(ctx context.Context) error {
	return m.Reconcile(ctx, nil)
}

// --- Hunter-facing read contract ---

// GetMarginUsage sums MarginUsed across all tracked positions for symbol.
func (m *Manager) GetMarginUsage(symbol string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := decimal.Zero
	for _, p := range m.positions {
		if p.Symbol == symbol {
			total = total.Add(p.MarginUsed)
		}
	}
	return total
}

// CanOpenPosition reports whether a new position may be opened for
// (symbol, dir) given current exposure. This intentionally only checks
// the "already holding the opposite/same leg in one-way mode" rule;
// margin/count gates live in Hunter's own config-driven checks.
func (m *Manager) CanOpenPosition(symbol string, dir liquidations.Direction) (bool, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.hedge {
		for _, p := range m.positions {
			if p.Symbol == symbol {
				return false, "position already open for symbol in one-way mode"
			}
		}
		return true, ""
	}
	side := SideLong
	if dir == liquidations.DirectionShort {
		side = SideShort
	}
	if _, exists := m.positions[symbol+":"+string(side)]; exists {
		return false, "position already open on this side"
	}
	return true, ""
}

// GetPositionCountForSymbolSide counts tracked positions matching both.
func (m *Manager) GetPositionCountForSymbolSide(symbol string, dir liquidations.Direction) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	side := SideLong
	if dir == liquidations.DirectionShort {
		side = SideShort
	}
	n := 0
	for _, p := range m.positions {
		if p.Symbol == symbol && p.Side == side {
			n++
		}
	}
	return n
}

// GetUniquePositionCount counts distinct symbols with an open position
// (one-way) or distinct symbol+side pairs (hedge): a hedge-mode LONG and
// SHORT on the same symbol are separately margined positions and each
// consume one slot of MaxOpenPositions. A second LONG on an
// already-long symbol is rejected by CanOpenPosition before it would
// double-count here.
func (m *Manager) GetUniquePositionCount(hedge bool) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !hedge {
		seen := make(map[string]struct{})
		for _, p := range m.positions {
			seen[p.Symbol] = struct{}{}
		}
		return len(seen)
	}
	return len(m.positions)
}

// --- Protective-order pricing ---

type protectivePrices struct {
	SL           decimal.Decimal
	TP           decimal.Decimal
	SkipTP       bool
	TPAlreadyHit bool
}

func computeProtectivePrices(p *Position, mark decimal.Decimal, cfg PricingConfig) protectivePrices {
	hundred := decimal.NewFromInt(100)
	slFrac := cfg.SLPercent.Div(hundred)
	tpFrac := cfg.TPPercent.Div(hundred)

	var sl, tp decimal.Decimal
	if p.Side == SideLong {
		sl = p.Entry.Mul(decimal.NewFromInt(1).Sub(slFrac))
		tp = p.Entry.Mul(decimal.NewFromInt(1).Add(tpFrac))
	} else {
		sl = p.Entry.Mul(decimal.NewFromInt(1).Add(slFrac))
		tp = p.Entry.Mul(decimal.NewFromInt(1).Sub(tpFrac))
	}

	buffer := decimal.NewFromFloat(0.001)
	if p.Side == SideLong {
		if sl.GreaterThanOrEqual(mark) {
			sl = mark.Mul(decimal.NewFromInt(1).Sub(buffer))
		}
		if mark.GreaterThanOrEqual(tp) {
			return protectivePrices{SL: sl, SkipTP: true, TPAlreadyHit: true}
		}
	} else {
		if sl.LessThanOrEqual(mark) {
			sl = mark.Mul(decimal.NewFromInt(1).Add(buffer))
		}
		if mark.LessThanOrEqual(tp) {
			return protectivePrices{SL: sl, SkipTP: true, TPAlreadyHit: true}
		}
	}

	return protectivePrices{SL: sl, TP: tp}
}

// --- Reconciliation algorithm ---

// markPrices supplies the latest mark price per symbol for pricing
// decisions during reconciliation; nil is allowed when no repricing
// decision is needed (e.g. the very first Start() call only populates
// maps, it doesn't need to catch past-TP conditions before any protective
// order exists yet — though it still will, using entry price as a proxy
// if mark is unavailable).
type markPrices map[string]decimal.Decimal

// Reconcile runs the full algorithm: fetch, match, adjust, fill gaps,
// clean orphans, drop stale bindings. cfgFor resolves a symbol's pricing
// config; callers pass nil for cfgFor only in tests that don't exercise
// the adjustment path.
func (m *Manager) Reconcile(ctx context.Context, cfgFor func(symbol string) PricingConfig) error {
	snaps, err := m.gw.FetchPositions(ctx)
	if err != nil {
		return err
	}
	orders, err := m.gw.FetchOpenOrders(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	next := make(map[string]*Position, len(snaps))
	for _, s := range snaps {
		if s.Qty.IsZero() {
			continue
		}
		key := s.Symbol + ":" + string(s.Side)
		existing, tracked := m.positions[key]
		p := &Position{Symbol: s.Symbol, Side: s.Side, Entry: s.EntryPrice, Qty: s.Qty, Leverage: s.Leverage}
		if tracked {
			p.SLOrderID = existing.SLOrderID
			p.TPOrderID = existing.TPOrderID
			p.OpenedAt = existing.OpenedAt
		} else {
			p.OpenedAt = time.Now()
		}
		p.MarginUsed = s.EntryPrice.Mul(s.Qty)
		if p.Leverage > 0 {
			p.MarginUsed = p.MarginUsed.Div(decimal.NewFromInt(int64(p.Leverage)))
		}
		next[key] = p
	}
	m.positions = next
	positions := make([]*Position, 0, len(next))
	for _, p := range next {
		positions = append(positions, p)
	}
	m.mu.Unlock()

	ordersBySymbol := make(map[string][]OpenOrderSnapshot)
	for _, o := range orders {
		ordersBySymbol[o.Symbol] = append(ordersBySymbol[o.Symbol], o)
	}

	assigned := make(map[int64]bool)

	for _, p := range positions {
		candidates := ordersBySymbol[p.Symbol]
		wantSide := p.Side.protectiveOrderSide()

		var slMatch, tpMatch *OpenOrderSnapshot
		for i := range candidates {
			o := &candidates[i]
			if assigned[o.OrderID] || o.Side != wantSide {
				continue
			}
			if o.OrderID == p.SLOrderID {
				slMatch = o
				assigned[o.OrderID] = true
				continue
			}
			if o.OrderID == p.TPOrderID {
				tpMatch = o
				assigned[o.OrderID] = true
				continue
			}
		}
		// Fallback: match by exact quantity (tolerance 1e-8) when not
		// matched by previously-tracked id.
		tolerance := decimal.New(1, -8)
		for i := range candidates {
			o := &candidates[i]
			if assigned[o.OrderID] || o.Side != wantSide {
				continue
			}
			if slMatch == nil && o.Qty.Sub(p.Qty).Abs().LessThanOrEqual(tolerance) && o.Type != "TAKE_PROFIT_MARKET" {
				slMatch = o
				assigned[o.OrderID] = true
			} else if tpMatch == nil && o.Qty.Sub(p.Qty).Abs().LessThanOrEqual(tolerance) {
				tpMatch = o
				assigned[o.OrderID] = true
			}
		}

		missingSL := slMatch == nil
		missingTP := tpMatch == nil
		var wrongQtyIDs []int64
		if slMatch != nil && slMatch.Qty.Sub(p.Qty).Abs().GreaterThan(tolerance) {
			wrongQtyIDs = append(wrongQtyIDs, slMatch.OrderID)
			missingSL = true
		}
		if tpMatch != nil && tpMatch.Qty.Sub(p.Qty).Abs().GreaterThan(tolerance) {
			wrongQtyIDs = append(wrongQtyIDs, tpMatch.OrderID)
			missingTP = true
		}

		if !missingSL && !missingTP && len(wrongQtyIDs) == 0 {
			m.mu.Lock()
			if cur, ok := m.positions[p.key()]; ok {
				if slMatch != nil {
					cur.SLOrderID = slMatch.OrderID
				}
				if tpMatch != nil {
					cur.TPOrderID = tpMatch.OrderID
				}
			}
			m.mu.Unlock()
			continue
		}

		m.adjustPosition(ctx, p, wrongQtyIDs, missingSL, missingTP, cfgFor)
	}

	// Orphan cleanup: reduce-only orders on symbols with no tracked
	// position, or not assigned to any matched leg above.
	for _, o := range orders {
		if assigned[o.OrderID] {
			continue
		}
		if !o.ReduceOnly {
			continue
		}
		_ = m.cancelWithRetry(ctx, o.Symbol, o.OrderID)
	}

	return nil
}

func (m *Manager) adjustPosition(ctx context.Context, p *Position, wrongQtyIDs []int64, missingSL, missingTP bool, cfgFor func(symbol string) PricingConfig) {
	lock := m.lockFor("adjust_" + p.Symbol)
	lock.Lock()
	defer lock.Unlock()

	for _, id := range wrongQtyIDs {
		if err := m.cancelWithRetry(ctx, p.Symbol, id); err != nil {
			m.sink.Publish(status.Event{Kind: status.KindTradingError, Component: "position_manager", Symbol: p.Symbol, Message: "cancel wrong-qty leg failed: " + err.Error(), At: time.Now()})
		}
	}

	if cfgFor == nil {
		return
	}
	cfg := cfgFor(p.Symbol)

	mark := p.Entry // proxy when no live mark feed is wired into reconciliation directly
	prices := computeProtectivePrices(p, mark, cfg)

	if prices.TPAlreadyHit {
		res, err := m.gw.ClosePositionMarket(ctx, p.Symbol, p.Side.protectiveOrderSide(), p.Qty)
		if err != nil {
			m.sink.Publish(status.Event{Kind: status.KindTradingError, Component: "position_manager", Symbol: p.Symbol, Message: "auto-close past-TP failed: " + err.Error(), At: time.Now()})
			return
		}
		m.sink.Publish(status.Event{Kind: status.KindPositionClosed, Component: "position_manager", Symbol: p.Symbol, Message: "auto-closed at market (exceeded TP target)", At: time.Now()})
		m.mu.Lock()
		delete(m.positions, p.key())
		masterID, known := m.entryOrderIDs[p.key()]
		delete(m.entryOrderIDs, p.key())
		m.mu.Unlock()
		if known {
			if n := m.notify(); n != nil {
				ev := MasterClosedEvent{MasterOrderID: strconv.FormatInt(masterID, 10), ExitPrice: res.AvgPrice}
				go n.OnMasterClosed(context.Background(), ev)
			}
		}
		return
	}

	var batch []ProtectiveOrderRequest
	if missingSL {
		batch = append(batch, ProtectiveOrderRequest{
			Symbol: p.Symbol, Side: p.Side.protectiveOrderSide(), Type: "STOP_MARKET",
			Qty: p.Qty, StopPrice: prices.SL, ReduceOnly: true,
		})
	}
	if missingTP && !prices.SkipTP {
		batch = append(batch, ProtectiveOrderRequest{
			Symbol: p.Symbol, Side: p.Side.protectiveOrderSide(), Type: "TAKE_PROFIT_MARKET",
			Qty: p.Qty, StopPrice: prices.TP, ReduceOnly: true,
		})
	}
	if len(batch) == 0 {
		return
	}

	results, err := m.gw.PlaceBatchOrders(ctx, batch)
	if err != nil {
		m.sink.Publish(status.Event{Kind: status.KindTradingError, Component: "position_manager", Symbol: p.Symbol, Message: "missing protective leg placement failed: " + err.Error(), At: time.Now()})
		return
	}

	m.mu.Lock()
	cur, ok := m.positions[p.key()]
	if !ok {
		m.mu.Unlock()
		return
	}
	idx := 0
	if missingSL && idx < len(results) {
		cur.SLOrderID = results[idx].OrderID
		idx++
	}
	if missingTP && !prices.SkipTP && idx < len(results) {
		cur.TPOrderID = results[idx].OrderID
	}
	masterID, known := m.entryOrderIDs[p.key()]
	m.mu.Unlock()

	if known {
		if n := m.notify(); n != nil {
			ev := MasterProtectiveChangeEvent{MasterOrderID: strconv.FormatInt(masterID, 10), NewSLPrice: prices.SL, NewTPPrice: prices.TP}
			go n.OnMasterProtectiveChange(context.Background(), ev)
		}
	}
}

// cancelWithRetry cancels an order, retrying up to 3x with exponential
// backoff (1-2-4s), treating "order not found" as success.
func (m *Manager) cancelWithRetry(ctx context.Context, symbol string, orderID int64) error {
	backoff := time.Second
	var lastErr error
	for attempt := 0; attempt <= 3; attempt++ {
		err := m.gw.CancelOrder(ctx, symbol, orderID)
		if err == nil {
			return nil
		}
		if exchange.IsOrderNotFound(err) {
			return nil
		}
		lastErr = err
		if attempt == 3 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}

// --- User-data stream handlers ---

// AccountPositionUpdate is one symbol's row from an ACCOUNT_UPDATE event.
type AccountPositionUpdate struct {
	Symbol string
	Side   Side
	Qty    decimal.Decimal
	Entry  decimal.Decimal
}

// HandleAccountUpdate applies partial-update semantics: a position is
// closed only if its symbol appears with zero amount; symbols absent
// from the update retain their existing state.
func (m *Manager) HandleAccountUpdate(updates []AccountPositionUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range updates {
		key := u.Symbol + ":" + string(u.Side)
		if u.Qty.IsZero() {
			if existing, ok := m.positions[key]; ok {
				delete(m.positions, key)
				m.sink.Publish(status.Event{Kind: status.KindPositionClosed, Component: "position_manager", Symbol: existing.Symbol, Message: "closed via account update", At: time.Now()})
				if masterID, known := m.entryOrderIDs[key]; known {
					delete(m.entryOrderIDs, key)
					if n := m.notify(); n != nil {
						// No fill price is carried on a bare ACCOUNT_UPDATE close;
						// the last known entry price is the best available proxy.
						ev := MasterClosedEvent{MasterOrderID: strconv.FormatInt(masterID, 10), ExitPrice: existing.Entry}
						go n.OnMasterClosed(context.Background(), ev)
					}
				}
			}
			continue
		}
		p, ok := m.positions[key]
		if !ok {
			p = &Position{Symbol: u.Symbol, Side: u.Side, OpenedAt: time.Now()}
			m.positions[key] = p
		}
		prevQty := p.Qty
		p.Qty = u.Qty
		p.Entry = u.Entry
		if !prevQty.Equal(u.Qty) {
			m.sink.Publish(status.Event{Kind: status.KindPositionUpdated, Component: "position_manager", Symbol: u.Symbol, Message: "size changed, protective orders need re-audit", At: time.Now()})
		}
	}
}

// OrderTradeUpdate is the subset of ORDER_TRADE_UPDATE fields Manager
// needs.
type OrderTradeUpdate struct {
	OrderID        int64
	Symbol         string
	Side           string
	Status         string // NEW, CANCELED, FILLED, PARTIALLY_FILLED, EXPIRED
	ReduceOnly     bool
	RealizedPnL    decimal.Decimal
	FilledQty      decimal.Decimal
	AvgPrice       decimal.Decimal
	IsEntryOrder   bool
}

var ErrOrderNotTracked = errors.New("position: order not bound to a tracked position")

// HandleOrderTradeUpdate maintains leg bindings and emits order_filled /
// order_cancelled / position_closed as appropriate.
func (m *Manager) HandleOrderTradeUpdate(u OrderTradeUpdate) {
	if u.IsEntryOrder {
		if u.Status == "FILLED" || u.Status == "PARTIALLY_FILLED" {
			m.sink.Publish(status.Event{Kind: status.KindOrderFilled, Component: "position_manager", Symbol: u.Symbol, Message: "entry fill", Fields: map[string]any{"order_id": u.OrderID}, At: time.Now()})

			side := SideLong
			if u.Side == "SELL" {
				side = SideShort
			}
			m.mu.Lock()
			m.entryOrderIDs[u.Symbol+":"+string(side)] = u.OrderID
			m.mu.Unlock()

			if n := m.notify(); n != nil {
				ev := MasterOpenedEvent{
					MasterOrderID: strconv.FormatInt(u.OrderID, 10),
					Symbol:        u.Symbol, Side: u.Side, Qty: u.FilledQty, EntryPrice: u.AvgPrice,
				}
				go n.OnMasterOpened(context.Background(), ev)
			}
		}
		return
	}

	m.mu.Lock()
	var target *Position
	for _, p := range m.positions {
		if p.Symbol != u.Symbol {
			continue
		}
		if p.SLOrderID == u.OrderID || p.TPOrderID == u.OrderID {
			target = p
			break
		}
	}
	if target == nil {
		m.mu.Unlock()
		return
	}

	switch u.Status {
	case "CANCELED", "EXPIRED":
		if target.SLOrderID == u.OrderID {
			target.SLOrderID = 0
		}
		if target.TPOrderID == u.OrderID {
			target.TPOrderID = 0
		}
		m.mu.Unlock()
		m.sink.Publish(status.Event{Kind: status.KindOrderCancelled, Component: "position_manager", Symbol: u.Symbol, Message: "protective leg cancelled, will be replaced on next audit", Fields: map[string]any{"order_id": u.OrderID}, At: time.Now()})
		return
	case "FILLED":
		oppositeID := target.SLOrderID
		if target.SLOrderID == u.OrderID {
			oppositeID = target.TPOrderID
		}
		key := target.key()
		delete(m.positions, key)
		masterID, known := m.entryOrderIDs[key]
		delete(m.entryOrderIDs, key)
		m.mu.Unlock()

		if oppositeID != 0 {
			_ = m.cancelWithRetry(context.Background(), u.Symbol, oppositeID)
		}

		pnl := u.RealizedPnL
		m.sink.Publish(status.Event{
			Kind: status.KindPositionClosed, Component: "position_manager", Symbol: u.Symbol,
			Message: "closed via reduce-only fill",
			Fields:  map[string]any{"realized_pnl": pnl.String(), "order_id": u.OrderID},
			At:      time.Now(),
		})
		if known {
			if n := m.notify(); n != nil {
				ev := MasterClosedEvent{MasterOrderID: strconv.FormatInt(masterID, 10), ExitPrice: u.AvgPrice}
				go n.OnMasterClosed(context.Background(), ev)
			}
		}
		return
	default:
		m.mu.Unlock()
	}
}

// AccountConfigUpdate carries a leverage change notification.
type AccountConfigUpdate struct {
	Symbol   string
	Leverage int
}

// HandleAccountConfigUpdate refreshes the leverage cache, because
// positionRisk occasionally reports leverage=0 transiently right after a
// change.
func (m *Manager) HandleAccountConfigUpdate(u AccountConfigUpdate) {
	m.leverageMu.Lock()
	defer m.leverageMu.Unlock()
	m.leverageCache[u.Symbol] = u.Leverage
}

// Leverage returns the cached leverage for symbol, or 0 if unknown.
func (m *Manager) Leverage(symbol string) int {
	m.leverageMu.RLock()
	defer m.leverageMu.RUnlock()
	return m.leverageCache[symbol]
}
