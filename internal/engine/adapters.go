// Package engine wires components C1-C9 together against the real
// venue client: construction order, concrete exchange adapters for each
// component's narrow interface, and the periodic-timer/lifecycle loop
// that drives them.
//
// Grounded on a single struct holding the *futures.Client alongside every
// subsystem and exposing the REST calls each strategy needs; here those
// REST calls are split out behind the per-component interfaces
// (hunter.OrderSubmitter, position.Gateway, copytrade.Executor, ...)
// instead of being called directly from strategy code.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"github.com/lickhunter/engine/internal/config"
	"github.com/lickhunter/engine/internal/copytrade"
	"github.com/lickhunter/engine/internal/hunter"
	"github.com/lickhunter/engine/internal/metrics"
	"github.com/lickhunter/engine/internal/position"
	"github.com/lickhunter/engine/internal/ratelimit"
)

// rateLimitObserver bridges ratelimit.Governor's queue/reject events to the
// metrics registry, so ratelimit doesn't need to import metrics just to
// report them.
type rateLimitObserver struct {
	metrics *metrics.Registry
}

func (o rateLimitObserver) QueueObserved(priority ratelimit.Priority) {
	o.metrics.IncRateLimitQueued(priority.String())
}

func (o rateLimitObserver) RejectObserved(priority ratelimit.Priority) {
	o.metrics.IncRateLimitRejected(priority.String())
}

// restAdapter wraps a single *futures.Client with the rate-limit
// governor every REST path must go through.
type restAdapter struct {
	client *futures.Client
	gov    *ratelimit.Governor

	mu        sync.Mutex
	listenKey string
}

func newRESTAdapter(client *futures.Client, gov *ratelimit.Governor) *restAdapter {
	return &restAdapter{client: client, gov: gov}
}

func (a *restAdapter) admit(ctx context.Context, weight int, isOrder bool, prio ratelimit.Priority) error {
	return a.gov.Admit(ctx, weight, isOrder, prio)
}

// MarkPriceSource adapter (hunter.MarkPriceSource).

func (a *restAdapter) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := a.admit(ctx, 1, false, ratelimit.PriorityHigh); err != nil {
		return decimal.Zero, err
	}
	rows, err := a.client.NewMarkPriceService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if len(rows) == 0 {
		return decimal.Zero, fmt.Errorf("engine: no mark price rows for %s", symbol)
	}
	return decimal.NewFromString(rows[0].MarkPrice)
}

// PositionModeSource adapter (hunter.PositionModeSource).

func (a *restAdapter) PositionMode(ctx context.Context) (config.PositionMode, error) {
	if err := a.admit(ctx, 1, false, ratelimit.PriorityCritical); err != nil {
		return "", err
	}
	res, err := a.client.NewGetPositionModeService().Do(ctx)
	if err != nil {
		return "", err
	}
	if res.DualSidePosition {
		return config.PositionModeHedge, nil
	}
	return config.PositionModeOneWay, nil
}

// OrderSubmitter adapter (hunter.OrderSubmitter).

func (a *restAdapter) SubmitOrder(ctx context.Context, req hunter.OrderRequest) (hunter.OrderResult, error) {
	if err := a.admit(ctx, 1, true, ratelimit.PriorityCritical); err != nil {
		return hunter.OrderResult{}, err
	}
	svc := a.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(req.Side).
		PositionSide(req.PositionSide).
		Type(req.Type).
		Quantity(req.Quantity)
	if req.Type == futures.OrderTypeLimit {
		svc = svc.Price(req.Price).TimeInForce(futures.TimeInForceTypeGTC)
		if req.PostOnly {
			svc = svc.TimeInForce(futures.TimeInForceTypeGTX)
		}
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return hunter.OrderResult{}, err
	}
	avgPrice, _ := decimal.NewFromString(res.AvgPrice)
	return hunter.OrderResult{OrderID: res.OrderID, AvgPrice: avgPrice}, nil
}

// Gateway adapter (position.Gateway).

func (a *restAdapter) FetchPositions(ctx context.Context) ([]position.PositionSnapshot, error) {
	if err := a.admit(ctx, 5, false, ratelimit.PriorityHigh); err != nil {
		return nil, err
	}
	rows, err := a.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, err
	}
	var out []position.PositionSnapshot
	for _, r := range rows {
		amt, err := decimal.NewFromString(r.PositionAmt)
		if err != nil || amt.IsZero() {
			continue
		}
		entry, _ := decimal.NewFromString(r.EntryPrice)
		mark, _ := decimal.NewFromString(r.MarkPrice)
		unrealized, _ := decimal.NewFromString(r.UnRealizedProfit)
		leverage, _ := strconv.Atoi(r.Leverage)
		side := position.SideLong
		if amt.IsNegative() {
			side = position.SideShort
		}
		out = append(out, position.PositionSnapshot{
			Symbol: r.Symbol, Side: side, EntryPrice: entry, Qty: amt.Abs(),
			Leverage: leverage, MarkPrice: mark, UnrealizedPnL: unrealized,
		})
	}
	return out, nil
}

func (a *restAdapter) FetchOpenOrders(ctx context.Context) ([]position.OpenOrderSnapshot, error) {
	if err := a.admit(ctx, 40, false, ratelimit.PriorityHigh); err != nil {
		return nil, err
	}
	rows, err := a.client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, err
	}
	var out []position.OpenOrderSnapshot
	for _, r := range rows {
		qty, _ := decimal.NewFromString(r.OrigQuantity)
		price, _ := decimal.NewFromString(r.Price)
		stop, _ := decimal.NewFromString(r.StopPrice)
		out = append(out, position.OpenOrderSnapshot{
			OrderID: r.OrderID, Symbol: r.Symbol, Side: string(r.Side), Type: string(r.Type),
			Qty: qty, Price: price, StopPrice: stop, ReduceOnly: r.ReduceOnly,
		})
	}
	return out, nil
}

func (a *restAdapter) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	if err := a.admit(ctx, 1, false, ratelimit.PriorityHigh); err != nil {
		return err
	}
	_, err := a.client.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	return err
}

func (a *restAdapter) PlaceOrder(ctx context.Context, req position.ProtectiveOrderRequest) (position.OrderResult, error) {
	if err := a.admit(ctx, 1, true, ratelimit.PriorityHigh); err != nil {
		return position.OrderResult{}, err
	}
	return a.placeOrder(ctx, req)
}

// placeOrder submits one protective leg without a rate-limit admission of
// its own; callers admit before calling it.
func (a *restAdapter) placeOrder(ctx context.Context, req position.ProtectiveOrderRequest) (position.OrderResult, error) {
	res, err := a.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderType(req.Type)).
		Quantity(req.Qty.String()).
		StopPrice(req.StopPrice.String()).
		ReduceOnly(req.ReduceOnly).
		WorkingType(futures.WorkingTypeMarkPrice).
		Do(ctx)
	if err != nil {
		return position.OrderResult{}, err
	}
	return position.OrderResult{OrderID: res.OrderID}, nil
}

// PlaceBatchOrders submits each leg sequentially rather than via the
// venue's /fapi/v1/batchOrders endpoint: both legs still land under one
// rate-limit admission pass, and Reconcile only ever calls this with at
// most two requests (SL and TP), so the latency difference is immaterial
// next to the correctness risk of a speculative batch-endpoint binding.
func (a *restAdapter) PlaceBatchOrders(ctx context.Context, reqs []position.ProtectiveOrderRequest) ([]position.OrderResult, error) {
	if err := a.admit(ctx, len(reqs), true, ratelimit.PriorityHigh); err != nil {
		return nil, err
	}
	out := make([]position.OrderResult, 0, len(reqs))
	for _, req := range reqs {
		res, err := a.placeOrder(ctx, req)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (a *restAdapter) ClosePositionMarket(ctx context.Context, symbol, side string, qty decimal.Decimal) (position.OrderResult, error) {
	if err := a.admit(ctx, 1, true, ratelimit.PriorityCritical); err != nil {
		return position.OrderResult{}, err
	}
	res, err := a.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(qty.String()).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return position.OrderResult{}, err
	}
	avg, _ := decimal.NewFromString(res.AvgPrice)
	return position.OrderResult{OrderID: res.OrderID, AvgPrice: avg}, nil
}

// SetLeverage / SubmitMarketOrder / CancelProtectiveOrders /
// PlaceProtectiveOrders implement copytrade.Executor for one follower
// wallet's own *futures.Client (each follower gets its own restAdapter
// built from that wallet's credentials).

func (a *restAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := a.admit(ctx, 1, false, ratelimit.PriorityMedium); err != nil {
		return err
	}
	_, err := a.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	return err
}

func (a *restAdapter) SubmitMarketOrder(ctx context.Context, symbol, side string, qty decimal.Decimal, reduceOnly bool) (decimal.Decimal, error) {
	if err := a.admit(ctx, 1, true, ratelimit.PriorityHigh); err != nil {
		return decimal.Zero, err
	}
	res, err := a.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(qty.String()).
		ReduceOnly(reduceOnly).
		Do(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	avg, _ := decimal.NewFromString(res.AvgPrice)
	return avg, nil
}

func (a *restAdapter) CancelProtectiveOrders(ctx context.Context, symbol string) error {
	if err := a.admit(ctx, 1, false, ratelimit.PriorityMedium); err != nil {
		return err
	}
	rows, err := a.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if !r.ReduceOnly {
			continue
		}
		if err := a.CancelOrder(ctx, symbol, r.OrderID); err != nil {
			return err
		}
	}
	return nil
}

func (a *restAdapter) PlaceProtectiveOrders(ctx context.Context, symbol, side string, qty, slPrice, tpPrice decimal.Decimal) error {
	legs := []position.ProtectiveOrderRequest{
		{Symbol: symbol, Side: side, Type: "STOP_MARKET", Qty: qty, StopPrice: slPrice, ReduceOnly: true},
		{Symbol: symbol, Side: side, Type: "TAKE_PROFIT_MARKET", Qty: qty, StopPrice: tpPrice, ReduceOnly: true},
	}
	_, err := a.PlaceBatchOrders(ctx, legs)
	return err
}

// ListenKey obtains/refreshes the user-data-stream listen key, used by
// streams.UserDataReader on every (re)connection attempt. The key is
// cached so the engine's 30-minute keepalive timer can renew it without
// tracking connection state itself.
func (a *restAdapter) ListenKey(ctx context.Context) (string, error) {
	if err := a.admit(ctx, 1, false, ratelimit.PriorityCritical); err != nil {
		return "", err
	}
	key, err := a.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	a.listenKey = key
	a.mu.Unlock()
	return key, nil
}

// KeepAliveCurrent renews whatever listen key was last obtained via
// ListenKey. A no-op before the first successful connection.
func (a *restAdapter) KeepAliveCurrent(ctx context.Context) error {
	a.mu.Lock()
	key := a.listenKey
	a.mu.Unlock()
	if key == "" {
		return nil
	}
	if err := a.admit(ctx, 1, false, ratelimit.PriorityMedium); err != nil {
		return err
	}
	return a.client.NewKeepaliveUserStreamService().ListenKey(key).Do(ctx)
}

// fanoutNotifier bridges position.Manager's plain event structs to
// copytrade.Fanout's own types, so position doesn't need to import
// copytrade just to report master-order lifecycle events.
type fanoutNotifier struct {
	fanout *copytrade.Fanout
}

func (n fanoutNotifier) OnMasterOpened(ctx context.Context, ev position.MasterOpenedEvent) {
	n.fanout.OnMasterOpened(ctx, copytrade.MasterOpened{
		MasterOrderID: ev.MasterOrderID, Symbol: ev.Symbol, Side: ev.Side, Qty: ev.Qty, EntryPrice: ev.EntryPrice,
	})
}

func (n fanoutNotifier) OnMasterClosed(ctx context.Context, ev position.MasterClosedEvent) {
	n.fanout.OnMasterClosed(ctx, copytrade.MasterClosed{MasterOrderID: ev.MasterOrderID, ExitPrice: ev.ExitPrice})
}

func (n fanoutNotifier) OnMasterProtectiveChange(ctx context.Context, ev position.MasterProtectiveChangeEvent) {
	n.fanout.OnMasterProtectiveChange(ctx, copytrade.MasterProtectiveChange{
		MasterOrderID: ev.MasterOrderID, NewSLPrice: ev.NewSLPrice, NewTPPrice: ev.NewTPPrice,
	})
}
