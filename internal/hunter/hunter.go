// Package hunter is the Hunter (C6): consumes the liquidation stream,
// runs the signal gate, computes and submits entry orders, and tracks
// them until the Position Manager confirms fill or cancel. Order
// submission runs server-side end to end rather than deferring to a
// client-side execution path, avoiding the IP-based rate limiting that
// a split client/server order flow would hit.
package hunter

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/lickhunter/engine/internal/config"
	"github.com/lickhunter/engine/internal/exchange"
	"github.com/lickhunter/engine/internal/liquidations"
	"github.com/lickhunter/engine/internal/status"
	"github.com/lickhunter/engine/internal/symbols"
	"github.com/lickhunter/engine/internal/threshold"
	"github.com/lickhunter/engine/internal/vwap"
)

// PositionTracker is the slice of Position Manager (C7) that Hunter
// depends on. Passed in as an interface so PM can be constructed first
// and handed down, resolving the cyclic dependency between the two.
type PositionTracker interface {
	GetMarginUsage(symbol string) decimal.Decimal
	CanOpenPosition(symbol string, dir liquidations.Direction) (ok bool, reason string)
	GetPositionCountForSymbolSide(symbol string, dir liquidations.Direction) int
	GetUniquePositionCount(hedge bool) int
}

// MarkPriceSource abstracts the REST mark-price lookup so Hunter doesn't
// depend on the concrete futures.Client in its core logic.
type MarkPriceSource interface {
	MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PositionModeSource re-queries the venue's actual hedge/one-way mode,
// used only on the -4061 retry path.
type PositionModeSource interface {
	PositionMode(ctx context.Context) (config.PositionMode, error)
}

// OrderRequest is the normalized order Hunter submits.
type OrderRequest struct {
	Symbol       string
	Side         futures.SideType
	PositionSide futures.PositionSideType
	Type         futures.OrderType
	Quantity     string
	Price        string
	PostOnly     bool
}

// OrderResult is what the exchange returns for a successful submission.
type OrderResult struct {
	OrderID  int64
	AvgPrice decimal.Decimal
}

// OrderSubmitter places entry orders against the exchange.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// Hunter is the signal-to-order pipeline.
type Hunter struct {
	client      *futures.Client
	catalog     *symbols.Catalog
	thresholds  *threshold.Monitor
	vwapCache   *vwap.Cache
	markPrices  MarkPriceSource
	posMode     PositionModeSource
	submitter   OrderSubmitter
	tracker     PositionTracker
	sink        status.Sink
	registry    *Registry
	log         zerolog.Logger

	cfg config.Config // current effective config, swapped atomically by UpdateConfig

	hedgeMode bool // local cache of the venue position-mode flag
}

// Deps bundles Hunter's constructor dependencies.
type Deps struct {
	Client     *futures.Client
	Catalog    *symbols.Catalog
	Thresholds *threshold.Monitor
	VWAPCache  *vwap.Cache
	MarkPrices MarkPriceSource
	PosMode    PositionModeSource
	Submitter  OrderSubmitter
	Tracker    PositionTracker
	Sink       status.Sink
	Log        zerolog.Logger
	Config     config.Config
}

// New builds a Hunter. Tracker must be constructed and ready before this
// call: the Position Manager is constructed first.
func New(d Deps) *Hunter {
	return &Hunter{
		client:     d.Client,
		catalog:    d.Catalog,
		thresholds: d.Thresholds,
		vwapCache:  d.VWAPCache,
		markPrices: d.MarkPrices,
		posMode:    d.PosMode,
		submitter:  d.Submitter,
		tracker:    d.Tracker,
		sink:       d.Sink,
		registry:   NewRegistry(5 * time.Minute),
		log:        d.Log.With().Str("component", "hunter").Logger(),
		cfg:        d.Config,
		hedgeMode:  d.Config.Global.PositionMode == config.PositionModeHedge,
	}
}

// UpdateConfig performs an atomic config switch and logs the diff at a
// coarse level. Stream rebuild on paper<->live transitions is the
// engine wiring's responsibility, since Hunter doesn't own the stream
// connection itself.
func (h *Hunter) UpdateConfig(next config.Config) {
	prev := h.cfg
	h.cfg = next
	h.hedgeMode = next.Global.PositionMode == config.PositionModeHedge
	if prev.Global.PaperMode != next.Global.PaperMode {
		h.log.Info().Bool("prev_paper_mode", prev.Global.PaperMode).Bool("next_paper_mode", next.Global.PaperMode).Msg("config: paper/live mode changed")
	}
}

func (h *Hunter) blocked(symbol, reason string, fields map[string]any) {
	h.sink.Publish(status.Event{
		Kind:      status.KindTradeBlocked,
		Component: "hunter",
		Symbol:    symbol,
		Message:   reason,
		At:        time.Now(),
		Fields:    fields,
	})
}

func (h *Hunter) decided(symbol, side, reason string, confidence decimal.Decimal) {
	h.sink.Publish(status.Event{
		Kind:      status.KindTradeDecision,
		Component: "hunter",
		Symbol:    symbol,
		Message:   reason,
		At:        time.Now(),
		Fields: map[string]any{
			"side":       side,
			"confidence": confidence.String(),
		},
	})
}

// OnLiquidation runs the full signal pipeline for one observed
// liquidation event. store.Insert and threshold update are
// expected to have already happened upstream (the engine wiring fans the
// same event out to C3, C4, and Hunter); OnLiquidation starts at step 2.
func (h *Hunter) OnLiquidation(ctx context.Context, ev liquidations.Event, ts threshold.ThresholdStatus) {
	symCfg, ok := h.cfg.Symbols[ev.Symbol]
	if !ok {
		return // step 2: no config for this symbol
	}

	dir := ev.Side.Direction()
	tcfg := threshold.SymbolConfig{
		LongThreshold:  symCfg.EffectiveLongThreshold(),
		ShortThreshold: symCfg.EffectiveShortThreshold(),
		WindowMs:       symCfg.ThresholdTimeWindowMs,
		CooldownMs:     symCfg.ThresholdCooldownMs,
		UseThreshold:   symCfg.UseThreshold && h.cfg.Global.UseThresholdSystem,
	}

	now := time.Now()
	if !h.thresholds.Triggered(ev.Symbol, dir, ev.Notional, tcfg, now) {
		remaining := h.thresholds.RemainingCooldown(ev.Symbol, dir, tcfg, now)
		if remaining > 0 {
			h.blocked(ev.Symbol, "cooldown active", map[string]any{"remaining_seconds": remaining.Seconds()})
		}
		return // steps 3/4 failed, or cooldown
	}

	markPrice, err := h.markPrices.MarkPrice(ctx, ev.Symbol)
	if err != nil {
		h.sink.Publish(status.Event{Kind: status.KindAPIError, Component: "hunter", Symbol: ev.Symbol, Message: err.Error(), At: now})
		return
	}

	// step 5: liquidation price within 1% of mark, on the correct side.
	ratio := ev.Price.Div(markPrice)
	if dir == liquidations.DirectionLong {
		if ratio.GreaterThanOrEqual(decimal.NewFromFloat(1.01)) {
			h.blocked(ev.Symbol, "liquidation price too far above mark", nil)
			return
		}
	} else {
		if ratio.LessThanOrEqual(decimal.NewFromFloat(0.99)) {
			h.blocked(ev.Symbol, "liquidation price too far below mark", nil)
			return
		}
	}

	// step 6: VWAP protection.
	if symCfg.VWAPProtection {
		tf := vwap.Timeframe{Interval: symCfg.VWAPTimeframe, Lookback: symCfg.VWAPLookback}
		res, err := h.vwapCache.Get(ctx, ev.Symbol, tf)
		if err != nil {
			h.blocked(ev.Symbol, "vwap unavailable", nil)
			return
		}
		vdir := vwap.DirectionLong
		if dir == liquidations.DirectionShort {
			vdir = vwap.DirectionShort
		}
		if !vwap.Allows(vdir, ev.Price, res.VWAP) {
			h.blocked(ev.Symbol, "vwap filter blocked entry", map[string]any{"vwap": res.VWAP.String(), "stale": res.Stale})
			return
		}
	}

	// step 7: exposure/registry/margin gates.
	if ok, reason := h.tracker.CanOpenPosition(ev.Symbol, dir); !ok {
		h.blocked(ev.Symbol, reason, nil)
		return
	}
	if h.registry.HasPendingForSymbol(ev.Symbol) {
		h.blocked(ev.Symbol, "duplicate entry: pending order already exists", nil)
		return
	}
	if h.cfg.Global.MaxOpenPositions > 0 && h.tracker.GetUniquePositionCount(h.hedgeMode) >= h.cfg.Global.MaxOpenPositions {
		h.blocked(ev.Symbol, "max open positions reached", nil)
		return
	}
	if symCfg.MaxPositionsPerPair > 0 && h.tracker.GetPositionCountForSymbolSide(ev.Symbol, dir) >= symCfg.MaxPositionsPerPair {
		h.blocked(ev.Symbol, "max positions per pair reached", nil)
		return
	}

	side := "BUY"
	if dir == liquidations.DirectionShort {
		side = "SELL"
	}
	h.decided(ev.Symbol, side, "signal confirmed", ev.Notional.Div(tcfg.LongThreshold))
	h.thresholds.MarkTriggered(ev.Symbol, dir, now)

	// step 8: compute and submit.
	h.submitEntry(ctx, ev.Symbol, dir, markPrice, symCfg)
}

// computedOrder is the intermediate result of order computation (spec
// §4.6 "Order computation"), kept separate from submission so it can be
// unit tested deterministically.
type computedOrder struct {
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	OrderType config.OrderType
	Side      string
	Blocked   string // non-empty reason if computation rejects the order
}

func computeOrder(dir liquidations.Direction, markPrice decimal.Decimal, symCfg config.Symbol, filter symbols.Filter) computedOrder {
	isLong := dir == liquidations.DirectionLong
	margin := symCfg.EffectiveTradeSize(isLong)

	notional := margin.Mul(decimal.NewFromInt(int64(symCfg.Leverage)))
	minNotionalFloor := filter.MinNotional.Mul(decimal.NewFromFloat(1.01))
	if notional.LessThan(minNotionalFloor) {
		notional = minNotionalFloor
	}

	rawQty := notional.Div(markPrice)

	side := "BUY"
	if !isLong {
		side = "SELL"
	}

	orderType := symCfg.OrderType
	price := markPrice
	if orderType == config.OrderTypeLimit {
		offset := decimal.NewFromInt(int64(symCfg.PriceOffsetBps)).Div(decimal.NewFromInt(10000))
		if isLong {
			price = markPrice.Mul(decimal.NewFromInt(1).Sub(offset))
		} else {
			price = markPrice.Mul(decimal.NewFromInt(1).Add(offset))
		}

		slippage := price.Sub(markPrice).Abs().Div(markPrice).Mul(decimal.NewFromInt(10000))
		maxSlippage := decimal.NewFromInt(int64(symCfg.MaxSlippageBps))
		if slippage.GreaterThan(maxSlippage) {
			orderType = config.OrderTypeMarket
			price = markPrice
		}
	}
	if symCfg.ForceMarketEntry {
		orderType = config.OrderTypeMarket
		price = markPrice
	}

	return computedOrder{Quantity: rawQty, Price: price, OrderType: orderType, Side: side}
}

func (h *Hunter) submitEntry(ctx context.Context, symbol string, dir liquidations.Direction, markPrice decimal.Decimal, symCfg config.Symbol) {
	filter, err := h.catalog.Lookup(symbol)
	if err != nil {
		h.blocked(symbol, "unknown symbol filters", nil)
		return
	}

	co := computeOrder(dir, markPrice, symCfg, filter)

	normQty, err := h.catalog.FormatQuantity(symbol, co.Quantity)
	if err != nil {
		h.blocked(symbol, "quantity normalization failed", nil)
		return
	}
	if normQty.LessThan(filter.MinQty) {
		h.blocked(symbol, "TRADE_SIZE_TOO_SMALL", map[string]any{"recommended_min": filter.MinQty.String()})
		return
	}
	normPrice, err := h.catalog.FormatPrice(symbol, co.Price)
	if err != nil {
		h.blocked(symbol, "price normalization failed", nil)
		return
	}

	now := time.Now()
	pending := h.registry.Reserve(symbol, co.Side, now)

	positionSide := futures.PositionSideTypeBoth
	if h.hedgeMode {
		if dir == liquidations.DirectionLong {
			positionSide = futures.PositionSideTypeLong
		} else {
			positionSide = futures.PositionSideTypeShort
		}
	}

	req := OrderRequest{
		Symbol:       symbol,
		Side:         futures.SideType(co.Side),
		PositionSide: positionSide,
		Type:         futures.OrderType(co.OrderType),
		Quantity:     normQty.String(),
		Price:        normPrice.String(),
		PostOnly:     symCfg.UsePostOnly,
	}

	h.attemptSubmit(ctx, pending, req, now)
}

// attemptSubmit drives the order-submission failure model: a -4061
// (position-mode mismatch) triggers one mode re-query and retry; any
// other non-fatal failure triggers one MARKET fallback within a 15s
// budget from the original attempt.
func (h *Hunter) attemptSubmit(ctx context.Context, pending *PendingOrder, req OrderRequest, startedAt time.Time) {
	res, err := h.submitter.SubmitOrder(ctx, req)
	if err == nil {
		h.registry.Ack(pending.ID, fmt.Sprint(res.OrderID))
		return
	}

	apiErr := exchange.Parse(err)
	if apiErr != nil && apiErr.Kind == exchange.KindPositionMode {
		mode, modeErr := h.posMode.PositionMode(ctx)
		if modeErr == nil {
			wantHedge := mode == config.PositionModeHedge
			if wantHedge != h.hedgeMode {
				h.hedgeMode = wantHedge
				retryReq := req
				if h.hedgeMode {
					if req.Side == futures.SideTypeBuy {
						retryReq.PositionSide = futures.PositionSideTypeLong
					} else {
						retryReq.PositionSide = futures.PositionSideTypeShort
					}
				} else {
					retryReq.PositionSide = futures.PositionSideTypeBoth
				}
				res, err = h.submitter.SubmitOrder(ctx, retryReq)
				if err == nil {
					h.registry.Ack(pending.ID, fmt.Sprint(res.OrderID))
					return
				}
			}
		}
	}

	h.registry.Purge(pending.ID)

	if apiErr != nil && apiErr.Fatal {
		h.sink.Publish(status.Event{Kind: status.KindTradingError, Component: "hunter", Symbol: req.Symbol, Message: apiErr.Error(), At: time.Now()})
		return
	}

	if time.Since(startedAt) > 15*time.Second {
		h.sink.Publish(status.Event{Kind: status.KindTradingError, Component: "hunter", Symbol: req.Symbol, Message: "market fallback budget exceeded", At: time.Now()})
		return
	}

	marketReq := req
	marketReq.Type = futures.OrderTypeMarket
	fallback := h.registry.Reserve(req.Symbol, string(req.Side), time.Now())
	res, err = h.submitter.SubmitOrder(ctx, marketReq)
	if err != nil {
		h.registry.Purge(fallback.ID)
		h.sink.Publish(status.Event{Kind: status.KindTradingError, Component: "hunter", Symbol: req.Symbol, Message: err.Error(), At: time.Now()})
		return
	}
	h.registry.Ack(fallback.ID, fmt.Sprint(res.OrderID))
}

// SweepPending purges pending-order records older than the registry's
// max age. Intended to run on a periodic timer from the engine wiring.
func (h *Hunter) SweepPending(now time.Time) int {
	return h.registry.Sweep(now)
}

// PendingCount exposes the registry size. OnLiquidation does not consult
// it; it has no caller inside the engine.
func (h *Hunter) PendingCount() int {
	return h.registry.Count()
}
