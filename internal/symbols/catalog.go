// Package symbols is the Symbol Catalog (C1): cached exchange filters and
// the price/quantity normalization every order-placement path depends on.
//
// Grounded on a FetchExchangeInfo/FormatPrice/FormatQty trio, generalized
// from a float64 tick/step map to decimal.Decimal arithmetic and from a
// bare fallback string ("%.3f") to a configurable default Filter.
package symbols

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

// ErrSymbolUnknown is returned only when no fallback Filter is configured.
type ErrSymbolUnknown struct{ Symbol string }

func (e *ErrSymbolUnknown) Error() string {
	return fmt.Sprintf("symbol %s: unknown and no fallback filter configured", e.Symbol)
}

// Filter holds one symbol's immutable-within-session exchange metadata.
type Filter struct {
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
	PricePlaces int32
	QtyPlaces   int32
}

// Catalog caches Filters. They are reloaded only by an explicit Refresh
// call; looking up an unknown symbol does not trigger a reload.
type Catalog struct {
	client   *futures.Client
	mu       sync.RWMutex
	filters  map[string]Filter
	fallback *Filter // nil = no fallback, SymbolUnknown is fatal
}

// New builds a Catalog against client. fallback, if non-nil, is used for
// any symbol exchangeInfo doesn't (yet) know about.
func New(client *futures.Client, fallback *Filter) *Catalog {
	return &Catalog{client: client, filters: make(map[string]Filter), fallback: fallback}
}

// Refresh reloads /fapi/v1/exchangeInfo and rebuilds the filter map. The
// engine calls it once at start; stream reconnects do not call it.
func (c *Catalog) Refresh(ctx context.Context) error {
	info, err := c.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return err
	}

	next := make(map[string]Filter, len(info.Symbols))
	for _, s := range info.Symbols {
		f := Filter{}
		for _, filter := range s.Filters {
			switch filter["filterType"] {
			case "PRICE_FILTER":
				f.TickSize = parseDecimal(filter["tickSize"])
			case "LOT_SIZE":
				f.StepSize = parseDecimal(filter["stepSize"])
				f.MinQty = parseDecimal(filter["minQty"])
			case "MIN_NOTIONAL", "NOTIONAL":
				f.MinNotional = parseDecimal(filter["notional"])
				if f.MinNotional.IsZero() {
					f.MinNotional = parseDecimal(filter["minNotional"])
				}
			}
		}
		f.PricePlaces = placesFor(f.TickSize)
		f.QtyPlaces = placesFor(f.StepSize)
		next[s.Symbol] = f
	}

	c.mu.Lock()
	c.filters = next
	c.mu.Unlock()
	return nil
}

func parseDecimal(v any) decimal.Decimal {
	s, ok := v.(string)
	if !ok {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// placesFor derives decimal precision from a tick/step size, a
// generalization of the classic math.Round(-math.Log10(tick)) trick.
func placesFor(step decimal.Decimal) int32 {
	if step.IsZero() {
		return 0
	}
	s := step.String()
	if i := indexByte(s, '.'); i >= 0 {
		return int32(len(s) - i - 1)
	}
	return 0
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// Lookup returns the cached Filter for symbol, or the fallback Filter if
// configured, or ErrSymbolUnknown.
func (c *Catalog) Lookup(symbol string) (Filter, error) {
	return c.lookup(symbol)
}

func (c *Catalog) lookup(symbol string) (Filter, error) {
	c.mu.RLock()
	f, ok := c.filters[symbol]
	c.mu.RUnlock()
	if ok {
		return f, nil
	}
	if c.fallback != nil {
		return *c.fallback, nil
	}
	return Filter{}, &ErrSymbolUnknown{Symbol: symbol}
}

// FormatPrice rounds raw DOWN to the nearest tick size and clips to the
// symbol's price precision, always rounding toward reducing exposure.
func (c *Catalog) FormatPrice(symbol string, raw decimal.Decimal) (decimal.Decimal, error) {
	f, err := c.lookup(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if f.TickSize.IsZero() {
		return raw.Round(f.PricePlaces), nil
	}
	steps := raw.Div(f.TickSize).Floor()
	return steps.Mul(f.TickSize).Round(f.PricePlaces), nil
}

// FormatQuantity rounds raw DOWN to the nearest step size, never rounding a
// quantity up: an order must never exceed the configured size.
func (c *Catalog) FormatQuantity(symbol string, raw decimal.Decimal) (decimal.Decimal, error) {
	f, err := c.lookup(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if f.StepSize.IsZero() {
		return raw.Round(f.QtyPlaces), nil
	}
	steps := raw.Div(f.StepSize).Floor()
	return steps.Mul(f.StepSize).Round(f.QtyPlaces), nil
}

// ValidateResult is the ok|adjusted|err outcome of Validate.
type ValidateResult struct {
	OK       bool
	Price    decimal.Decimal
	Qty      decimal.Decimal
	Adjusted bool
	Reason   string
}

// Validate ensures notional ≥ min notional and qty ≥ min qty, adjusting
// quantity upward (never price) when feasible.
func (c *Catalog) Validate(symbol string, price, qty decimal.Decimal) (ValidateResult, error) {
	f, err := c.lookup(symbol)
	if err != nil {
		return ValidateResult{}, err
	}

	adjustedQty := qty
	adjusted := false

	if !f.MinQty.IsZero() && adjustedQty.LessThan(f.MinQty) {
		adjustedQty = f.MinQty
		adjusted = true
	}

	notional := price.Mul(adjustedQty)
	if !f.MinNotional.IsZero() && notional.LessThan(f.MinNotional) {
		if price.IsZero() {
			return ValidateResult{OK: false, Reason: "NOTIONAL_ZERO_PRICE"}, nil
		}
		required := f.MinNotional.Div(price)
		if !f.StepSize.IsZero() {
			required = required.Div(f.StepSize).Ceil().Mul(f.StepSize)
		}
		adjustedQty = required
		adjusted = true
	}

	return ValidateResult{OK: true, Price: price, Qty: adjustedQty, Adjusted: adjusted}, nil
}

// MinNotional exposes the min-notional for a symbol. (Hunter floors its
// order notional from Filter.MinNotional returned by Lookup.)
func (c *Catalog) MinNotional(symbol string) (decimal.Decimal, error) {
	f, err := c.lookup(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return f.MinNotional, nil
}

// MinQty exposes the min-quantity for a symbol.
func (c *Catalog) MinQty(symbol string) (decimal.Decimal, error) {
	f, err := c.lookup(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return f.MinQty, nil
}

// FormatPriceString returns FormatPrice's result as a plain decimal string
// ready to hand to a go-binance order builder.
func (c *Catalog) FormatPriceString(symbol string, raw decimal.Decimal) (string, error) {
	d, err := c.FormatPrice(symbol, raw)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}

// FormatQuantityString mirrors FormatPriceString for quantities.
func (c *Catalog) FormatQuantityString(symbol string, raw decimal.Decimal) (string, error) {
	d, err := c.FormatQuantity(symbol, raw)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}

// ParseFloatString is a small helper used across components to parse
// venue-returned numeric strings without each one re-implementing it.
func ParseFloatString(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		v, _ := strconv.ParseFloat(s, 64)
		return decimal.NewFromFloat(v)
	}
	return d
}
