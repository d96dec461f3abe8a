// Package vwap is the VWAP Cache (C5): a per-symbol, per-timeframe volume
// weighted average price derived from the aggTrade stream, with a REST
// klines fallback when the stream goes stale.
//
// The streaming half is grounded on aggTrade handling (unmarshal trade,
// lock, store latest price in a map keyed by symbol) generalized from
// "latest price" to "notional/volume accumulator per (symbol,
// timeframe)". The stream accumulator is cumulative from the first trade
// the cache sees: it does not roll over the timeframe × lookback window,
// and Lookback is applied only by the REST fallback. The REST fallback is
// grounded on the go-binance/v2/futures Klines service directly.
package vwap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var errNoRESTClient = errors.New("vwap: no REST client configured for fallback")

// Timeframe is a VWAP lookback window, e.g. "5m" over a 20-bar lookback.
type Timeframe struct {
	Interval string // klines interval string, e.g. "1m", "5m"
	Lookback int    // number of bars to aggregate
}

type bucket struct {
	notional decimal.Decimal
	volume   decimal.Decimal
	updated  time.Time
}

// key identifies one cached VWAP line.
type key struct {
	symbol string
	tf     string
}

// Cache maintains VWAP accumulators fed by the aggTrade stream, falling
// back to REST klines when a symbol's stream input goes stale.
type Cache struct {
	mu      sync.RWMutex
	buckets map[key]*bucket
	client  *futures.Client
	log     zerolog.Logger
	maxAge  time.Duration // staleness threshold, default 5s
}

// New builds a Cache. client is used only for the REST fallback path.
func New(client *futures.Client, log zerolog.Logger, maxAge time.Duration) *Cache {
	if maxAge <= 0 {
		maxAge = 5 * time.Second
	}
	return &Cache{
		buckets: make(map[key]*bucket),
		client:  client,
		log:     log.With().Str("component", "vwap_cache").Logger(),
		maxAge:  maxAge,
	}
}

// OnTrade folds a single aggTrade print into every timeframe bucket the
// caller tracks for this symbol. tfs is the set of timeframes configured
// for the symbol: VWAP is computed per configured timeframe, not globally.
func (c *Cache) OnTrade(symbol string, price, qty decimal.Decimal, tfs []Timeframe) {
	notional := price.Mul(qty)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tf := range tfs {
		k := key{symbol: symbol, tf: tf.Interval}
		b, ok := c.buckets[k]
		if !ok {
			b = &bucket{notional: decimal.Zero, volume: decimal.Zero}
			c.buckets[k] = b
		}
		b.notional = b.notional.Add(notional)
		b.volume = b.volume.Add(qty)
		b.updated = time.Now()
	}
}

// Result is what Get returns: the VWAP value plus whether it was served
// fresh from the stream accumulator or had to fall back to REST klines.
type Result struct {
	VWAP      decimal.Decimal
	Stale     bool
	FromREST  bool
}

// Get returns the current VWAP for (symbol, timeframe). If the stream
// accumulator hasn't updated within maxAge, it falls back to a REST
// klines fetch and reports Stale=true so callers can decide whether to
// trust it: fall back and report staleness, never fail silently.
func (c *Cache) Get(ctx context.Context, symbol string, tf Timeframe) (Result, error) {
	c.mu.RLock()
	b, ok := c.buckets[key{symbol: symbol, tf: tf.Interval}]
	c.mu.RUnlock()

	if ok && !b.volume.IsZero() && time.Since(b.updated) <= c.maxAge {
		return Result{VWAP: b.notional.Div(b.volume), Stale: false}, nil
	}

	vwap, err := c.restVWAP(ctx, symbol, tf)
	if err != nil {
		if ok && !b.volume.IsZero() {
			// Serve the stale stream value rather than failing outright.
			c.log.Warn().Str("symbol", symbol).Err(err).Msg("⚠️ vwap REST fallback failed, serving stale stream value")
			return Result{VWAP: b.notional.Div(b.volume), Stale: true}, nil
		}
		return Result{}, err
	}
	return Result{VWAP: vwap, Stale: true, FromREST: true}, nil
}

func (c *Cache) restVWAP(ctx context.Context, symbol string, tf Timeframe) (decimal.Decimal, error) {
	if c.client == nil {
		return decimal.Zero, errNoRESTClient
	}
	klines, err := c.client.NewKlinesService().
		Symbol(symbol).
		Interval(tf.Interval).
		Limit(tf.Lookback).
		Do(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if len(klines) == 0 {
		return decimal.Zero, nil
	}

	totalNotional := decimal.Zero
	totalVolume := decimal.Zero
	for _, k := range klines {
		closePrice, err := decimal.NewFromString(k.Close)
		if err != nil {
			continue
		}
		volume, err := decimal.NewFromString(k.Volume)
		if err != nil {
			continue
		}
		totalNotional = totalNotional.Add(closePrice.Mul(volume))
		totalVolume = totalVolume.Add(volume)
	}
	if totalVolume.IsZero() {
		return decimal.Zero, nil
	}
	return totalNotional.Div(totalVolume), nil
}

// Direction mirrors liquidations.Direction without importing it, to keep
// this package leaf-level; Hunter adapts between the two.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Allows applies the directional filter: a long entry is only allowed
// below VWAP, a short entry only above. Violations are reported as
// "blocked", never as an error — the signal simply doesn't fire this round.
func Allows(dir Direction, price, vwap decimal.Decimal) bool {
	switch dir {
	case DirectionLong:
		return price.LessThan(vwap)
	case DirectionShort:
		return price.GreaterThan(vwap)
	default:
		return false
	}
}
