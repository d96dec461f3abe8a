// Package threshold is the Threshold Monitor (C4): per-symbol rolling-
// window cumulative liquidation volume and cooldown bookkeeping.
//
// The ring buffer is grounded directly on an append-then-lazy-evict
// slice per symbol, generalized from a single volume query to the full
// ThresholdStatus + cooldown trigger rule.
package threshold

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lickhunter/engine/internal/liquidations"
)

// SymbolConfig carries the per-symbol thresholds and windows the monitor
// needs; Hunter owns the authoritative copy and passes it in per call so
// the monitor itself holds no config state.
type SymbolConfig struct {
	LongThreshold  decimal.Decimal
	ShortThreshold decimal.Decimal
	WindowMs       int64
	CooldownMs     int64
	UseThreshold   bool // instant-trigger mode when false
}

// ThresholdStatus is returned by OnLiquidation for Hunter to evaluate.
type ThresholdStatus struct {
	RecentLongVolume  decimal.Decimal
	RecentShortVolume decimal.Decimal
	LongThreshold     decimal.Decimal
	ShortThreshold    decimal.Decimal
}

type tick struct {
	at       time.Time
	notional decimal.Decimal
}

type window struct {
	entries []tick
	sum     decimal.Decimal
	lastTrigger time.Time
}

// Monitor owns all rolling-window state; no other component mutates it.
type Monitor struct {
	mu               sync.Mutex
	windows          map[string]map[liquidations.Direction]*window
	lastHunterEntry  time.Time
	hunterCooldownMs int64 // global anti-flicker, default 2 minutes
}

// New builds a Monitor. hunterCooldown is the account-level anti-flicker
// shared across all symbols (default two minutes).
func New(hunterCooldown time.Duration) *Monitor {
	return &Monitor{
		windows:          make(map[string]map[liquidations.Direction]*window),
		hunterCooldownMs: hunterCooldown.Milliseconds(),
	}
}

func (m *Monitor) windowFor(symbol string, dir liquidations.Direction) *window {
	syms, ok := m.windows[symbol]
	if !ok {
		syms = make(map[liquidations.Direction]*window)
		m.windows[symbol] = syms
	}
	w, ok := syms[dir]
	if !ok {
		w = &window{sum: decimal.Zero}
		syms[dir] = w
	}
	return w
}

func (w *window) evict(now time.Time, windowMs int64) {
	cutoff := now.Add(-time.Duration(windowMs) * time.Millisecond)
	i := 0
	for i < len(w.entries) && w.entries[i].at.Before(cutoff) {
		w.sum = w.sum.Sub(w.entries[i].notional)
		i++
	}
	if i > 0 {
		w.entries = w.entries[i:]
	}
}

// OnLiquidation appends the event's notional to its direction's ring,
// evicts stale entries, recomputes the cumulative sum, and returns the
// resulting status. Only symbols present in cfg get tracked; callers
// should only call this after a config lookup succeeds.
func (m *Monitor) OnLiquidation(ev liquidations.Event, cfg SymbolConfig) ThresholdStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir := ev.Side.Direction()
	w := m.windowFor(ev.Symbol, dir)
	w.entries = append(w.entries, tick{at: ev.TradeTime, notional: ev.Notional})
	w.sum = w.sum.Add(ev.Notional)
	w.evict(ev.TradeTime, cfg.WindowMs)

	longW := m.windowFor(ev.Symbol, liquidations.DirectionLong)
	shortW := m.windowFor(ev.Symbol, liquidations.DirectionShort)
	longW.evict(time.Now(), cfg.WindowMs)
	shortW.evict(time.Now(), cfg.WindowMs)

	return ThresholdStatus{
		RecentLongVolume:  longW.sum,
		RecentShortVolume: shortW.sum,
		LongThreshold:     cfg.LongThreshold,
		ShortThreshold:    cfg.ShortThreshold,
	}
}

// Triggered evaluates the trigger rule: cumulative (or, in instant-trigger
// mode, the single event's notional) must clear the
// direction's threshold, the per-direction cooldown must have elapsed, and
// the global hunter cooldown must have elapsed. now is passed in so callers
// can test deterministically.
func (m *Monitor) Triggered(symbol string, dir liquidations.Direction, eventNotional decimal.Decimal, cfg SymbolConfig, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.windowFor(symbol, dir)

	threshold := cfg.LongThreshold
	if dir == liquidations.DirectionShort {
		threshold = cfg.ShortThreshold
	}

	var meetsVolume bool
	if cfg.UseThreshold {
		meetsVolume = w.sum.GreaterThanOrEqual(threshold)
	} else {
		meetsVolume = eventNotional.GreaterThanOrEqual(threshold)
	}
	if !meetsVolume {
		return false
	}

	if !w.lastTrigger.IsZero() {
		elapsed := now.Sub(w.lastTrigger).Milliseconds()
		if elapsed < cfg.CooldownMs {
			return false
		}
	}

	if !m.lastHunterEntry.IsZero() {
		elapsed := now.Sub(m.lastHunterEntry).Milliseconds()
		if elapsed < m.hunterCooldownMs {
			return false
		}
	}

	return true
}

// RemainingCooldown reports the seconds left on the binding (direction or
// global hunter) cooldown, for the TradeBlocked{reason} message ("cooldown
// remaining 20s").
func (m *Monitor) RemainingCooldown(symbol string, dir liquidations.Direction, cfg SymbolConfig, now time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.windowFor(symbol, dir)
	var remaining time.Duration
	if !w.lastTrigger.IsZero() {
		left := time.Duration(cfg.CooldownMs)*time.Millisecond - now.Sub(w.lastTrigger)
		if left > remaining {
			remaining = left
		}
	}
	if !m.lastHunterEntry.IsZero() {
		left := time.Duration(m.hunterCooldownMs)*time.Millisecond - now.Sub(m.lastHunterEntry)
		if left > remaining {
			remaining = left
		}
	}
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// MarkTriggered records that a signal fired in dir for symbol at now, and
// bumps the global hunter cooldown. Hunter calls this only after it has
// actually submitted (or decided to submit) an order, never speculatively.
func (m *Monitor) MarkTriggered(symbol string, dir liquidations.Direction, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.windowFor(symbol, dir)
	w.lastTrigger = now
	m.lastHunterEntry = now
}
