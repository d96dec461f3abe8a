package hunter

import (
	"fmt"
	"sync"
	"time"
)

// State is a pending entry's position in the state machine.
type State string

const (
	StateReserved State = "reserved"
	StatePending  State = "pending"
)

// PendingOrder is one in-flight candidate entry tracked between signal
// and fill/cancel confirmation from the Position Manager.
type PendingOrder struct {
	ID        string // temp id until acked, then the exchange order id
	Symbol    string
	Side      string // BUY or SELL
	State     State
	CreatedAt time.Time
}

// Registry is the Hunter's pending-order registry: before submission a
// temp record is inserted; on ack it is re-keyed to the exchange order
// id; on failure it is removed. A periodic sweep purges stale entries.
//
// Grounded on a symbol-keyed map guarded by one mutex, generalized from
// a single cooldown timestamp to a full pending-order record with
// re-keying.
type Registry struct {
	mu      sync.Mutex
	byID    map[string]*PendingOrder
	bySym   map[string]map[string]struct{} // symbol -> set of ids
	maxAge  time.Duration
}

// NewRegistry builds a Registry. maxAge is the sweep threshold for
// purging stale records (default 5 minutes).
func NewRegistry(maxAge time.Duration) *Registry {
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &Registry{
		byID:   make(map[string]*PendingOrder),
		bySym:  make(map[string]map[string]struct{}),
		maxAge: maxAge,
	}
}

// Reserve inserts a temp_{now}_{symbol}_{side} record and returns it.
func (r *Registry) Reserve(symbol, side string, now time.Time) *PendingOrder {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := fmt.Sprintf("temp_%d_%s_%s", now.UnixNano(), symbol, side)
	po := &PendingOrder{ID: id, Symbol: symbol, Side: side, State: StateReserved, CreatedAt: now}
	r.insertLocked(po)
	return po
}

func (r *Registry) insertLocked(po *PendingOrder) {
	r.byID[po.ID] = po
	set, ok := r.bySym[po.Symbol]
	if !ok {
		set = make(map[string]struct{})
		r.bySym[po.Symbol] = set
	}
	set[po.ID] = struct{}{}
}

func (r *Registry) removeLocked(id string) {
	po, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	if set, ok := r.bySym[po.Symbol]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(r.bySym, po.Symbol)
		}
	}
}

// Ack re-keys a reserved/pending record from its temp id to the exchange
// order id and marks it pending.
func (r *Registry) Ack(tempID, exchangeOrderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	po, ok := r.byID[tempID]
	if !ok {
		return
	}
	r.removeLocked(tempID)
	po.ID = exchangeOrderID
	po.State = StatePending
	r.insertLocked(po)
}

// Purge removes a record regardless of state (rejection, cancel, expiry).
func (r *Registry) Purge(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
}

// HasPendingForSymbol backs the duplicate-entry guard.
func (r *Registry) HasPendingForSymbol(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.bySym[symbol]
	return ok && len(set) > 0
}

// Count reports the total number of tracked pending orders (exposed
// through Hunter.PendingCount).
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// Sweep drops any record older than maxAge. Intended to be driven by a
// periodic timer; the engine wiring decides the sweep cadence.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var purged int
	for id, po := range r.byID {
		if now.Sub(po.CreatedAt) > r.maxAge {
			r.removeLocked(id)
			purged++
		}
	}
	return purged
}
