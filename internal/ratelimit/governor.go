// Package ratelimit is the Rate-Limit Governor (C2): per-minute weight and
// order-count budgets with a priority queue and a reserve band for critical
// operations.
//
// Grounded on golang.org/x/time/rate's token-bucket idiom, with an
// explicit priority-queue and reserve-band layer on top for protecting
// critical operations when the budget runs low.
package ratelimit

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Priority tags a request so the governor can protect higher tiers from
// lower ones when the budget runs low.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Observer receives queue/reject events for metrics. Optional: a nil
// Observer on a Governor is fine and simply skips reporting.
type Observer interface {
	QueueObserved(priority Priority)
	RejectObserved(priority Priority)
}

// ErrRateLimitExceeded is returned when a queued request waits past its
// configured timeout.
type ErrRateLimitExceeded struct{ Priority Priority }

func (e *ErrRateLimitExceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded for priority %d", e.Priority)
}

// Config tunes the governor.
type Config struct {
	WeightPerMinute   int
	OrdersPerMinute   int
	ReservePercent    float64 // fraction of budget reserved for priorities above the requester's
	QueueTimeout      time.Duration
	QueueCapacity     int // per-priority bounded FIFO capacity
}

func DefaultConfig() Config {
	return Config{
		WeightPerMinute: 2400,
		OrdersPerMinute: 1200,
		ReservePercent:  0.10,
		QueueTimeout:    5 * time.Second,
		QueueCapacity:   256,
	}
}

type pending struct {
	weight  int
	isOrder bool
	done    chan struct{}
	admit   bool
}

// Governor tracks weight/order usage in fixed one-minute windows (both
// counters reset together once a minute has passed; usage is not a
// sliding window) and admits or queues requests by priority.
type Governor struct {
	cfg Config

	mu           sync.Mutex
	weightUsed   int
	ordersUsed   int
	windowStart  time.Time
	queues       map[Priority]*list.List
	weightTicker *rate.Limiter
	obs          Observer
}

// SetObserver attaches a metrics observer. Not safe to call concurrently
// with Admit/Drain; call once, right after New.
func (g *Governor) SetObserver(obs Observer) { g.obs = obs }

// New builds a Governor. rollWindow resets the minute window; the
// Governor tracks usage within that window explicitly (rate.Limiter
// alone can't express "leave N% for higher priorities"), and
// weightTicker is left unset.
func New(cfg Config) *Governor {
	g := &Governor{
		cfg:         cfg,
		windowStart: time.Now(),
		queues: map[Priority]*list.List{
			PriorityLow:      list.New(),
			PriorityMedium:   list.New(),
			PriorityHigh:     list.New(),
			PriorityCritical: list.New(),
		},
	}
	return g
}

func (g *Governor) rollWindow() {
	if time.Since(g.windowStart) >= time.Minute {
		g.weightUsed = 0
		g.ordersUsed = 0
		g.windowStart = time.Now()
	}
}

// CanMakeRequest reports whether admitting a request of the given weight
// would leave at least ReservePercent of the budget for priorities above
// the caller's own. Critical bypasses the reserve check entirely (it IS
// the top priority).
func (g *Governor) CanMakeRequest(weight int, isOrder bool, priority Priority) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollWindow()
	return g.canAdmitLocked(weight, isOrder, priority)
}

func (g *Governor) canAdmitLocked(weight int, isOrder bool, priority Priority) bool {
	reserve := 0.0
	if priority != PriorityCritical {
		reserve = g.cfg.ReservePercent
	}

	weightCeiling := float64(g.cfg.WeightPerMinute) * (1 - reserve)
	if float64(g.weightUsed+weight) > weightCeiling {
		return false
	}
	if isOrder {
		orderCeiling := float64(g.cfg.OrdersPerMinute) * (1 - reserve)
		if float64(g.ordersUsed+1) > orderCeiling {
			return false
		}
	}
	return true
}

// Admit blocks until weight can be spent, queueing the request under its
// priority band if the budget is currently exhausted, or returns
// ErrRateLimitExceeded once QueueTimeout elapses. Critical requests bypass
// the queue entirely up to the reserve band.
func (g *Governor) Admit(ctx context.Context, weight int, isOrder bool, priority Priority) error {
	g.mu.Lock()
	g.rollWindow()
	if g.canAdmitLocked(weight, isOrder, priority) {
		g.weightUsed += weight
		if isOrder {
			g.ordersUsed++
		}
		g.mu.Unlock()
		return nil
	}

	if priority == PriorityCritical {
		// Critical bypasses the queue up to the reserve band itself: spend
		// against the reserve rather than wait.
		g.weightUsed += weight
		if isOrder {
			g.ordersUsed++
		}
		g.mu.Unlock()
		return nil
	}

	q := g.queues[priority]
	if q.Len() >= g.cfg.QueueCapacity {
		g.mu.Unlock()
		g.reportReject(priority)
		return &ErrRateLimitExceeded{Priority: priority}
	}
	p := &pending{weight: weight, isOrder: isOrder, done: make(chan struct{})}
	el := q.PushBack(p)
	g.mu.Unlock()
	g.reportQueue(priority)

	timer := time.NewTimer(g.cfg.QueueTimeout)
	defer timer.Stop()

	select {
	case <-p.done:
		if p.admit {
			return nil
		}
		g.reportReject(priority)
		return &ErrRateLimitExceeded{Priority: priority}
	case <-timer.C:
		g.mu.Lock()
		q.Remove(el)
		g.mu.Unlock()
		g.reportReject(priority)
		return &ErrRateLimitExceeded{Priority: priority}
	case <-ctx.Done():
		g.mu.Lock()
		q.Remove(el)
		g.mu.Unlock()
		return ctx.Err()
	}
}

func (g *Governor) reportQueue(priority Priority) {
	if g.obs != nil {
		g.obs.QueueObserved(priority)
	}
}

func (g *Governor) reportReject(priority Priority) {
	if g.obs != nil {
		g.obs.RejectObserved(priority)
	}
}

// Drain should be called on a ticker (any sub-second cadence works) to
// admit queued requests as budget replenishes, highest priority first.
func (g *Governor) Drain() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollWindow()

	for _, prio := range []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow} {
		q := g.queues[prio]
		for q.Len() > 0 {
			front := q.Front()
			p := front.Value.(*pending)
			if !g.canAdmitLocked(p.weight, p.isOrder, prio) {
				break
			}
			g.weightUsed += p.weight
			if p.isOrder {
				g.ordersUsed++
			}
			p.admit = true
			close(p.done)
			q.Remove(front)
		}
	}
}

// Usage reports current window usage, for the status sink / metrics.
func (g *Governor) Usage() (weightUsed, ordersUsed int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollWindow()
	return g.weightUsed, g.ordersUsed
}
