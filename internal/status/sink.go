// Package status is the cross-cutting event sink Hunter, Position Manager
// and Copy Trading publish to instead of calling each other directly —
// grounded on a SignalHub broadcast pattern, generalized from "websocket
// clients" to "status sink subscribers".
package status

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind is the closed set of status-event kinds emitted across Hunter,
// the Position Manager, and Copy Trading.
type Kind string

const (
	KindTradingError      Kind = "trading_error"
	KindAPIError          Kind = "api_error"
	KindWebsocketError    Kind = "websocket_error"
	KindConfigError       Kind = "config_error"
	KindPositionUpdated   Kind = "position_updated"
	KindPositionClosed    Kind = "position_closed"
	KindOrderFilled       Kind = "order_filled"
	KindOrderCancelled    Kind = "order_cancelled"
	KindTradeBlocked      Kind = "trade_blocked"
	KindTradeDecision     Kind = "trade_decision"
	KindCopyTradeComplete Kind = "copy_trade_completed"
)

// Event is the single structured payload every component emits.
type Event struct {
	Kind      Kind
	Code      string
	Component string
	Symbol    string
	Message   string
	At        time.Time
	Fields    map[string]any
}

// Sink receives events. Implementations must not block the publisher for
// more than a negligible amount of time: no component should block on
// another's critical section longer than one RPC.
type Sink interface {
	Publish(Event)
}

// Subscribable is a Sink that also fans events out to dynamic subscribers,
// the shape the (out-of-scope) dashboard/notifier collaborators plug into.
type Subscribable interface {
	Sink
	Subscribe() (ch <-chan Event, cancel func())
}

// Hub is the default Sink: it logs every event through zerolog and fans it
// out to any subscribed channel, mirroring a classic Hub.Broadcast
// (register/unregister/broadcast over a mutex-guarded client set) but
// carrying structured Events instead of raw JSON frames.
type Hub struct {
	log         zerolog.Logger
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
}

// NewHub builds a Hub that logs through log, tagged with component "status".
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:         log.With().Str("component", "status").Logger(),
		subscribers: make(map[chan Event]struct{}),
	}
}

func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	h.logEvent(ev)

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; drop rather than block the publisher.
		}
	}
}

func (h *Hub) logEvent(ev Event) {
	entry := h.log.Info()
	switch ev.Kind {
	case KindTradingError, KindAPIError, KindWebsocketError, KindConfigError:
		entry = h.log.Error()
	}
	entry = entry.Str("kind", string(ev.Kind)).Str("symbol", ev.Symbol).Str("origin", ev.Component)
	if ev.Code != "" {
		entry = entry.Str("code", ev.Code)
	}
	for k, v := range ev.Fields {
		entry = entry.Interface(k, v)
	}
	entry.Msg(ev.Message)
}

// Subscribe registers a buffered channel for this hub's events. cancel
// unregisters and closes the channel; callers must call it exactly once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
	}
	return ch, cancel
}
