package metrics

import (
	"context"

	"github.com/lickhunter/engine/internal/status"
)

// Subscribe drains sink's status events onto the registry's counters until
// ctx is cancelled, mirroring how the (out-of-scope) dashboard/notifier
// collaborators would consume the same feed — the registry is just another
// subscriber, never a publisher's direct dependency.
func (r *Registry) Subscribe(ctx context.Context, sink status.Subscribable) {
	ch, cancel := sink.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			r.observe(ev)
		}
	}
}

func (r *Registry) observe(ev status.Event) {
	switch ev.Kind {
	case status.KindOrderFilled:
		side, _ := ev.Fields["side"].(string)
		r.IncOrderPlaced(ev.Symbol, side)
		r.IncOpenPositions()
	case status.KindPositionClosed:
		r.DecOpenPositions()
	case status.KindTradeBlocked:
		reason := ev.Code
		if reason == "" {
			reason = ev.Message
		}
		r.IncOrderRejected(ev.Symbol, reason)
	case status.KindPositionUpdated:
		r.IncReconcileDrift(ev.Symbol)
	}
}
