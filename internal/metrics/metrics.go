// Package metrics registers the engine's Prometheus series: liquidations
// ingested, orders placed, rate-limit rejections, reconciliation drift.
// Grounded on prometheus.NewCounterVec/GaugeVec, MustRegister, and thin
// Inc/Set helper methods, generalized from one global package-level
// registry to a struct so the engine can own its own registry instance
// instead of relying on prometheus' default one.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every series the engine updates, backed by its own
// prometheus.Registry so a caller can stand up a throwaway Registry in
// tests without polluting the process-global default registry.
type Registry struct {
	reg *prometheus.Registry

	liquidationsIngested *prometheus.CounterVec
	liquidationsDropped  prometheus.Gauge
	ordersPlaced         *prometheus.CounterVec
	ordersRejected       *prometheus.CounterVec
	rateLimitQueued      *prometheus.CounterVec
	rateLimitRejected    *prometheus.CounterVec
	rateLimitWeightUsed  prometheus.Gauge
	rateLimitOrdersUsed  prometheus.Gauge
	reconcileDrift       *prometheus.CounterVec
	openPositions        prometheus.Gauge
	copyTradeFollowers   *prometheus.GaugeVec
}

// New builds a Registry and registers every series on it.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		liquidationsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_liquidations_ingested_total",
			Help: "Liquidation events ingested, by symbol and side.",
		}, []string{"symbol", "side"}),
		liquidationsDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_liquidations_dropped_total",
			Help: "Cumulative liquidation events dropped because the store's write channel was full.",
		}),
		ordersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_placed_total",
			Help: "Orders placed, by symbol and side.",
		}, []string{"symbol", "side"}),
		ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_rejected_total",
			Help: "Order placements rejected, by symbol and reason.",
		}, []string{"symbol", "reason"}),
		rateLimitQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_rate_limit_queued_total",
			Help: "Requests queued by the rate-limit governor, by priority.",
		}, []string{"priority"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_rate_limit_rejected_total",
			Help: "Requests rejected by the rate-limit governor after their queue timeout, by priority.",
		}, []string{"priority"}),
		rateLimitWeightUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_rate_limit_weight_used",
			Help: "Request weight used in the current rate-limit window.",
		}),
		rateLimitOrdersUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_rate_limit_orders_used",
			Help: "Orders used in the current rate-limit window.",
		}),
		reconcileDrift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_reconcile_drift_total",
			Help: "Position/protective-order drift corrections made during reconciliation, by symbol.",
		}, []string{"symbol"}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_open_positions",
			Help: "Currently open master positions.",
		}),
		copyTradeFollowers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_copy_trade_follower_positions",
			Help: "Open follower positions per wallet.",
		}, []string{"wallet_id"}),
	}

	r.reg.MustRegister(
		r.liquidationsIngested, r.liquidationsDropped,
		r.ordersPlaced, r.ordersRejected,
		r.rateLimitQueued, r.rateLimitRejected, r.rateLimitWeightUsed, r.rateLimitOrdersUsed,
		r.reconcileDrift, r.openPositions, r.copyTradeFollowers,
	)
	return r
}

// Gatherer exposes the underlying registry for the /metrics HTTP handler.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func (r *Registry) IncLiquidationIngested(symbol, side string) {
	r.liquidationsIngested.WithLabelValues(symbol, side).Inc()
}
func (r *Registry) SetLiquidationsDropped(n int64) { r.liquidationsDropped.Set(float64(n)) }

func (r *Registry) IncOrderPlaced(symbol, side string) {
	r.ordersPlaced.WithLabelValues(symbol, side).Inc()
}
func (r *Registry) IncOrderRejected(symbol, reason string) {
	r.ordersRejected.WithLabelValues(symbol, reason).Inc()
}

func (r *Registry) IncRateLimitQueued(priority string)   { r.rateLimitQueued.WithLabelValues(priority).Inc() }
func (r *Registry) IncRateLimitRejected(priority string) { r.rateLimitRejected.WithLabelValues(priority).Inc() }
func (r *Registry) SetRateLimitUsage(weightUsed, ordersUsed int) {
	r.rateLimitWeightUsed.Set(float64(weightUsed))
	r.rateLimitOrdersUsed.Set(float64(ordersUsed))
}

func (r *Registry) IncReconcileDrift(symbol string) { r.reconcileDrift.WithLabelValues(symbol).Inc() }
func (r *Registry) SetOpenPositions(n int)          { r.openPositions.Set(float64(n)) }
func (r *Registry) IncOpenPositions()               { r.openPositions.Inc() }
func (r *Registry) DecOpenPositions()               { r.openPositions.Dec() }
func (r *Registry) SetCopyTradeFollowerPositions(walletID string, n int) {
	r.copyTradeFollowers.WithLabelValues(walletID).Set(float64(n))
}
