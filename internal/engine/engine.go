package engine

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lickhunter/engine/internal/config"
	"github.com/lickhunter/engine/internal/copytrade"
	"github.com/lickhunter/engine/internal/hunter"
	"github.com/lickhunter/engine/internal/liquidations"
	"github.com/lickhunter/engine/internal/metrics"
	"github.com/lickhunter/engine/internal/position"
	"github.com/lickhunter/engine/internal/ratelimit"
	"github.com/lickhunter/engine/internal/status"
	"github.com/lickhunter/engine/internal/streams"
	"github.com/lickhunter/engine/internal/symbols"
	"github.com/lickhunter/engine/internal/threshold"
	"github.com/lickhunter/engine/internal/vwap"
)

const (
	pendingSweepInterval    = 30 * time.Second
	protectiveAuditInterval = 30 * time.Second
	positionModeInterval    = 2 * time.Minute
	listenKeyKeepalive      = 30 * time.Minute
	rateLimitStatusInterval = 60 * time.Second
	governorDrainInterval   = 250 * time.Millisecond
)

// Engine owns construction order and lifecycle for C1-C9 (minus the
// offline backtester, which runs out-of-band from the `optimize`
// subcommand rather than the live engine).
type Engine struct {
	cfg config.Config
	log zerolog.Logger

	sink       *status.Hub
	metrics    *metrics.Registry
	governor   *ratelimit.Governor
	catalog    *symbols.Catalog
	liqStore   *liquidations.Store
	thresholds *threshold.Monitor
	vwapCache  *vwap.Cache
	rest       *restAdapter
	posMgr     *position.Manager
	huntEngine *hunter.Hunter
	fanout     *copytrade.Fanout
	copyStore  *copytrade.Store

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs every component in dependency order: Position Manager
// before Hunter, since Hunter needs it as an opaque tracker.
func New(cfg config.Config, log zerolog.Logger) (*Engine, error) {
	client := futures.NewClient(cfg.Global.APIKey, cfg.Global.APISecret)

	sink := status.NewHub(log)
	metricsReg := metrics.New()
	governor := ratelimit.New(ratelimit.Config{
		WeightPerMinute: cfg.Global.RateLimit.WeightPerMinute,
		OrdersPerMinute: cfg.Global.RateLimit.OrdersPerMinute,
		ReservePercent:  cfg.Global.RateLimit.ReservePercent,
		QueueTimeout:    time.Duration(cfg.Global.RateLimit.QueueTimeoutMs) * time.Millisecond,
		QueueCapacity:   cfg.Global.RateLimit.QueueCapacity,
	})
	governor.SetObserver(rateLimitObserver{metrics: metricsReg})
	rest := newRESTAdapter(client, governor)

	catalog := symbols.New(client, nil)

	liqStore, err := liquidations.Open(cfg.Global.LiquidationStorePath, log, 4096)
	if err != nil {
		return nil, err
	}

	thresholds := threshold.New(2 * time.Minute)
	vwapCache := vwap.New(client, log, 5*time.Second)

	posMgr := position.New(rest, sink, log, cfg.Global.PositionMode == config.PositionModeHedge)

	huntEngine := hunter.New(hunter.Deps{
		Client:     client,
		Catalog:    catalog,
		Thresholds: thresholds,
		VWAPCache:  vwapCache,
		MarkPrices: rest,
		PosMode:    rest,
		Submitter:  rest,
		Tracker:    posMgr,
		Sink:       sink,
		Log:        log,
		Config:     cfg,
	})

	var fanout *copytrade.Fanout
	var copyStore *copytrade.Store
	if cfg.Global.CopyTrading.Enabled {
		copyStore, err = copytrade.Open(cfg.Global.CopyTrading.StorePath)
		if err != nil {
			return nil, err
		}
		wallets, err := copyStore.EnabledWallets()
		if err != nil {
			return nil, err
		}
		executors := make(map[int64]copytrade.Executor, len(wallets))
		for _, w := range wallets {
			followerClient := futures.NewClient(w.APIKey, w.APISecret)
			executors[w.ID] = newRESTAdapter(followerClient, governor)
		}
		fanout = copytrade.New(copyStore, executors, sink, log, cfg.Global.CopyTrading.FollowerLeverage)
		posMgr.SetNotifier(fanoutNotifier{fanout: fanout})
	}

	return &Engine{
		cfg: cfg, log: log.With().Str("component", "engine").Logger(),
		sink: sink, metrics: metricsReg, governor: governor, catalog: catalog, liqStore: liqStore,
		thresholds: thresholds, vwapCache: vwapCache, rest: rest,
		posMgr: posMgr, huntEngine: huntEngine, fanout: fanout, copyStore: copyStore,
	}, nil
}

// Start brings up every long-lived stream reader and periodic timer,
// and returns once initial REST warmup (exchange info, position sync)
// completes. It does not block.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	if err := e.catalog.Refresh(runCtx); err != nil {
		cancel()
		return err
	}
	if err := e.posMgr.Start(runCtx); err != nil {
		cancel()
		return err
	}

	e.spawn(func() { e.runLiquidationStream(runCtx) })
	e.spawn(func() { e.runTradeStream(runCtx) })
	e.spawn(func() { e.runUserDataStream(runCtx) })
	e.spawn(func() { e.runTimers(runCtx) })
	e.spawn(func() { e.metrics.Subscribe(runCtx, e.sink) })

	if e.cfg.Global.Server.Enabled {
		e.spawn(func() { e.runStatusServer(runCtx) })
	}

	e.log.Info().Msg("engine started")
	return nil
}

// runStatusServer exposes /healthz and /metrics on the configured address:
// the core registers series but doesn't stand up a dashboard that would
// scrape them — this is just the Prometheus exposition endpoint.
func (e *Engine) runStatusServer(ctx context.Context) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(e.metrics.Gatherer(), promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: e.cfg.Global.Server.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		e.sink.Publish(status.Event{Kind: status.KindConfigError, Component: "engine", Message: "status server stopped: " + err.Error(), At: time.Now()})
	}
}

// Stop requests cancellation of every long-lived task and waits up to 5s
// for them to exit at their next suspension point.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		e.log.Warn().Msg("forced exit: long-lived tasks did not stop within 5s")
	}

	e.liqStore.Close()
	if e.copyStore != nil {
		e.copyStore.Close()
	}
}

func (e *Engine) spawn(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

func (e *Engine) runLiquidationStream(ctx context.Context) {
	reader := streams.NewLiquidationReader(e.log, func(ev liquidations.Event) {
		if _, ok := e.cfg.Symbols[ev.Symbol]; !ok {
			return
		}
		e.liqStore.Insert(ev)
		e.metrics.IncLiquidationIngested(ev.Symbol, string(ev.Side))
		symCfg := e.cfg.Symbols[ev.Symbol]
		tcfg := threshold.SymbolConfig{
			LongThreshold:  symCfg.EffectiveLongThreshold(),
			ShortThreshold: symCfg.EffectiveShortThreshold(),
			WindowMs:       symCfg.ThresholdTimeWindowMs,
			CooldownMs:     symCfg.ThresholdCooldownMs,
			UseThreshold:   symCfg.UseThreshold && e.cfg.Global.UseThresholdSystem,
		}
		ts := e.thresholds.OnLiquidation(ev, tcfg)
		e.huntEngine.OnLiquidation(ctx, ev, ts)
	})
	reader.Run(ctx)
}

func (e *Engine) runTradeStream(ctx context.Context) {
	symbolsLower := make([]string, 0, len(e.cfg.Symbols))
	for s := range e.cfg.Symbols {
		symbolsLower = append(symbolsLower, strings.ToLower(s))
	}
	timeframes := []vwap.Timeframe{{Interval: "1m", Lookback: 20}, {Interval: "5m", Lookback: 20}}
	reader := streams.NewTradeReader(e.log, symbolsLower, func(tick streams.TradeTick) {
		e.vwapCache.OnTrade(tick.Symbol, tick.Price, tick.Qty, timeframes)
	})
	reader.Run(ctx)
}

func (e *Engine) runUserDataStream(ctx context.Context) {
	reader := streams.NewUserDataReader(e.log, e.rest.ListenKey, e.posMgr)
	reader.Run(ctx)
}

func (e *Engine) pricingFor(symbol string) position.PricingConfig {
	symCfg := e.cfg.Symbols[symbol]
	return position.PricingConfig{SLPercent: symCfg.SLPercent, TPPercent: symCfg.TPPercent}
}

func (e *Engine) runTimers(ctx context.Context) {
	pendingSweep := time.NewTicker(pendingSweepInterval)
	protectiveAudit := time.NewTicker(protectiveAuditInterval)
	posModeSync := time.NewTicker(positionModeInterval)
	keepalive := time.NewTicker(listenKeyKeepalive)
	rateStatus := time.NewTicker(rateLimitStatusInterval)
	governorDrain := time.NewTicker(governorDrainInterval)
	defer pendingSweep.Stop()
	defer protectiveAudit.Stop()
	defer posModeSync.Stop()
	defer keepalive.Stop()
	defer rateStatus.Stop()
	defer governorDrain.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-governorDrain.C:
			e.governor.Drain()
		case t := <-pendingSweep.C:
			n := e.huntEngine.SweepPending(t)
			if n > 0 {
				e.log.Info().Int("swept", n).Msg("pending-order sweep")
			}
		case <-protectiveAudit.C:
			// Reconcile covers both the protective-order audit and the
			// orphan scan as a single pass: both read the same
			// open-orders/positions snapshot, so splitting them into two
			// tickers would just double the REST calls.
			if err := e.posMgr.Reconcile(ctx, e.pricingFor); err != nil {
				e.sink.Publish(status.Event{Kind: status.KindTradingError, Component: "engine", Message: "protective audit failed: " + err.Error(), At: time.Now()})
			}
		case <-posModeSync.C:
			mode, err := e.rest.PositionMode(ctx)
			if err != nil {
				e.sink.Publish(status.Event{Kind: status.KindAPIError, Component: "engine", Message: "position mode sync failed: " + err.Error(), At: time.Now()})
				continue
			}
			next := e.cfg
			next.Global.PositionMode = mode
			e.huntEngine.UpdateConfig(next)
		case <-keepalive.C:
			if err := e.rest.KeepAliveCurrent(ctx); err != nil {
				e.sink.Publish(status.Event{Kind: status.KindAPIError, Component: "engine", Message: "listen key keepalive failed: " + err.Error(), At: time.Now()})
			}
		case <-rateStatus.C:
			weightUsed, ordersUsed := e.governor.Usage()
			e.metrics.SetRateLimitUsage(weightUsed, ordersUsed)
			e.metrics.SetLiquidationsDropped(e.liqStore.Dropped())
			if e.copyStore != nil {
				if counts, err := e.copyStore.CountOpenByWallet(); err == nil {
					for walletID, n := range counts {
						e.metrics.SetCopyTradeFollowerPositions(strconv.FormatInt(walletID, 10), n)
					}
				}
			}
			e.sink.Publish(status.Event{
				Kind: status.KindTradeDecision, Component: "engine", Message: "rate limit status",
				Fields: map[string]any{"weight_used": weightUsed, "orders_used": ordersUsed}, At: time.Now(),
			})
		}
	}
}

// Sink exposes the status hub so callers (e.g. the CLI's `status`
// subcommand or a notifier) can subscribe without reaching into engine
// internals.
func (e *Engine) Sink() status.Subscribable { return e.sink }

// UpdateConfig applies a new configuration atomically to the components
// that hold config state directly (Hunter). Position Manager's pricing
// is read fresh from cfg on every Reconcile call via pricingFor, so no
// separate push is needed there.
func (e *Engine) UpdateConfig(next config.Config) {
	e.cfg = next
	e.huntEngine.UpdateConfig(next)
}

// Fanout exposes the copy-trading fan-out (nil if disabled) so Hunter's
// order-confirmation path (wired by the caller, since Hunter doesn't
// import copytrade directly) can report master-opened/closed events.
func (e *Engine) Fanout() *copytrade.Fanout { return e.fanout }
