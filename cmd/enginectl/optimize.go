package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lickhunter/engine/internal/backtest"
	"github.com/lickhunter/engine/internal/config"
	"github.com/lickhunter/engine/internal/exchange"
	"github.com/lickhunter/engine/internal/liquidations"
)

// optimizeLookback is how far back the optimizer pulls liquidation history
// and 1h candles for its replay: 30 days. The default liquidation retention
// (global.liquidationRetention) is 7 days.
const optimizeLookback = 30 * 24 * time.Hour

func newOptimizeCmd() *cobra.Command {
	var configPath, symbolFilter string
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Run the parameter-grid backtest and report (not apply) a recommendation per symbol",
		RunE: func(cmd *cobra.Command, args []string) error {
			runOptimize(configPath, symbolFilter)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "Path to the engine config file")
	cmd.Flags().StringVar(&symbolFilter, "symbol", "", "Restrict the run to a single symbol")
	return cmd
}

func optimizerWeights() backtest.Weights {
	v := viper.New()
	v.SetEnvPrefix("OPTIMIZER_WEIGHT")
	v.AutomaticEnv()
	w := backtest.DefaultWeights()
	if v.IsSet("PNL") {
		w.PnL = v.GetFloat64("PNL")
	}
	if v.IsSet("SHARPE") {
		w.Sharpe = v.GetFloat64("SHARPE")
	}
	if v.IsSet("DRAWDOWN") {
		w.Drawdown = v.GetFloat64("DRAWDOWN")
	}
	return w
}

func runOptimize(configPath, symbolFilter string) {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("config: %v", err)
	}

	liqStore, err := liquidations.Open(cfg.Global.LiquidationStorePath, log, 4096)
	if err != nil {
		fatal("liquidation store: %v", err)
	}
	defer liqStore.Close()

	client := futures.NewClient(cfg.Global.APIKey, cfg.Global.APISecret)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	from := time.Now().Add(-optimizeLookback)
	var data []backtest.SymbolData
	var grid []backtest.SimParams
	for symbol, symCfg := range cfg.Symbols {
		if symbolFilter != "" && symbol != symbolFilter {
			continue
		}
		events, err := liqStore.Query(symbol, &from, nil, 100000, 0)
		if err != nil {
			fatal("liquidation query for %s: %v", symbol, err)
		}
		candles, err := fetchCandles(ctx, client, symbol, from)
		if err != nil {
			ae := exchange.Parse(err)
			if ae != nil && ae.Kind == exchange.KindTransport {
				fmt.Fprintf(os.Stderr, "exchange unreachable: %v\n", err)
				os.Exit(exitUnreachable)
			}
			fatal("candles for %s: %v", symbol, err)
		}
		data = append(data, backtest.SymbolData{Symbol: symbol, Events: events, Candles: candles})
		grid = append(grid, gridFor(symCfg)...)
	}
	if len(data) == 0 {
		fatal("no symbols matched for optimization")
	}

	opt := backtest.NewOptimizer(log, optimizerWeights())
	_, best := opt.Run(data, grid, rand.New(rand.NewSource(time.Now().UnixNano())))
	rec := backtest.Recommend(best)

	fmt.Printf("recommended max open positions: %d\n\n", rec.RecommendedMaxPositions)
	for symbol, c := range rec.PerSymbol {
		fmt.Printf("%-12s score=%.4f win_rate=%.2f%% profit_factor=%.2f sl=%s tp=%s leverage=%d\n",
			symbol, c.Score, c.Metrics.WinRate()*100, c.Metrics.ProfitFactor(),
			c.Params.SLPercent.String(), c.Params.TPPercent.String(), c.Params.Leverage)
	}

	maybeApply(configPath, cfg, rec)
}

// gridFor builds a small SL/TP grid centered on the symbol's configured
// values (spec doesn't fix a grid shape; a +/-50% sweep around the
// operator's current setting is the narrowest slice that still surfaces a
// meaningfully different recommendation).
func gridFor(symCfg config.Symbol) []backtest.SimParams {
	base := backtest.SimParams{
		LongThreshold:  symCfg.EffectiveLongThreshold(),
		ShortThreshold: symCfg.EffectiveShortThreshold(),
		WindowMs:       symCfg.ThresholdTimeWindowMs,
		CooldownMs:     symCfg.ThresholdCooldownMs,
		Leverage:       symCfg.Leverage,
		MakerFeeRate:   decimal.NewFromFloat(0.0002),
		TakerFeeRate:   decimal.NewFromFloat(0.0004),
	}
	multipliers := []float64{0.5, 1.0, 1.5}
	grid := make([]backtest.SimParams, 0, len(multipliers)*len(multipliers))
	for _, slMult := range multipliers {
		for _, tpMult := range multipliers {
			p := base
			p.SLPercent = symCfg.SLPercent.Mul(decimal.NewFromFloat(slMult))
			p.TPPercent = symCfg.TPPercent.Mul(decimal.NewFromFloat(tpMult))
			grid = append(grid, p)
		}
	}
	return grid
}

func fetchCandles(ctx context.Context, client *futures.Client, symbol string, from time.Time) ([]backtest.Candle, error) {
	klines, err := client.NewKlinesService().
		Symbol(symbol).
		Interval("1h").
		StartTime(from.UnixMilli()).
		Limit(1000).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	candles := make([]backtest.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, backtest.Candle{
			OpenTimeMs: k.OpenTime,
			Open:       decimal.RequireFromString(k.Open),
			High:       decimal.RequireFromString(k.High),
			Low:        decimal.RequireFromString(k.Low),
			Close:      decimal.RequireFromString(k.Close),
			Volume:     decimal.RequireFromString(k.Volume),
		})
	}
	return candles, nil
}

// maybeApply overwrites the live config file's per-symbol SL/TP with the
// optimizer's recommendation when both FORCE_OPTIMIZER_OVERWRITE and
// FORCE_OPTIMIZER_CONFIRM are set — the operator's explicit double
// confirmation required before a recommendation becomes live configuration.
// Either flag missing leaves the file untouched; the recommendation is
// still printed, never silently applied.
func maybeApply(configPath string, cfg *config.Config, rec backtest.Recommendation) {
	v := viper.New()
	v.AutomaticEnv()
	if !v.GetBool("FORCE_OPTIMIZER_OVERWRITE") || !v.GetBool("FORCE_OPTIMIZER_CONFIRM") {
		fmt.Println("\nrecommendation not applied (set FORCE_OPTIMIZER_OVERWRITE and FORCE_OPTIMIZER_CONFIRM to write it back)")
		return
	}

	raw := viper.New()
	raw.SetConfigFile(configPath)
	if err := raw.ReadInConfig(); err != nil {
		fatal("re-reading config for overwrite: %v", err)
	}
	for symbol, c := range rec.PerSymbol {
		raw.Set(fmt.Sprintf("symbols.%s.slPercent", symbol), c.Params.SLPercent.String())
		raw.Set(fmt.Sprintf("symbols.%s.tpPercent", symbol), c.Params.TPPercent.String())
	}
	raw.Set("global.maxOpenPositions", rec.RecommendedMaxPositions)

	if err := raw.WriteConfigAs(configPath); err != nil {
		fatal("writing config: %v", err)
	}
	fmt.Printf("\napplied recommendation to %s\n", configPath)
}
