package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lickhunter/engine/internal/config"
	"github.com/lickhunter/engine/internal/exchange"
	"github.com/lickhunter/engine/internal/liquidations"
	"github.com/lickhunter/engine/internal/symbols"
)

func newStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a snapshot of the configured symbols and recent liquidation volume",
		RunE: func(cmd *cobra.Command, args []string) error {
			runStatus(configPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "Path to the engine config file")
	return cmd
}

func runStatus(configPath string) {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("config: %v", err)
	}

	client := futures.NewClient(cfg.Global.APIKey, cfg.Global.APISecret)
	catalog := symbols.New(client, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := catalog.Refresh(ctx); err != nil {
		ae := exchange.Parse(err)
		if ae != nil && ae.Kind == exchange.KindTransport {
			fmt.Fprintf(os.Stderr, "exchange unreachable: %v\n", err)
			os.Exit(exitUnreachable)
		}
		fatal("catalog refresh: %v", err)
	}

	fmt.Printf("position mode: %s\n", cfg.Global.PositionMode)
	fmt.Printf("paper mode:    %v\n", cfg.Global.PaperMode)
	fmt.Printf("symbols configured: %d\n", len(cfg.Symbols))
	for symbol := range cfg.Symbols {
		if _, err := catalog.Lookup(symbol); err != nil {
			fmt.Printf("  %-12s UNKNOWN ON EXCHANGE: %v\n", symbol, err)
			continue
		}
		fmt.Printf("  %-12s ok\n", symbol)
	}

	liqStore, err := liquidations.Open(cfg.Global.LiquidationStorePath, log, 4096)
	if err != nil {
		fatal("liquidation store: %v", err)
	}
	defer liqStore.Close()

	stats, err := liqStore.Stats(24 * time.Hour)
	if err != nil {
		fatal("liquidation stats: %v", err)
	}
	fmt.Printf("\nliquidations, trailing 24h: %d events, %s total notional\n", stats.Count, stats.TotalNotional.String())
	for symbol, notional := range stats.PerSymbol {
		fmt.Printf("  %-12s %s\n", symbol, notional.String())
	}
}
