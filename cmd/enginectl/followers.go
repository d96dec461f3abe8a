package main

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/lickhunter/engine/internal/config"
	"github.com/lickhunter/engine/internal/copytrade"
)

func newFollowersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "followers",
		Short: "Manage copy-trading follower wallets",
	}
	cmd.AddCommand(newFollowersAddCmd())
	return cmd
}

func newFollowersAddCmd() *cobra.Command {
	var configPath, label, apiKey, apiSecret, multiplierStr, symbolAllowStr string
	var maxPerPair int
	var enabled bool

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a new follower wallet in the copy-trading store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				fatal("config: %v", err)
			}
			if !cfg.Global.CopyTrading.Enabled {
				fatal("copy trading is disabled in %s", configPath)
			}

			multiplier, err := decimal.NewFromString(multiplierStr)
			if err != nil {
				fatal("--multiplier: %v", err)
			}

			var allow []string
			if symbolAllowStr != "" {
				allow = strings.Split(symbolAllowStr, ",")
			}

			store, err := copytrade.Open(cfg.Global.CopyTrading.StorePath)
			if err != nil {
				fatal("copy trade store: %v", err)
			}
			defer store.Close()

			id, err := store.InsertWallet(copytrade.Wallet{
				Label: label, APIKey: apiKey, APISecret: apiSecret,
				Multiplier: multiplier, SymbolAllow: allow, MaxPerPair: maxPerPair, Enabled: enabled,
			})
			if err != nil {
				fatal("insert wallet: %v", err)
			}
			fmt.Printf("wallet %q registered with id %d\n", label, id)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "Path to the engine config file")
	cmd.Flags().StringVar(&label, "label", "", "Human-readable wallet label")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Follower account API key")
	cmd.Flags().StringVar(&apiSecret, "api-secret", "", "Follower account API secret")
	cmd.Flags().StringVar(&multiplierStr, "multiplier", "1", "Position-size multiplier applied to the master's quantity")
	cmd.Flags().StringVar(&symbolAllowStr, "symbols", "", "Comma-separated symbol allow-list (empty = allow all)")
	cmd.Flags().IntVar(&maxPerPair, "max-per-pair", 0, "Max concurrent follower positions per symbol (0 = unlimited)")
	cmd.Flags().BoolVar(&enabled, "enabled", true, "Enable this wallet immediately")
	cmd.MarkFlagRequired("label")
	cmd.MarkFlagRequired("api-key")
	cmd.MarkFlagRequired("api-secret")

	return cmd
}
