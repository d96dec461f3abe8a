package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lickhunter/engine/internal/config"
	"github.com/lickhunter/engine/internal/engine"
	"github.com/lickhunter/engine/internal/exchange"
)

const (
	startRetries   = 3
	startRetryWait = 5 * time.Second
)

func newStartCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the live engine until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			runStart(configPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "Path to the engine config file")
	return cmd
}

func runStart(configPath string) {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("config: %v", err)
	}

	eng, err := engine.New(*cfg, log)
	if err != nil {
		fatal("engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var startErr error
	for attempt := 1; attempt <= startRetries; attempt++ {
		startErr = eng.Start(ctx)
		if startErr == nil {
			break
		}
		ae := exchange.Parse(startErr)
		if ae == nil || ae.Kind != exchange.KindTransport {
			fatal("engine start: %v", startErr)
		}
		log.Warn().Err(startErr).Int("attempt", attempt).Msg("exchange unreachable, retrying")
		time.Sleep(startRetryWait)
	}
	if startErr != nil {
		fmt.Fprintf(os.Stderr, "exchange unreachable after %d attempts: %v\n", startRetries, startErr)
		os.Exit(exitUnreachable)
	}

	log.Info().Str("config", configPath).Msg("engine running, press ctrl-c to stop")
	<-ctx.Done()

	log.Info().Msg("shutting down")
	eng.Stop()
}
