// Command enginectl is the operator entrypoint: start the live engine,
// inspect its status feed, or run the offline optimizer against stored
// liquidation history. Grounded on a cobra root + subcommands CLI (a
// requireNoError-style fatal helper) and a classic boot sequence (load
// env/config, wire the client, serve /healthz), generalized from flags
// to cobra subcommands and from os.Getenv to viper.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes: 0 success, 1 fatal configuration/runtime error, 2
// unreachable exchange after retries.
const (
	exitOK          = 0
	exitFatal       = 1
	exitUnreachable = 2
)

func main() {
	root := &cobra.Command{
		Use:   "enginectl",
		Short: "enginectl operates the liquidation-cascade mean-reversion trading engine",
	}

	root.AddCommand(newStartCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newOptimizeCmd())
	root.AddCommand(newFollowersCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFatal)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(exitFatal)
}
