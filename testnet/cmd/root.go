package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "p2ptestnet",
	Short: "Run multi-node P2P scenarios on a simulated network",
	Long: `p2ptestnet builds a network of sender and receiver nodes from a scenario,
starts them on an in-memory fabric, and checks what every receiver got.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}
