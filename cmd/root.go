package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "market-pipeline",
	Short: "Approve and submit NFT marketplace transactions from the terminal",
	Long: `market-pipeline drives NFT marketplace transactions through one pipeline:
validate, check balances, estimate the fee, ask for approval and submit.

Every transaction shows its buffered fee and waits for your confirmation
before anything is signed.

Examples:
  market-pipeline list 42 0.5
  market-pipeline list 42 1500 --currency USDC
  market-pipeline list 42 0.5 --auction --start 10m --end 24h
  market-pipeline bid 42 0.7
  market-pipeline claim 42
  market-pipeline status`,
	Version: "0.1.0",
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9102")
}

func printError(err error) {
	fmt.Printf("\nError: %v\n\n", err)
}
