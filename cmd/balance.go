package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var balanceCmd = &cobra.Command{
	Use:   "balance [asset...]",
	Short: "Show the signer's balances",
	Long: `Show the balance of the signing account in the native asset, every
configured ERC20 token and SOL when a Solana RPC is configured.

Examples:
  market-pipeline balance
  market-pipeline balance ETH USDC`,
	Run: runBalance,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}

func runBalance(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := newChainApp(ctx, cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.Close()

	assets := args
	if len(assets) == 0 {
		assets = nativeAndTokenAssets(a.cfg)
	}
	sort.Strings(assets)

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Reading balances..."
		s.Start()
	}

	balances := make(map[string]string, len(assets))
	failures := make(map[string]string)
	for _, asset := range assets {
		asset = strings.ToUpper(asset)
		amount, err := a.balances.GetBalance(ctx, a.account, asset)
		if err != nil {
			failures[asset] = err.Error()
			continue
		}
		balances[asset] = amount.String()
	}

	if !jsonOutput {
		s.Stop()
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"account":  a.account,
			"balances": balances,
			"errors":   failures,
		})
		return
	}

	fmt.Printf("\n  Account:  %s\n\n", color.CyanString(a.account))
	for _, asset := range assets {
		asset = strings.ToUpper(asset)
		if msg, failed := failures[asset]; failed {
			fmt.Printf("  %-8s  %s\n", color.YellowString(asset), color.RedString(msg))
			continue
		}
		fmt.Printf("  %-8s  %s\n", color.YellowString(asset), balances[asset])
	}
	fmt.Println()
}
