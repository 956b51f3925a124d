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

	"market-pipeline/pkg/pricing"
)

var (
	filterChain  string
	filterSymbol string
)

var tokensCmd = &cobra.Command{
	Use:     "currencies",
	Aliases: []string{"tokens"},
	Short:   "List the currencies listing prices can be quoted in",
	Long: `List the tokens the 1Click API can convert listing prices from.

Requires pricing.jwt_token to be configured.

Examples:
  market-pipeline currencies
  market-pipeline currencies --chain eth
  market-pipeline currencies --symbol USD`,
	Run: runListTokens,
}

func init() {
	rootCmd.AddCommand(tokensCmd)

	tokensCmd.Flags().StringVar(&filterChain, "chain", "", "Filter by blockchain")
	tokensCmd.Flags().StringVar(&filterSymbol, "symbol", "", "Filter by token symbol")
}

func runListTokens(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	if !cfg.PricingEnabled() {
		printError(fmt.Errorf("JWT token not found. Please set MARKET_PIPELINE_PRICING_JWT_TOKEN or pricing.jwt_token in .market-pipeline.yaml"))
		os.Exit(1)
	}

	apiClient := pricing.NewClient(cfg.Pricing.JWTToken, cfg.Pricing.BaseURL)

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Fetching supported tokens..."
		s.Start()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	tokens, err := apiClient.Tokens(ctx)
	if !jsonOutput {
		s.Stop()
	}

	if err != nil {
		printError(err)
		os.Exit(1)
	}

	filtered := filterTokens(tokens, filterChain, filterSymbol)

	if jsonOutput {
		printJSON(filtered)
	} else {
		displayTokens(filtered)
	}
}

func filterTokens(tokens []pricing.Token, chain, symbol string) []pricing.Token {
	var filtered []pricing.Token
	for _, token := range tokens {
		if chain != "" && !strings.EqualFold(token.Blockchain, chain) {
			continue
		}
		if symbol != "" && !strings.Contains(strings.ToUpper(token.Symbol), strings.ToUpper(symbol)) {
			continue
		}
		filtered = append(filtered, token)
	}
	return filtered
}

func displayTokens(tokens []pricing.Token) {
	if len(tokens) == 0 {
		fmt.Println("\nNo tokens found matching the criteria.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                       SUPPORTED CURRENCIES")
	fmt.Println(strings.Repeat("=", 70))

	// Group tokens by blockchain
	tokensByChain := make(map[string][]pricing.Token)
	for _, token := range tokens {
		tokensByChain[token.Blockchain] = append(tokensByChain[token.Blockchain], token)
	}

	chains := make([]string, 0, len(tokensByChain))
	for chain := range tokensByChain {
		chains = append(chains, chain)
	}
	sort.Strings(chains)

	for _, chain := range chains {
		color.Cyan("\n%s", strings.ToUpper(chain))
		fmt.Println(strings.Repeat("-", 70))

		for _, token := range tokensByChain[chain] {
			fmt.Printf("  %-10s  %2d decimals  %s\n",
				color.YellowString(token.Symbol),
				token.Decimals,
				color.HiBlackString(token.AssetID))
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	fmt.Printf("\nTotal: %d tokens across %d blockchains\n\n", len(tokens), len(chains))
}
