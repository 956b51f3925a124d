package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"market-pipeline/pkg/pipeline"
	"market-pipeline/pkg/types"
)

var (
	listCurrency  string
	listAuction   bool
	listStart     string
	listEnd       string
	cancelAuction bool
)

var listCmd = &cobra.Command{
	Use:   "list <token-id> <price>",
	Short: "List a token at a fixed price or for auction",
	Long: `List a token on the marketplace. The marketplace is approved first when it
cannot move the token yet.

Prices in another currency are converted into the native asset through the
1Click API before the fee is estimated.

Examples:
  market-pipeline list 42 0.5
  market-pipeline list 42 1500 --currency USDC
  market-pipeline list 42 0.5 --auction --start 10m --end 24h
  market-pipeline list 42 0.5 --auction --start 2026-11-01T12:00:00Z --end 2026-11-03T12:00:00Z`,
	Args: cobra.ExactArgs(2),
	Run:  runList,
}

var approveCmd = &cobra.Command{
	Use:   "approve <token-id>",
	Short: "Approve the marketplace to move a token",
	Args:  cobra.ExactArgs(1),
	Run:   runSimple(types.KindApprove),
}

var bidCmd = &cobra.Command{
	Use:   "bid <token-id> <amount>",
	Short: "Place a bid on an auction",
	Args:  cobra.ExactArgs(2),
	Run:   runBid,
}

var acceptCmd = &cobra.Command{
	Use:   "accept <token-id>",
	Short: "Accept the best offer on a token",
	Args:  cobra.ExactArgs(1),
	Run:   runSimple(types.KindAcceptOffer),
}

var claimCmd = &cobra.Command{
	Use:   "claim <token-id>",
	Short: "Claim a finished auction",
	Args:  cobra.ExactArgs(1),
	Run:   runSimple(types.KindClaim),
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <token-id>",
	Short: "Cancel a fixed price listing or an auction",
	Long: `Cancel a listing.

Examples:
  market-pipeline cancel 42
  market-pipeline cancel 42 --auction`,
	Args: cobra.ExactArgs(1),
	Run:  runCancel,
}

func init() {
	for _, c := range []*cobra.Command{listCmd, approveCmd, bidCmd, acceptCmd, claimCmd, cancelCmd} {
		c.Flags().BoolP("yes", "y", false, "Confirm the transaction without prompting")
		rootCmd.AddCommand(c)
	}

	listCmd.Flags().StringVar(&listCurrency, "currency", "", "Currency the price is quoted in (default native asset)")
	listCmd.Flags().BoolVar(&listAuction, "auction", false, "List for auction instead of a fixed price")
	listCmd.Flags().StringVar(&listStart, "start", "", "Auction start, RFC3339 or an offset from now such as 10m")
	listCmd.Flags().StringVar(&listEnd, "end", "", "Auction end, RFC3339 or an offset from now such as 24h")

	cancelCmd.Flags().BoolVar(&cancelAuction, "auction", false, "Cancel an auction instead of a fixed price listing")
}

func runList(cmd *cobra.Command, args []string) {
	price, err := parseAmount(args[1])
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	req := types.TransactionRequest{
		Kind:          types.KindListFixed,
		SubjectID:     args[0],
		Amount:        price,
		PriceCurrency: strings.ToUpper(listCurrency),
	}

	if listAuction {
		now := time.Now()
		start, err := parseWhen(listStart, now)
		if err != nil {
			printError(fmt.Errorf("invalid --start: %w", err))
			os.Exit(1)
		}
		end, err := parseWhen(listEnd, now)
		if err != nil {
			printError(fmt.Errorf("invalid --end: %w", err))
			os.Exit(1)
		}
		req.Kind = types.KindListAuction
		req.AuctionWindow = &types.AuctionWindow{StartTime: start, EndTime: end}
	}

	runTransaction(cmd, req)
}

func runBid(cmd *cobra.Command, args []string) {
	amount, err := parseAmount(args[1])
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	runTransaction(cmd, types.TransactionRequest{
		Kind:      types.KindBid,
		SubjectID: args[0],
		Amount:    amount,
	})
}

func runCancel(cmd *cobra.Command, args []string) {
	kind := types.KindCancelFixed
	if cancelAuction {
		kind = types.KindCancelAuction
	}
	runTransaction(cmd, types.TransactionRequest{Kind: kind, SubjectID: args[0]})
}

func runSimple(kind types.Kind) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		runTransaction(cmd, types.TransactionRequest{Kind: kind, SubjectID: args[0]})
	}
}

func runTransaction(cmd *cobra.Command, req types.TransactionRequest) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer a.Close()

	req.ID = uuid.New().String()
	req.SignerRef = a.account
	if req.Kind.IsListing() && req.PriceCurrency == "" {
		req.PriceCurrency = strings.ToUpper(a.cfg.Pricing.Currency)
	}

	a.approver.Loading("Preparing transaction...")
	result, err := a.orchestrator.Run(ctx, req)
	a.approver.Done()

	if err != nil && !pipeline.IsSilent(err) && result == nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"kind":       req.Kind,
				"subject_id": req.SubjectID,
				"error_kind": pipeline.KindOf(err),
				"error":      err.Error(),
			})
		} else {
			printError(err)
		}
		os.Exit(1)
	}
	if result == nil {
		return
	}

	if jsonOutput {
		printJSON(result)
	} else {
		displayResult(result)
	}
	if !result.Succeeded() {
		os.Exit(1)
	}
}

func displayResult(r *types.TransactionResult) {
	fmt.Println()
	switch r.Status {
	case types.StatusSuccess:
		color.Green("✓ %s confirmed", actionName(r.Kind))
	case types.StatusRejected:
		color.Yellow("! %s cancelled", actionName(r.Kind))
	default:
		color.Red("✗ %s failed: %s", actionName(r.Kind), r.Message)
	}
	fmt.Printf("  Token:   %s\n", r.SubjectID)
	if r.Hash != "" {
		fmt.Printf("  Hash:    %s\n", color.CyanString(r.Hash))
	}
	if r.ErrorKind != "" {
		fmt.Printf("  Reason:  %s\n", r.ErrorKind)
	}
	fmt.Println()
}

func printJSON(v interface{}) {
	jsonData, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(jsonData))
}

func parseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("amount must be positive: %s", s)
	}
	return amount, nil
}

// parseWhen accepts an RFC3339 timestamp or a duration offset from now
func parseWhen(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time is required")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(strings.TrimPrefix(s, "+"))
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 or a duration such as 10m, got %q", s)
	}
	return now.Add(d), nil
}
