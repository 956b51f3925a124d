package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"market-pipeline/pkg/store"
	"market-pipeline/pkg/types"
)

var (
	watchStatus   bool
	watchInterval int
)

var statusCmd = &cobra.Command{
	Use:   "status [token-id]",
	Short: "Show the last transaction result per token",
	Long: `Show the last recorded transaction result of every token, or of one token.

Examples:
  market-pipeline status
  market-pipeline status 42
  market-pipeline status 42 --watch --interval 10`,
	Args: cobra.MaximumNArgs(1),
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Watch status updates continuously")
	statusCmd.Flags().IntVar(&watchInterval, "interval", 5, "Polling interval in seconds (when watching)")
}

func runStatus(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig(cmd)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	subject := ""
	if len(args) == 1 {
		subject = args[0]
	}

	if !watchStatus {
		results, err := readResults(cfg.Store.ResultsPath, subject)
		if err != nil {
			printError(err)
			os.Exit(1)
		}
		if jsonOutput {
			printJSON(results)
		} else {
			displayResults(results)
		}
		return
	}

	if jsonOutput {
		fmt.Println(`{"error": "watch mode not supported with JSON output"}`)
		os.Exit(1)
	}

	fmt.Printf("\nWatching transaction results. Checking every %d seconds. Press Ctrl+C to stop.\n", watchInterval)

	ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
	defer ticker.Stop()

	for {
		results, err := readResults(cfg.Store.ResultsPath, subject)
		if err != nil {
			color.Red("Error: %v", err)
		} else {
			displayResults(results)
		}
		<-ticker.C
	}
}

// readResults loads the journal fresh so results written by other processes show up
func readResults(path, subject string) ([]*types.TransactionResult, error) {
	s, err := store.NewPersistent(path)
	if err != nil {
		return nil, err
	}
	if subject == "" {
		return s.Results(), nil
	}
	if r, ok := s.Result(subject); ok {
		return []*types.TransactionResult{r}, nil
	}
	return nil, nil
}

func displayResults(results []*types.TransactionResult) {
	if len(results) == 0 {
		fmt.Println("\nNo transactions recorded yet.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                      TRANSACTION STATUS")
	fmt.Println(strings.Repeat("=", 70))

	for _, r := range results {
		fmt.Printf("\n  Token:      %s\n", color.CyanString(r.SubjectID))
		fmt.Printf("  Action:     %s\n", actionName(r.Kind))
		fmt.Printf("  Status:     %s\n", getColoredStatus(r.Status))
		if r.Hash != "" {
			fmt.Printf("  Tx Hash:    %s\n", color.HiBlackString(r.Hash))
		}
		if r.ErrorKind != "" {
			fmt.Printf("  Reason:     %s\n", r.ErrorKind)
		}
		if r.Message != "" && r.Status != types.StatusSuccess {
			fmt.Printf("  Message:    %s\n", r.Message)
		}
		fmt.Printf("  Completed:  %s\n", r.CompletedAt.Local().Format("2006-01-02 15:04:05"))
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func getColoredStatus(status types.Status) string {
	switch status {
	case types.StatusSuccess:
		return color.GreenString(string(status))
	case types.StatusRejected:
		return color.YellowString(string(status))
	case types.StatusFailed:
		return color.RedString(string(status))
	default:
		return string(status)
	}
}
