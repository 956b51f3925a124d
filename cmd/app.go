package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"market-pipeline/config"
	"market-pipeline/pkg/approval"
	"market-pipeline/pkg/balance"
	"market-pipeline/pkg/executor"
	"market-pipeline/pkg/gas"
	"market-pipeline/pkg/logging"
	"market-pipeline/pkg/market"
	"market-pipeline/pkg/metrics"
	"market-pipeline/pkg/notify"
	"market-pipeline/pkg/pipeline"
	"market-pipeline/pkg/pricing"
	"market-pipeline/pkg/provider"
	"market-pipeline/pkg/signer"
	"market-pipeline/pkg/store"
)

// app holds the wired pipeline for one command invocation
type app struct {
	cfg          *config.Config
	account      string
	evm          *provider.EVM
	balances     *provider.BalanceRouter
	store        *store.Store
	metrics      *metrics.Pipeline
	approver     *terminalApprover
	orchestrator *pipeline.Orchestrator
	metricsSrv   *http.Server
}

// loadConfig reads the configuration and initializes logging from it
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}
	logging.Init(level, cfg.Log.Format)
	return cfg, nil
}

// newChainApp dials the chain and wires the balance readers only
func newChainApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tokens := make(map[string]provider.Token, len(cfg.Tokens))
	for symbol, t := range cfg.Tokens {
		tokens[symbol] = provider.Token{Address: t.Address, Decimals: t.Decimals}
	}

	evm, err := provider.DialEVM(ctx, cfg.RPCURL, provider.EVMConfig{
		ChainID:     cfg.ChainID,
		NativeAsset: cfg.NativeAsset,
		GasPrice:    cfg.GasPrice(),
		GasLimit:    cfg.Gas.Limit,
		Tokens:      tokens,
	})
	if err != nil {
		return nil, err
	}

	balances := provider.NewBalanceRouter(evm)
	if cfg.Solana.RPCURL != "" {
		sol, err := provider.DialSolana(cfg.Solana.RPCURL, cfg.Solana.Account, cfg.Solana.Commitment)
		if err != nil {
			evm.Close()
			return nil, err
		}
		balances.Register(provider.SolanaAsset, sol)
	}

	a := &app{cfg: cfg, evm: evm, balances: balances}
	a.account, err = resolveAccount(ctx, cfg)
	if err != nil {
		evm.Close()
		return nil, err
	}
	return a, nil
}

// newApp wires the full transaction pipeline
func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	a, err := newChainApp(ctx, cmd)
	if err != nil {
		return nil, err
	}
	cfg := a.cfg
	jsonOutput, _ := cmd.Flags().GetBool("json")

	contracts, err := market.NewContracts(cfg.MarketplaceAddress, cfg.NFTAddress)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.store, err = store.NewPersistent(cfg.Store.ResultsPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.metrics = metrics.New()

	gate := approval.NewGate()
	autoConfirm, promptOut := approvalSettings(cmd)
	a.approver = newTerminalApprover(gate, os.Stdin, promptOut, autoConfirm, jsonOutput)

	var notifier notify.Notifier = notify.LogNotifier{}
	terminal := notify.NewTerminal(promptOut, cfg.Funding.OnrampURL)
	if !jsonOutput {
		notifier = terminal
	}

	pcfg := pipeline.Config{
		Guard:           balance.NewGuard(a.balances),
		Estimator:       gas.NewEstimator(a.evm, contracts, cfg.NativeAsset, cfg.Gas.BufferPercent),
		Executor:        executor.New(a.evm, contracts, signer.NewKeySource(config.LoadPrivateKey)),
		Gate:            gate,
		Store:           a.store,
		Market:          market.NewReader(contracts, a.evm.Backend()),
		Notifier:        notifier,
		Funding:         terminal,
		Metrics:         a.metrics,
		FeeAsset:        cfg.NativeAsset,
		MinFeeReserve:   cfg.MinFeeReserve(),
		PriceTTL:        cfg.Approval.PriceTTL,
		ApprovalTimeout: cfg.Approval.Timeout,
		Notify: notify.Options{
			Placement:  cfg.Notify.Placement,
			DurationMs: cfg.Notify.DurationMs,
		},
	}
	if cfg.PricingEnabled() {
		recipient := cfg.Pricing.QuoteRecipient
		if recipient == "" {
			recipient = a.account
		}
		pcfg.Converter = pricing.NewConverter(
			pricing.NewClient(cfg.Pricing.JWTToken, cfg.Pricing.BaseURL),
			pricing.Options{
				NativeSymbol: cfg.NativeAsset,
				NativeChain:  cfg.Pricing.NativeChain,
				Recipient:    recipient,
				TokenTTL:     cfg.Pricing.TokenCacheTTL,
			},
		)
	}

	a.orchestrator, err = pipeline.New(pcfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		a.serveMetrics(addr)
	}
	return a, nil
}

// approvalSettings decides how the approval dialog is shown. Only --yes skips
// the prompt; with --json the prompt goes to stderr so stdout stays parseable.
func approvalSettings(cmd *cobra.Command) (autoConfirm bool, out io.Writer) {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	autoConfirm, _ = cmd.Flags().GetBool("yes")

	out = os.Stdout
	if jsonOutput {
		out = os.Stderr
	}
	return autoConfirm, out
}

// resolveAccount returns the configured account, or the address of the
// environment key when none is configured
func resolveAccount(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.Account != "" {
		return cfg.Account, nil
	}

	var account string
	err := signer.With(ctx, signer.NewKeySource(config.LoadPrivateKey), "", func(h *signer.Handle) error {
		account = h.Address().Hex()
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("account not configured. Please set %s_ACCOUNT or account in .market-pipeline.yaml: %w", config.EnvPrefix, err)
	}
	return account, nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	a.metricsSrv = &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.WithField("addr", addr).Info("serving metrics")
		if err := a.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server failed")
		}
	}()
}

// Close releases the chain connection and the metrics server
func (a *app) Close() {
	if a.metricsSrv != nil {
		_ = a.metricsSrv.Close()
	}
	if a.evm != nil {
		a.evm.Close()
	}
}

func nativeAndTokenAssets(cfg *config.Config) []string {
	assets := []string{cfg.NativeAsset}
	for symbol := range cfg.Tokens {
		assets = append(assets, strings.ToUpper(symbol))
	}
	if cfg.Solana.RPCURL != "" {
		assets = append(assets, provider.SolanaAsset)
	}
	return assets
}
