package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	EnvPrefix     = "MARKET_PIPELINE"
	PrivateKeyEnv = EnvPrefix + "_PRIVATE_KEY"
)

// Config holds the application configuration
type Config struct {
	RPCURL             string `mapstructure:"rpc_url"`
	ChainID            int64  `mapstructure:"chain_id"`
	NativeAsset        string `mapstructure:"native_asset"`
	MarketplaceAddress string `mapstructure:"marketplace_address"`
	NFTAddress         string `mapstructure:"nft_address"`
	Account            string `mapstructure:"account"`

	Gas      GasConfig              `mapstructure:"gas"`
	Balance  BalanceConfig          `mapstructure:"balance"`
	Approval ApprovalConfig         `mapstructure:"approval"`
	Funding  FundingConfig          `mapstructure:"funding"`
	Notify   NotifyConfig           `mapstructure:"notify"`
	Solana   SolanaConfig           `mapstructure:"solana"`
	Tokens   map[string]TokenConfig `mapstructure:"tokens"`
	Pricing  PricingConfig          `mapstructure:"pricing"`
	Store    StoreConfig            `mapstructure:"store"`
	Log      LogConfig              `mapstructure:"log"`
}

// GasConfig controls fee estimation
type GasConfig struct {
	BufferPercent int64  `mapstructure:"buffer_percent"`
	PriceWei      string `mapstructure:"price_wei"` // Optional override of the suggested gas price
	Limit         uint64 `mapstructure:"limit"`     // Optional override of gas estimation
}

// BalanceConfig controls the balance pre-check
type BalanceConfig struct {
	MinFeeReserve string `mapstructure:"min_fee_reserve"`
}

// ApprovalConfig controls the approval dialog
type ApprovalConfig struct {
	PriceTTL time.Duration `mapstructure:"price_ttl"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// FundingConfig points at the on-ramp
type FundingConfig struct {
	OnrampURL string `mapstructure:"onramp_url"`
}

// NotifyConfig controls transient notifications
type NotifyConfig struct {
	Placement  string `mapstructure:"placement"`
	DurationMs int    `mapstructure:"duration_ms"`
}

// SolanaConfig enables the SOL balance reader
type SolanaConfig struct {
	RPCURL     string `mapstructure:"rpc_url"`
	Account    string `mapstructure:"account"`
	Commitment string `mapstructure:"commitment"`
}

// TokenConfig is an ERC20 asset whose balance can be read
type TokenConfig struct {
	Address  string `mapstructure:"address"`
	Decimals int32  `mapstructure:"decimals"`
}

// PricingConfig configures price conversion through the 1Click API
type PricingConfig struct {
	JWTToken       string        `mapstructure:"jwt_token"`
	BaseURL        string        `mapstructure:"base_url"`
	Currency       string        `mapstructure:"currency"`
	NativeChain    string        `mapstructure:"native_chain"`
	QuoteRecipient string        `mapstructure:"quote_recipient"`
	TokenCacheTTL  time.Duration `mapstructure:"token_cache_ttl"`
}

// StoreConfig controls the results journal
type StoreConfig struct {
	ResultsPath string `mapstructure:"results_path"`
}

// LogConfig controls logging
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var globalConfig *Config

// Load reads configuration from environment variables and config file.
// Validate must be called before the chain is dialed.
func Load() (*Config, error) {
	v := viper.GetViper()
	v.SetConfigName(".market-pipeline")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")

	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

// Get returns the global configuration
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}
		return cfg
	}
	return globalConfig
}

// Set updates the global configuration
func Set(cfg *Config) {
	globalConfig = cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rpc_url", "")
	v.SetDefault("chain_id", 0)
	v.SetDefault("native_asset", "ETH")
	v.SetDefault("marketplace_address", "")
	v.SetDefault("nft_address", "")
	v.SetDefault("account", "")
	v.SetDefault("gas.buffer_percent", 20)
	v.SetDefault("gas.price_wei", "")
	v.SetDefault("gas.limit", 0)
	v.SetDefault("balance.min_fee_reserve", "0")
	v.SetDefault("approval.price_ttl", "60s")
	v.SetDefault("approval.timeout", "0s")
	v.SetDefault("funding.onramp_url", "")
	v.SetDefault("notify.placement", "top-right")
	v.SetDefault("notify.duration_ms", 5000)
	v.SetDefault("solana.rpc_url", "")
	v.SetDefault("solana.account", "")
	v.SetDefault("solana.commitment", "confirmed")
	v.SetDefault("pricing.jwt_token", "")
	v.SetDefault("pricing.base_url", "https://1click.chaindefuser.com")
	v.SetDefault("pricing.currency", "")
	v.SetDefault("pricing.native_chain", "eth")
	v.SetDefault("pricing.quote_recipient", "")
	v.SetDefault("pricing.token_cache_ttl", "10m")
	v.SetDefault("store.results_path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.NativeAsset = strings.ToUpper(cfg.NativeAsset)
	return cfg, nil
}

// Validate checks the values the pipeline cannot start without
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC URL not found. Please set %s_RPC_URL or rpc_url in .market-pipeline.yaml", EnvPrefix)
	}
	if !common.IsHexAddress(c.MarketplaceAddress) {
		return fmt.Errorf("invalid marketplace_address: %q", c.MarketplaceAddress)
	}
	if !common.IsHexAddress(c.NFTAddress) {
		return fmt.Errorf("invalid nft_address: %q", c.NFTAddress)
	}
	if c.Account != "" && !common.IsHexAddress(c.Account) {
		return fmt.Errorf("invalid account: %q", c.Account)
	}
	if c.Gas.BufferPercent < 0 {
		return fmt.Errorf("gas.buffer_percent must not be negative")
	}
	if c.Gas.PriceWei != "" {
		if _, ok := new(big.Int).SetString(c.Gas.PriceWei, 10); !ok {
			return fmt.Errorf("invalid gas.price_wei: %q", c.Gas.PriceWei)
		}
	}
	reserve, err := decimal.NewFromString(c.Balance.MinFeeReserve)
	if err != nil {
		return fmt.Errorf("invalid balance.min_fee_reserve: %w", err)
	}
	if reserve.IsNegative() {
		return fmt.Errorf("balance.min_fee_reserve must not be negative")
	}
	if c.Approval.PriceTTL <= 0 {
		return fmt.Errorf("approval.price_ttl must be positive")
	}
	if c.Approval.Timeout < 0 {
		return fmt.Errorf("approval.timeout must not be negative")
	}
	for symbol, token := range c.Tokens {
		if !common.IsHexAddress(token.Address) {
			return fmt.Errorf("invalid address for token %s: %q", symbol, token.Address)
		}
		if token.Decimals < 0 || token.Decimals > 36 {
			return fmt.Errorf("invalid decimals for token %s: %d", symbol, token.Decimals)
		}
	}
	return nil
}

// MinFeeReserve returns the reserve required on top of a transaction's value
func (c *Config) MinFeeReserve() decimal.Decimal {
	reserve, err := decimal.NewFromString(c.Balance.MinFeeReserve)
	if err != nil {
		return decimal.Zero
	}
	return reserve
}

// GasPrice returns the configured gas price override, nil when unset
func (c *Config) GasPrice() *big.Int {
	if c.Gas.PriceWei == "" {
		return nil
	}
	price, ok := new(big.Int).SetString(c.Gas.PriceWei, 10)
	if !ok {
		return nil
	}
	return price
}

// PricingEnabled returns true when listing prices in other currencies can be converted
func (c *Config) PricingEnabled() bool {
	return c.Pricing.JWTToken != ""
}

// LoadPrivateKey reads the signing key from the environment. It is called on
// every acquisition so the key is never kept in the configuration.
func LoadPrivateKey(ref string) (string, error) {
	key := os.Getenv(PrivateKeyEnv)
	if key == "" {
		return "", fmt.Errorf("private key not found. Please set %s for account %s", PrivateKeyEnv, ref)
	}
	return key, nil
}
