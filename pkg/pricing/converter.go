package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"market-pipeline/pkg/provider"
	"market-pipeline/pkg/types"
)

const (
	DefaultTokenTTL = 10 * time.Minute
	tokensKey       = "tokens"
)

// ErrTokenNotFound is returned when a currency is not supported by the quote API
var ErrTokenNotFound = errors.New("token not found")

// QuoteAPI is the part of the 1Click client the converter uses
type QuoteAPI interface {
	Tokens(ctx context.Context) ([]Token, error)
	DryQuote(ctx context.Context, req QuoteRequest) (*Quote, error)
}

// Options configure a converter
type Options struct {
	NativeSymbol string        // Asset prices are converted into
	NativeChain  string        // Chain of the native asset, empty matches any
	Recipient    string        // Address quotes are priced for
	TokenTTL     time.Duration // How long the token list is cached
}

// Converter prices listing amounts quoted in another currency in the native asset
type Converter struct {
	api    QuoteAPI
	opts   Options
	tokens *cache.Cache
	now    func() time.Time
}

// NewConverter creates a converter over a quote API
func NewConverter(api QuoteAPI, opts Options) *Converter {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	return &Converter{
		api:    api,
		opts:   opts,
		tokens: cache.New(opts.TokenTTL, 2*opts.TokenTTL),
		now:    time.Now,
	}
}

// SetClock overrides the time conversions are stamped with
func (c *Converter) SetClock(now func() time.Time) {
	c.now = now
}

// Convert returns the native amount for amount of currency
func (c *Converter) Convert(ctx context.Context, amount decimal.Decimal, currency string) (types.PriceConversion, error) {
	if !amount.IsPositive() {
		return types.PriceConversion{}, fmt.Errorf("amount must be greater than zero")
	}
	if strings.EqualFold(currency, c.opts.NativeSymbol) {
		return types.PriceConversion{NativeAmount: amount, Rate: decimal.NewFromInt(1), ConvertedAt: c.now()}, nil
	}

	tokens, err := c.tokenList(ctx)
	if err != nil {
		return types.PriceConversion{}, err
	}

	src, err := findToken(tokens, currency, "")
	if err != nil {
		return types.PriceConversion{}, fmt.Errorf("source token error: %w", err)
	}
	dst, err := findToken(tokens, c.opts.NativeSymbol, c.opts.NativeChain)
	if err != nil {
		return types.PriceConversion{}, fmt.Errorf("destination token error: %w", err)
	}

	quote, err := c.api.DryQuote(ctx, QuoteRequest{
		OriginAsset:      src.AssetID,
		DestinationAsset: dst.AssetID,
		Amount:           provider.ToBaseUnits(amount, src.Decimals).String(),
		Recipient:        c.opts.Recipient,
	})
	if err != nil {
		return types.PriceConversion{}, fmt.Errorf("failed to get quote: %w", err)
	}
	if !quote.AmountOut.IsPositive() {
		return types.PriceConversion{}, fmt.Errorf("quote returned no output for %s %s", amount.String(), currency)
	}

	conv := types.PriceConversion{
		NativeAmount: quote.AmountOut,
		Rate:         quote.AmountOut.Div(amount),
		ConvertedAt:  c.now(),
	}

	log.WithFields(log.Fields{
		"currency": strings.ToUpper(currency),
		"amount":   amount.String(),
		"native":   conv.NativeAmount.String(),
		"rate":     conv.Rate.String(),
	}).Debug("price quoted")

	return conv, nil
}

// tokenList returns the supported tokens, cached for the token ttl
func (c *Converter) tokenList(ctx context.Context) ([]Token, error) {
	if cached, ok := c.tokens.Get(tokensKey); ok {
		return cached.([]Token), nil
	}

	tokens, err := c.api.Tokens(ctx)
	if err != nil {
		return nil, err
	}
	c.tokens.Set(tokensKey, tokens, cache.DefaultExpiration)
	return tokens, nil
}

// findToken matches a symbol exactly, optionally restricted to a chain
func findToken(tokens []Token, symbol, chain string) (*Token, error) {
	for i := range tokens {
		t := &tokens[i]
		if !strings.EqualFold(t.Symbol, symbol) {
			continue
		}
		if chain != "" && !strings.EqualFold(t.Blockchain, chain) {
			continue
		}
		return t, nil
	}

	if chain != "" {
		return nil, fmt.Errorf("%w: '%s' on chain '%s'", ErrTokenNotFound, symbol, chain)
	}
	return nil, fmt.Errorf("%w: '%s'", ErrTokenNotFound, symbol)
}
