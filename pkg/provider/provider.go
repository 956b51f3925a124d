package provider

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"market-pipeline/pkg/signer"
	"market-pipeline/pkg/types"
)

var (
	// ErrUserDenied is returned when the wallet refuses to sign
	ErrUserDenied = errors.New("signing request denied")
	// ErrReverted is returned when the transaction was mined but reverted
	ErrReverted = errors.New("transaction reverted")
	// ErrUnsupportedAsset is returned for assets no reader is configured for
	ErrUnsupportedAsset = errors.New("unsupported asset")
)

// Call is a contract call the pipeline estimates or submits
type Call struct {
	Kind  types.Kind
	From  string          // Sender account
	To    string          // Contract address
	Data  []byte          // ABI encoded call data
	Value decimal.Decimal // Native value sent with the call
}

// Receipt is returned once a submitted call is confirmed
type Receipt struct {
	Hash          string
	Confirmations int
	BlockNumber   uint64
}

// FeeEstimator returns the raw fee of a call in the native asset
type FeeEstimator interface {
	EstimateFee(ctx context.Context, call Call) (decimal.Decimal, error)
}

// BalanceReader returns account holdings of an asset
type BalanceReader interface {
	GetBalance(ctx context.Context, account string, asset string) (decimal.Decimal, error)
}

// Submitter signs, broadcasts and waits for a call to be confirmed
type Submitter interface {
	Submit(ctx context.Context, h *signer.Handle, call Call) (*Receipt, error)
}

// Provider is the wallet/provider collaborator the pipeline drives
type Provider interface {
	FeeEstimator
	BalanceReader
	Submitter
}

// MarketReader exposes the marketplace reads the pipeline validates against
type MarketReader interface {
	IsApproved(ctx context.Context, owner string, tokenID string) (bool, error)
	AuctionEndTime(ctx context.Context, tokenID string) (time.Time, error)
}

// BalanceRouter dispatches balance reads to a reader per asset
type BalanceRouter struct {
	readers  map[string]BalanceReader
	fallback BalanceReader
}

// NewBalanceRouter creates a router that uses fallback for unregistered assets
func NewBalanceRouter(fallback BalanceReader) *BalanceRouter {
	return &BalanceRouter{
		readers:  make(map[string]BalanceReader),
		fallback: fallback,
	}
}

// Register routes an asset to a reader
func (r *BalanceRouter) Register(asset string, reader BalanceReader) {
	r.readers[strings.ToUpper(asset)] = reader
}

// GetBalance implements BalanceReader
func (r *BalanceRouter) GetBalance(ctx context.Context, account string, asset string) (decimal.Decimal, error) {
	if reader, ok := r.readers[strings.ToUpper(asset)]; ok {
		return reader.GetBalance(ctx, account, asset)
	}
	if r.fallback == nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}
	return r.fallback.GetBalance(ctx, account, asset)
}

// ToBaseUnits converts a decimal amount into the smallest unit of an asset
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// FromBaseUnits converts a smallest unit amount into a decimal amount
func FromBaseUnits(amount *big.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals)
}
