package provider

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

const (
	SolanaAsset     = "SOL"
	LamportDecimals = 9
)

// SolanaClient is the part of *rpc.Client the balance reader uses
type SolanaClient interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
}

// SolanaBalances reads SOL balances
type SolanaBalances struct {
	client     SolanaClient
	account    string // Used when the requested account is not a Solana address
	commitment rpc.CommitmentType
}

// NewSolanaBalances creates a SOL balance reader
func NewSolanaBalances(client SolanaClient, account string, commitment string) *SolanaBalances {
	return &SolanaBalances{
		client:     client,
		account:    account,
		commitment: parseCommitment(commitment),
	}
}

// DialSolana creates a SOL balance reader for an RPC endpoint
func DialSolana(rpcURL string, account string, commitment string) (*SolanaBalances, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("RPC URL not configured for Solana")
	}
	return NewSolanaBalances(rpc.New(rpcURL), account, commitment), nil
}

// GetBalance implements BalanceReader
func (s *SolanaBalances) GetBalance(ctx context.Context, account string, asset string) (decimal.Decimal, error) {
	if !strings.EqualFold(asset, SolanaAsset) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}

	pubkey, err := solana.PublicKeyFromBase58(account)
	if err != nil {
		if s.account == "" {
			return decimal.Zero, fmt.Errorf("invalid Solana address: %w", err)
		}
		pubkey, err = solana.PublicKeyFromBase58(s.account)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid Solana address: %w", err)
		}
	}

	out, err := s.client.GetBalance(ctx, pubkey, s.commitment)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}

	return FromBaseUnits(new(big.Int).SetUint64(out.Value), LamportDecimals), nil
}

// parseCommitment returns the commitment level from config
func parseCommitment(commitment string) rpc.CommitmentType {
	switch strings.ToLower(commitment) {
	case "finalized":
		return rpc.CommitmentFinalized
	case "processed":
		return rpc.CommitmentProcessed
	default:
		return rpc.CommitmentConfirmed
	}
}
