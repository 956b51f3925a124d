package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrReleased is returned when a released handle is used
	ErrReleased = errors.New("signer handle released")
	// ErrUnknownSigner is returned when no key is available for a reference
	ErrUnknownSigner = errors.New("no signing key for reference")
)

// Source hands out signing handles for account references
type Source interface {
	Acquire(ctx context.Context, ref string) (*Handle, error)
}

// Handle is a scoped signing capability. The key is zeroed on Release.
type Handle struct {
	ref     string
	address common.Address

	mu  sync.Mutex
	key *ecdsa.PrivateKey
}

// NewHandle wraps a private key for the given reference
func NewHandle(ref string, key *ecdsa.PrivateKey) *Handle {
	return &Handle{
		ref:     ref,
		address: crypto.PubkeyToAddress(key.PublicKey),
		key:     key,
	}
}

// Ref returns the account reference the handle was acquired for
func (h *Handle) Ref() string {
	return h.ref
}

// Address returns the signing account address
func (h *Handle) Address() common.Address {
	return h.address
}

// SignTx signs an EVM transaction for the given chain
func (h *Handle) SignTx(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.key == nil {
		return nil, ErrReleased
	}

	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), h.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

// Released returns true once the key has been zeroed
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.key == nil
}

// Release zeroes the key material. Safe to call more than once.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.key == nil {
		return
	}
	words := h.key.D.Bits()
	for i := range words {
		words[i] = 0
	}
	h.key.D.SetInt64(0)
	h.key = nil
}

// With acquires a handle, runs fn and always releases the handle
func With(ctx context.Context, src Source, ref string, fn func(h *Handle) error) error {
	h, err := src.Acquire(ctx, ref)
	if err != nil {
		return err
	}
	defer h.Release()

	return fn(h)
}

// KeyLoader returns hex encoded key material for a reference
type KeyLoader func(ref string) (string, error)

// KeySource parses key material on every acquisition and never keeps it
type KeySource struct {
	load KeyLoader
}

// NewKeySource creates a source backed by a key loader
func NewKeySource(load KeyLoader) *KeySource {
	return &KeySource{load: load}
}

// Acquire implements Source
func (s *KeySource) Acquire(ctx context.Context, ref string) (*Handle, error) {
	raw, err := s.load(ref)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSigner, ref)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	h := NewHandle(ref, key)
	if common.IsHexAddress(ref) && common.HexToAddress(ref) != h.address {
		h.Release()
		return nil, fmt.Errorf("%w: key does not match account %s", ErrUnknownSigner, ref)
	}
	return h, nil
}
