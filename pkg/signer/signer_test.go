package signer

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func newTestKey(t *testing.T) (string, common.Address) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return hex.EncodeToString(crypto.FromECDSA(key)), crypto.PubkeyToAddress(key.PublicKey)
}

func TestKeySourceAcquire(t *testing.T) {
	raw, addr := newTestKey(t)
	src := NewKeySource(func(ref string) (string, error) { return "0x" + raw, nil })

	h, err := src.Acquire(context.Background(), addr.Hex())
	require.NoError(t, err)
	require.Equal(t, addr, h.Address())
	require.Equal(t, addr.Hex(), h.Ref())
	require.False(t, h.Released())
}

func TestKeySourceRejectsMismatchedAccount(t *testing.T) {
	raw, _ := newTestKey(t)
	_, other := newTestKey(t)
	src := NewKeySource(func(ref string) (string, error) { return raw, nil })

	_, err := src.Acquire(context.Background(), other.Hex())
	require.ErrorIs(t, err, ErrUnknownSigner)
}

func TestKeySourceMissingKey(t *testing.T) {
	src := NewKeySource(func(ref string) (string, error) { return "", nil })

	_, err := src.Acquire(context.Background(), "alice")
	require.ErrorIs(t, err, ErrUnknownSigner)
}

func TestReleaseZeroesKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	d := key.D
	h := NewHandle("alice", key)

	h.Release()
	h.Release()

	require.True(t, h.Released())
	require.Zero(t, d.Sign())

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{Nonce: 1, Gas: 21000, GasPrice: big.NewInt(1)})
	_, err = h.SignTx(tx, big.NewInt(1))
	require.ErrorIs(t, err, ErrReleased)
}

func TestWithAlwaysReleases(t *testing.T) {
	raw, addr := newTestKey(t)
	src := NewKeySource(func(ref string) (string, error) { return raw, nil })

	var held *Handle
	boom := errors.New("boom")
	err := With(context.Background(), src, addr.Hex(), func(h *Handle) error {
		held = h
		tx := ethtypes.NewTx(&ethtypes.LegacyTx{Nonce: 1, Gas: 21000, GasPrice: big.NewInt(1)})
		signed, err := h.SignTx(tx, big.NewInt(1337))
		require.NoError(t, err)
		sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(big.NewInt(1337)), signed)
		require.NoError(t, err)
		require.Equal(t, addr, sender)
		return boom
	})

	require.ErrorIs(t, err, boom)
	require.True(t, held.Released())
}
