package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"market-pipeline/pkg/provider"
	"market-pipeline/pkg/signer"
	"market-pipeline/pkg/types"
)

type fakeSubmitter struct {
	receipt *provider.Receipt
	err     error
	calls   int
	handles []*signer.Handle
}

func (f *fakeSubmitter) Submit(ctx context.Context, h *signer.Handle, call provider.Call) (*provider.Receipt, error) {
	f.calls++
	f.handles = append(f.handles, h)
	return f.receipt, f.err
}

type fakeCalls struct {
	err error
}

func (f fakeCalls) BuildCall(req types.TransactionRequest) (provider.Call, error) {
	if f.err != nil {
		return provider.Call{}, f.err
	}
	return provider.Call{Kind: req.Kind, From: req.SignerRef}, nil
}

type fakeSource struct {
	err error
}

func (f fakeSource) Acquire(ctx context.Context, ref string) (*signer.Handle, error) {
	if f.err != nil {
		return nil, f.err
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return signer.NewHandle(ref, key), nil
}

func confirmedRequest() (types.TransactionRequest, types.GasEstimate) {
	req := types.TransactionRequest{
		ID:        "req-1",
		Kind:      types.KindBid,
		SubjectID: "7",
		SignerRef: "alice",
		Amount:    decimal.NewFromInt(1),
	}
	est := types.GasEstimate{FeeAmount: decimal.RequireFromString("0.012"), AssetType: "ETH"}
	return req, est
}

func TestSubmitSuccess(t *testing.T) {
	sub := &fakeSubmitter{receipt: &provider.Receipt{Hash: "0xabc", Confirmations: 1, BlockNumber: 10}}
	ex := New(sub, fakeCalls{}, fakeSource{})
	now := time.Unix(1700000000, 0)
	ex.SetClock(func() time.Time { return now })

	req, est := confirmedRequest()
	result, err := ex.Submit(context.Background(), req, est)
	require.NoError(t, err)
	require.Equal(t, types.StatusSuccess, result.Status)
	require.Equal(t, "0xabc", result.Hash)
	require.Equal(t, "req-1", result.RequestID)
	require.Equal(t, types.KindBid, result.Kind)
	require.Equal(t, now, result.CompletedAt)
	require.Empty(t, result.ErrorKind)

	require.Equal(t, 1, sub.calls)
	require.True(t, sub.handles[0].Released())
}

func TestSubmitProviderFailures(t *testing.T) {
	tests := []struct {
		name    string
		receipt *provider.Receipt
		err     error
		want    types.ErrorKind
	}{
		{"wallet denial", nil, fmt.Errorf("wallet: %w", provider.ErrUserDenied), types.ErrorUserRejected},
		{"reverted", &provider.Receipt{Hash: "0xdead"}, provider.ErrReverted, types.ErrorProviderSubmitFailed},
		{"rpc failure", nil, errors.New("connection refused"), types.ErrorProviderSubmitFailed},
		{"no confirmation", &provider.Receipt{Hash: "0xbeef"}, nil, types.ErrorProviderSubmitFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{receipt: tt.receipt, err: tt.err}
			ex := New(sub, fakeCalls{}, fakeSource{})

			req, est := confirmedRequest()
			result, err := ex.Submit(context.Background(), req, est)
			require.NoError(t, err)
			require.Equal(t, types.StatusFailed, result.Status)
			require.Equal(t, tt.want, result.ErrorKind)
			require.NotEmpty(t, result.Message)
			if tt.receipt != nil {
				require.Equal(t, tt.receipt.Hash, result.Hash)
			}
			require.True(t, sub.handles[0].Released())
		})
	}
}

func TestSubmitInternalFaults(t *testing.T) {
	req, est := confirmedRequest()

	t.Run("signer unavailable", func(t *testing.T) {
		sub := &fakeSubmitter{}
		ex := New(sub, fakeCalls{}, fakeSource{err: signer.ErrUnknownSigner})

		_, err := ex.Submit(context.Background(), req, est)
		require.ErrorIs(t, err, signer.ErrUnknownSigner)
		require.Zero(t, sub.calls)
	})

	t.Run("unencodable request", func(t *testing.T) {
		sub := &fakeSubmitter{}
		ex := New(sub, fakeCalls{err: errors.New("bad token id")}, fakeSource{})

		_, err := ex.Submit(context.Background(), req, est)
		require.Error(t, err)
		require.Zero(t, sub.calls)
	})
}
