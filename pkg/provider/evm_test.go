package provider

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"market-pipeline/pkg/signer"
	"market-pipeline/pkg/types"
)

const (
	marketAddr = "0x2222222222222222222222222222222222222222"
	usdcAddr   = "0x3333333333333333333333333333333333333333"
)

type fakeBackend struct {
	chainID    *big.Int
	gasPrice   *big.Int
	gas        uint64
	estimateFn func(msg ethereum.CallMsg) (uint64, error)
	balance    *big.Int
	tokenBal   *big.Int
	status     uint64
	sendErr    error

	sent     []*ethtypes.Transaction
	lastCall ethereum.CallMsg
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) { return f.chainID, nil }

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) { return f.gasPrice, nil }

func (f *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if f.estimateFn != nil {
		return f.estimateFn(msg)
	}
	return f.gas, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.lastCall = msg
	uint256, _ := abi.NewType("uint256", "", nil)
	return abi.Arguments{{Type: uint256}}.Pack(f.tokenBal)
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	for _, tx := range f.sent {
		if tx.Hash() == hash {
			return &ethtypes.Receipt{Status: f.status, TxHash: hash, BlockNumber: big.NewInt(100)}, nil
		}
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:  big.NewInt(11155111),
		gasPrice: big.NewInt(2_000_000_000),
		gas:      50_000,
		balance:  new(big.Int).Mul(big.NewInt(5), big.NewInt(1e16)),
		tokenBal: big.NewInt(1_500_000),
		status:   ethtypes.ReceiptStatusSuccessful,
	}
}

func newTestEVM(t *testing.T, backend *fakeBackend, cfg EVMConfig) *EVM {
	t.Helper()
	e, err := NewEVM(backend, cfg)
	require.NoError(t, err)
	return e
}

func TestEVMEstimateFee(t *testing.T) {
	backend := newFakeBackend()
	e := newTestEVM(t, backend, EVMConfig{NativeAsset: "ETH"})

	fee, err := e.EstimateFee(context.Background(), Call{Kind: types.KindClaim, To: marketAddr})
	require.NoError(t, err)
	// 50000 gas at 2 gwei
	require.True(t, fee.Equal(decimal.RequireFromString("0.0001")), "fee %s", fee)

	t.Run("configured overrides", func(t *testing.T) {
		e := newTestEVM(t, backend, EVMConfig{GasPrice: big.NewInt(1_000_000_000), GasLimit: 100_000})
		fee, err := e.EstimateFee(context.Background(), Call{To: marketAddr})
		require.NoError(t, err)
		require.True(t, fee.Equal(decimal.RequireFromString("0.0001")))
	})

	t.Run("estimation error", func(t *testing.T) {
		backend := newFakeBackend()
		backend.estimateFn = func(msg ethereum.CallMsg) (uint64, error) { return 0, errors.New("execution reverted") }
		e := newTestEVM(t, backend, EVMConfig{})
		_, err := e.EstimateFee(context.Background(), Call{To: marketAddr})
		require.Error(t, err)
	})

	t.Run("invalid contract", func(t *testing.T) {
		_, err := e.EstimateFee(context.Background(), Call{To: "nope"})
		require.Error(t, err)
	})
}

func TestEVMGetBalance(t *testing.T) {
	backend := newFakeBackend()
	e := newTestEVM(t, backend, EVMConfig{
		NativeAsset: "ETH",
		Tokens:      map[string]Token{"usdc": {Address: usdcAddr, Decimals: 6}},
	})
	account := "0x1111111111111111111111111111111111111111"

	native, err := e.GetBalance(context.Background(), account, "eth")
	require.NoError(t, err)
	require.True(t, native.Equal(decimal.RequireFromString("0.05")))

	usdc, err := e.GetBalance(context.Background(), account, "USDC")
	require.NoError(t, err)
	require.True(t, usdc.Equal(decimal.RequireFromString("1.5")))
	require.Equal(t, common.HexToAddress(usdcAddr), *backend.lastCall.To)

	_, err = e.GetBalance(context.Background(), account, "DAI")
	require.ErrorIs(t, err, ErrUnsupportedAsset)

	_, err = e.GetBalance(context.Background(), "not-an-address", "ETH")
	require.Error(t, err)
}

func TestNewEVMRejectsInvalidToken(t *testing.T) {
	_, err := NewEVM(newFakeBackend(), EVMConfig{Tokens: map[string]Token{"X": {Address: "bad"}}})
	require.Error(t, err)
}

func testHandle(t *testing.T) *signer.Handle {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return signer.NewHandle(crypto.PubkeyToAddress(key.PublicKey).Hex(), key)
}

func TestEVMSubmit(t *testing.T) {
	backend := newFakeBackend()
	e := newTestEVM(t, backend, EVMConfig{})
	h := testHandle(t)
	defer h.Release()

	call := Call{
		Kind:  types.KindBid,
		From:  h.Address().Hex(),
		To:    marketAddr,
		Data:  []byte{0x01, 0x02, 0x03, 0x04},
		Value: decimal.RequireFromString("0.01"),
	}

	receipt, err := e.Submit(context.Background(), h, call)
	require.NoError(t, err)
	require.Equal(t, 1, receipt.Confirmations)
	require.Equal(t, uint64(100), receipt.BlockNumber)

	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	require.Equal(t, receipt.Hash, tx.Hash().Hex())
	require.Equal(t, uint64(60_000), tx.Gas())
	require.Zero(t, big.NewInt(1e16).Cmp(tx.Value()))
	require.Equal(t, common.HexToAddress(marketAddr), *tx.To())

	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(backend.chainID), tx)
	require.NoError(t, err)
	require.Equal(t, h.Address(), sender)
}

func TestEVMSubmitFailures(t *testing.T) {
	t.Run("reverted", func(t *testing.T) {
		backend := newFakeBackend()
		backend.status = ethtypes.ReceiptStatusFailed
		e := newTestEVM(t, backend, EVMConfig{})
		h := testHandle(t)

		receipt, err := e.Submit(context.Background(), h, Call{To: marketAddr})
		require.ErrorIs(t, err, ErrReverted)
		require.NotEmpty(t, receipt.Hash)
		require.Zero(t, receipt.Confirmations)
	})

	t.Run("released handle", func(t *testing.T) {
		backend := newFakeBackend()
		e := newTestEVM(t, backend, EVMConfig{})
		h := testHandle(t)
		h.Release()

		_, err := e.Submit(context.Background(), h, Call{To: marketAddr})
		require.ErrorIs(t, err, ErrUserDenied)
		require.Empty(t, backend.sent)
	})

	t.Run("sender mismatch", func(t *testing.T) {
		e := newTestEVM(t, newFakeBackend(), EVMConfig{})
		h := testHandle(t)

		_, err := e.Submit(context.Background(), h, Call{From: "0x9999999999999999999999999999999999999999", To: marketAddr})
		require.Error(t, err)
	})

	t.Run("broadcast failure", func(t *testing.T) {
		backend := newFakeBackend()
		backend.sendErr = errors.New("nonce too low")
		e := newTestEVM(t, backend, EVMConfig{})

		_, err := e.Submit(context.Background(), testHandle(t), Call{To: marketAddr})
		require.Error(t, err)
	})
}

func TestBalanceRouter(t *testing.T) {
	backend := newFakeBackend()
	e := newTestEVM(t, backend, EVMConfig{NativeAsset: "ETH"})
	sol := &staticReader{amount: decimal.RequireFromString("2")}

	router := NewBalanceRouter(e)
	router.Register("sol", sol)

	got, err := router.GetBalance(context.Background(), "0x1111111111111111111111111111111111111111", "SOL")
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.NewFromInt(2)))

	got, err = router.GetBalance(context.Background(), "0x1111111111111111111111111111111111111111", "ETH")
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.RequireFromString("0.05")))

	_, err = NewBalanceRouter(nil).GetBalance(context.Background(), "x", "ETH")
	require.ErrorIs(t, err, ErrUnsupportedAsset)
}

type staticReader struct {
	amount decimal.Decimal
}

func (s *staticReader) GetBalance(ctx context.Context, account string, asset string) (decimal.Decimal, error) {
	return s.amount, nil
}

func TestBaseUnits(t *testing.T) {
	require.Zero(t, big.NewInt(1_500_000).Cmp(ToBaseUnits(decimal.RequireFromString("1.5"), 6)))
	require.Zero(t, big.NewInt(1).Cmp(ToBaseUnits(decimal.RequireFromString("1.9"), 0)))
	require.True(t, FromBaseUnits(big.NewInt(25), 2).Equal(decimal.RequireFromString("0.25")))
	require.True(t, FromBaseUnits(nil, 18).IsZero())
}
