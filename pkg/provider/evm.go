package provider

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"market-pipeline/pkg/signer"
)

const (
	NativeDecimals = 18
	// gasLimitBufferPercent pads estimated gas limits of submitted transactions
	gasLimitBufferPercent = 20
)

// ERC20 balanceOf function ABI
const erc20BalanceOfABI = `[{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"}]`

// Backend is the part of *ethclient.Client the EVM provider uses
type Backend interface {
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Token is an ERC20 asset whose balance can be read
type Token struct {
	Address  string
	Decimals int32
}

// EVMConfig configures the EVM provider
type EVMConfig struct {
	ChainID     int64    // Zero asks the backend
	NativeAsset string   // Symbol of the fee asset
	GasPrice    *big.Int // Overrides the suggested gas price
	GasLimit    uint64   // Overrides gas estimation
	Tokens      map[string]Token
}

// EVM implements Provider on an EVM chain
type EVM struct {
	backend Backend
	cfg     EVMConfig
	erc20   abi.ABI
	closer  func()
}

// NewEVM creates an EVM provider over a backend
func NewEVM(backend Backend, cfg EVMConfig) (*EVM, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20BalanceOfABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}

	if cfg.NativeAsset == "" {
		cfg.NativeAsset = "ETH"
	}
	tokens := make(map[string]Token, len(cfg.Tokens))
	for symbol, token := range cfg.Tokens {
		if !common.IsHexAddress(token.Address) {
			return nil, fmt.Errorf("invalid token contract address for %s: %s", symbol, token.Address)
		}
		tokens[strings.ToUpper(symbol)] = token
	}
	cfg.Tokens = tokens

	return &EVM{backend: backend, cfg: cfg, erc20: parsed}, nil
}

// DialEVM connects to an RPC endpoint and creates an EVM provider
func DialEVM(ctx context.Context, rpcURL string, cfg EVMConfig) (*EVM, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("RPC URL not configured")
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	e, err := NewEVM(client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	e.closer = client.Close
	return e, nil
}

// Backend returns the chain backend
func (e *EVM) Backend() Backend {
	return e.backend
}

// Close closes the client connection
func (e *EVM) Close() {
	if e.closer != nil {
		e.closer()
	}
}

// EstimateFee implements FeeEstimator. The fee is gas limit times gas price.
func (e *EVM) EstimateFee(ctx context.Context, call Call) (decimal.Decimal, error) {
	msg, err := e.callMsg(call)
	if err != nil {
		return decimal.Zero, err
	}

	gasPrice, err := e.gasPrice(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	gasLimit := e.cfg.GasLimit
	if gasLimit == 0 {
		gasLimit, err = e.backend.EstimateGas(ctx, msg)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to estimate gas: %w", err)
		}
	}

	fee := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice)
	return FromBaseUnits(fee, NativeDecimals), nil
}

// GetBalance implements BalanceReader for the native asset and configured tokens
func (e *EVM) GetBalance(ctx context.Context, account string, asset string) (decimal.Decimal, error) {
	if !common.IsHexAddress(account) {
		return decimal.Zero, fmt.Errorf("invalid account address: %s", account)
	}
	owner := common.HexToAddress(account)

	if strings.EqualFold(asset, e.cfg.NativeAsset) {
		balance, err := e.backend.BalanceAt(ctx, owner, nil)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
		}
		return FromBaseUnits(balance, NativeDecimals), nil
	}

	token, ok := e.cfg.Tokens[strings.ToUpper(asset)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset)
	}

	balance, err := e.erc20Balance(ctx, common.HexToAddress(token.Address), owner)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get token balance: %w", err)
	}
	return FromBaseUnits(balance, token.Decimals), nil
}

// Submit implements Submitter. It signs with the handle, broadcasts and waits
// for the transaction to be mined.
func (e *EVM) Submit(ctx context.Context, h *signer.Handle, call Call) (*Receipt, error) {
	from := h.Address()
	if common.IsHexAddress(call.From) && common.HexToAddress(call.From) != from {
		return nil, fmt.Errorf("call sender %s does not match signer %s", call.From, from.Hex())
	}
	call.From = from.Hex()

	msg, err := e.callMsg(call)
	if err != nil {
		return nil, err
	}

	chainID, err := e.chainID(ctx)
	if err != nil {
		return nil, err
	}

	nonce, err := e.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := e.gasPrice(ctx)
	if err != nil {
		return nil, err
	}

	gasLimit := e.cfg.GasLimit
	if gasLimit == 0 {
		estimated, err := e.backend.EstimateGas(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("failed to estimate gas: %w", err)
		}
		gasLimit = estimated * (100 + gasLimitBufferPercent) / 100
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       msg.To,
		Value:    msg.Value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     msg.Data,
	})

	signed, err := h.SignTx(tx, chainID)
	if err != nil {
		if errors.Is(err, signer.ErrReleased) {
			return nil, fmt.Errorf("%w: %v", ErrUserDenied, err)
		}
		return nil, err
	}

	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	hash := signed.Hash().Hex()
	log.WithFields(log.Fields{
		"hash":  hash,
		"kind":  call.Kind,
		"nonce": nonce,
	}).Info("transaction broadcast")

	receipt, err := bind.WaitMined(ctx, e.backend, signed)
	if err != nil {
		return &Receipt{Hash: hash}, fmt.Errorf("failed waiting for transaction: %w", err)
	}

	out := &Receipt{Hash: hash, Confirmations: 1}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status == ethtypes.ReceiptStatusFailed {
		out.Confirmations = 0
		return out, ErrReverted
	}
	return out, nil
}

func (e *EVM) callMsg(call Call) (ethereum.CallMsg, error) {
	if !common.IsHexAddress(call.To) {
		return ethereum.CallMsg{}, fmt.Errorf("invalid contract address: %s", call.To)
	}
	to := common.HexToAddress(call.To)

	msg := ethereum.CallMsg{
		To:    &to,
		Data:  call.Data,
		Value: ToBaseUnits(call.Value, NativeDecimals),
	}
	if common.IsHexAddress(call.From) {
		msg.From = common.HexToAddress(call.From)
	}
	return msg, nil
}

// gasPrice returns the configured gas price or the one suggested by the network
func (e *EVM) gasPrice(ctx context.Context) (*big.Int, error) {
	if e.cfg.GasPrice != nil {
		return new(big.Int).Set(e.cfg.GasPrice), nil
	}

	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	return gasPrice, nil
}

func (e *EVM) chainID(ctx context.Context) (*big.Int, error) {
	if e.cfg.ChainID != 0 {
		return big.NewInt(e.cfg.ChainID), nil
	}

	id, err := e.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	return id, nil
}

// erc20Balance gets the balance of an ERC20 token for an address
func (e *EVM) erc20Balance(ctx context.Context, tokenAddress common.Address, account common.Address) (*big.Int, error) {
	data, err := e.erc20.Pack("balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf data: %w", err)
	}

	result, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: &tokenAddress, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf: %w", err)
	}

	return new(big.Int).SetBytes(result), nil
}
