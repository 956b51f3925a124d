package market

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"market-pipeline/pkg/provider"
	"market-pipeline/pkg/types"
)

// Marketplace contract ABI (the subset the pipeline calls)
const marketplaceABI = `[
{"inputs":[{"name":"tokenId","type":"uint256"},{"name":"price","type":"uint256"}],"name":"listFixedPrice","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"tokenId","type":"uint256"},{"name":"reservePrice","type":"uint256"},{"name":"startTime","type":"uint256"},{"name":"endTime","type":"uint256"}],"name":"createAuction","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"tokenId","type":"uint256"}],"name":"placeBid","outputs":[],"stateMutability":"payable","type":"function"},
{"inputs":[{"name":"tokenId","type":"uint256"}],"name":"acceptOffer","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"tokenId","type":"uint256"}],"name":"claimAuction","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"tokenId","type":"uint256"}],"name":"cancelListing","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"tokenId","type":"uint256"}],"name":"cancelAuction","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"tokenId","type":"uint256"}],"name":"auctionEndTime","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// ERC721 ABI (approval subset)
const erc721ABI = `[
{"inputs":[{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"name":"approve","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"tokenId","type":"uint256"}],"name":"getApproved","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"name":"isApprovedForAll","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"}
]`

// NativeDecimals is the precision of the native asset
const NativeDecimals = 18

// ErrInvalidCall is returned when a request cannot be encoded as a contract call
var ErrInvalidCall = errors.New("invalid contract call")

// Contracts encodes marketplace calls for transaction requests
type Contracts struct {
	marketplace common.Address
	nft         common.Address
	marketABI   abi.ABI
	nftABI      abi.ABI
}

// NewContracts creates an encoder for the given marketplace and NFT contracts
func NewContracts(marketplace, nft string) (*Contracts, error) {
	if !common.IsHexAddress(marketplace) {
		return nil, fmt.Errorf("invalid marketplace address: %s", marketplace)
	}
	if !common.IsHexAddress(nft) {
		return nil, fmt.Errorf("invalid NFT contract address: %s", nft)
	}

	marketABI, err := abi.JSON(strings.NewReader(marketplaceABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse marketplace ABI: %w", err)
	}
	nftABI, err := abi.JSON(strings.NewReader(erc721ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC721 ABI: %w", err)
	}

	return &Contracts{
		marketplace: common.HexToAddress(marketplace),
		nft:         common.HexToAddress(nft),
		marketABI:   marketABI,
		nftABI:      nftABI,
	}, nil
}

// Marketplace returns the marketplace contract address
func (c *Contracts) Marketplace() common.Address {
	return c.marketplace
}

// BuildCall encodes the contract call for a request
func (c *Contracts) BuildCall(req types.TransactionRequest) (provider.Call, error) {
	tokenID, err := ParseTokenID(req.SubjectID)
	if err != nil {
		return provider.Call{}, err
	}

	call := provider.Call{
		Kind:  req.Kind,
		From:  req.SignerRef,
		To:    c.marketplace.Hex(),
		Value: decimal.Zero,
	}

	switch req.Kind {
	case types.KindApprove:
		call.To = c.nft.Hex()
		call.Data, err = c.nftABI.Pack("approve", c.marketplace, tokenID)
	case types.KindListFixed:
		price, perr := positiveWei(req.NativeAmount())
		if perr != nil {
			return provider.Call{}, perr
		}
		call.Data, err = c.marketABI.Pack("listFixedPrice", tokenID, price)
	case types.KindListAuction:
		if req.AuctionWindow == nil {
			return provider.Call{}, fmt.Errorf("%w: auction window is required", ErrInvalidCall)
		}
		reserve, perr := positiveWei(req.NativeAmount())
		if perr != nil {
			return provider.Call{}, perr
		}
		call.Data, err = c.marketABI.Pack("createAuction", tokenID, reserve,
			big.NewInt(req.AuctionWindow.StartTime.Unix()), big.NewInt(req.AuctionWindow.EndTime.Unix()))
	case types.KindBid:
		if _, perr := positiveWei(req.Amount); perr != nil {
			return provider.Call{}, perr
		}
		call.Value = req.Amount
		call.Data, err = c.marketABI.Pack("placeBid", tokenID)
	case types.KindAcceptOffer:
		call.Data, err = c.marketABI.Pack("acceptOffer", tokenID)
	case types.KindClaim:
		call.Data, err = c.marketABI.Pack("claimAuction", tokenID)
	case types.KindCancelFixed:
		call.Data, err = c.marketABI.Pack("cancelListing", tokenID)
	case types.KindCancelAuction:
		call.Data, err = c.marketABI.Pack("cancelAuction", tokenID)
	default:
		return provider.Call{}, fmt.Errorf("%w: unknown kind %s", ErrInvalidCall, req.Kind)
	}
	if err != nil {
		return provider.Call{}, fmt.Errorf("failed to pack %s call: %w", req.Kind, err)
	}

	return call, nil
}

// Reader performs marketplace reads through a contract caller
type Reader struct {
	contracts *Contracts
	caller    ethereum.ContractCaller
}

// NewReader creates a marketplace reader
func NewReader(contracts *Contracts, caller ethereum.ContractCaller) *Reader {
	return &Reader{contracts: contracts, caller: caller}
}

// IsApproved reports whether the marketplace may transfer the token for owner
func (r *Reader) IsApproved(ctx context.Context, owner string, tokenID string) (bool, error) {
	id, err := ParseTokenID(tokenID)
	if err != nil {
		return false, err
	}
	nft := r.contracts.nft

	if common.IsHexAddress(owner) {
		out, err := r.call(ctx, nft, &r.contracts.nftABI, "isApprovedForAll", common.HexToAddress(owner), r.contracts.marketplace)
		if err != nil {
			return false, err
		}
		if approved, ok := out[0].(bool); ok && approved {
			return true, nil
		}
	}

	out, err := r.call(ctx, nft, &r.contracts.nftABI, "getApproved", id)
	if err != nil {
		return false, err
	}
	approved, ok := out[0].(common.Address)
	if !ok {
		return false, fmt.Errorf("unexpected getApproved result type %T", out[0])
	}
	return approved == r.contracts.marketplace, nil
}

// AuctionEndTime returns when the auction for a token ends
func (r *Reader) AuctionEndTime(ctx context.Context, tokenID string) (time.Time, error) {
	id, err := ParseTokenID(tokenID)
	if err != nil {
		return time.Time{}, err
	}

	out, err := r.call(ctx, r.contracts.marketplace, &r.contracts.marketABI, "auctionEndTime", id)
	if err != nil {
		return time.Time{}, err
	}
	end, ok := out[0].(*big.Int)
	if !ok {
		return time.Time{}, fmt.Errorf("unexpected auctionEndTime result type %T", out[0])
	}
	return time.Unix(end.Int64(), 0), nil
}

func (r *Reader) call(ctx context.Context, to common.Address, contractABI *abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	result, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}

	out, err := contractABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty %s result", method)
	}
	return out, nil
}

// ParseTokenID parses a decimal token identifier
func ParseTokenID(subject string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(strings.TrimSpace(subject), 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid token id %q", ErrInvalidCall, subject)
	}
	return id, nil
}

func positiveWei(amount decimal.Decimal) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be greater than 0", ErrInvalidCall)
	}
	return provider.ToBaseUnits(amount, NativeDecimals), nil
}
