package pipeline

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"market-pipeline/pkg/gas"
	"market-pipeline/pkg/types"
)

// capability is what varies between transaction kinds
type capability struct {
	// validate runs before any balance or fee read
	validate func(ctx context.Context, o *Orchestrator, req types.TransactionRequest) error
	// value is the native amount sent along with the call
	value func(req types.TransactionRequest) decimal.Decimal
	// refreshes is set for kinds that change what listing views show
	refreshes bool
	success   string
}

var capabilities = map[types.Kind]capability{
	types.KindApprove: {
		validate: validateApprove,
		success:  "Marketplace approved",
	},
	types.KindListFixed: {
		validate:  requirePrice,
		refreshes: true,
		success:   "Listing created",
	},
	types.KindListAuction: {
		validate:  validateAuction,
		refreshes: true,
		success:   "Auction created",
	},
	types.KindBid: {
		validate: requireBid,
		value:    func(req types.TransactionRequest) decimal.Decimal { return req.Amount },
		success:  "Bid placed",
	},
	types.KindAcceptOffer: {
		refreshes: true,
		success:   "Offer accepted",
	},
	types.KindClaim: {
		validate: validateClaim,
		success:  "Auction claimed",
	},
	types.KindCancelFixed: {
		refreshes: true,
		success:   "Listing cancelled",
	},
	types.KindCancelAuction: {
		refreshes: true,
		success:   "Auction cancelled",
	},
}

func (c capability) valueOf(req types.TransactionRequest) decimal.Decimal {
	if c.value == nil {
		return decimal.Zero
	}
	return c.value(req)
}

func validateCommon(req types.TransactionRequest) error {
	if req.SubjectID == "" {
		return fmt.Errorf("token id is required")
	}
	if req.SignerRef == "" {
		return fmt.Errorf("signer account is required")
	}
	return nil
}

func validateApprove(ctx context.Context, o *Orchestrator, req types.TransactionRequest) error {
	if req.FollowOn != "" && !req.FollowOn.IsListing() {
		return fmt.Errorf("approval can only be followed by a listing, got %s", req.FollowOn)
	}
	return nil
}

func requirePrice(ctx context.Context, o *Orchestrator, req types.TransactionRequest) error {
	if !req.NativeAmount().IsPositive() {
		return fmt.Errorf("price must be greater than zero")
	}
	return nil
}

func requireBid(ctx context.Context, o *Orchestrator, req types.TransactionRequest) error {
	if !req.Amount.IsPositive() {
		return fmt.Errorf("bid must be greater than zero")
	}
	return nil
}

func validateAuction(ctx context.Context, o *Orchestrator, req types.TransactionRequest) error {
	if err := requirePrice(ctx, o, req); err != nil {
		return err
	}
	return gas.ValidateAuctionWindow(req.AuctionWindow, o.now())
}

func validateClaim(ctx context.Context, o *Orchestrator, req types.TransactionRequest) error {
	if o.market == nil {
		return nil
	}

	end, err := o.market.AuctionEndTime(ctx, req.SubjectID)
	if err != nil {
		return newError(types.ErrorProviderReadFailed, fmt.Errorf("failed to read auction end time: %w", err))
	}
	if end.IsZero() {
		return fmt.Errorf("token %s has no auction", req.SubjectID)
	}
	if o.now().Before(end) {
		return fmt.Errorf("auction ends at %s", end.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	return nil
}
