package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies a marketplace transaction type
type Kind string

const (
	KindApprove       Kind = "APPROVE"        // Approve the marketplace to move the token
	KindListFixed     Kind = "LIST_FIXED"     // List the token at a fixed price
	KindListAuction   Kind = "LIST_AUCTION"   // List the token for auction
	KindBid           Kind = "BID"            // Bid on an auction
	KindAcceptOffer   Kind = "ACCEPT_OFFER"   // Accept the best offer on a token
	KindClaim         Kind = "CLAIM"          // Claim a finished auction
	KindCancelFixed   Kind = "CANCEL_FIXED"   // Cancel a fixed price listing
	KindCancelAuction Kind = "CANCEL_AUCTION" // Cancel an auction
)

// AllKinds lists every transaction kind the pipeline drives
var AllKinds = []Kind{
	KindApprove,
	KindListFixed,
	KindListAuction,
	KindBid,
	KindAcceptOffer,
	KindClaim,
	KindCancelFixed,
	KindCancelAuction,
}

// ParseKind converts a user supplied kind name into a Kind
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	for _, known := range AllKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown transaction kind: %s", s)
}

// IsListing returns true for kinds that create a listing
func (k Kind) IsListing() bool {
	return k == KindListFixed || k == KindListAuction
}

// AuctionWindow bounds an auction listing
type AuctionWindow struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// ListingContext is echoed back to listing views after a successful transaction
type ListingContext struct {
	Filters  map[string]string `json:"filters,omitempty"`
	Page     int               `json:"page,omitempty"`
	PageSize int               `json:"page_size,omitempty"`
}

// PriceConversion records the native amount a listing price converted to
type PriceConversion struct {
	NativeAmount decimal.Decimal `json:"native_amount"`
	Rate         decimal.Decimal `json:"rate"`
	ConvertedAt  time.Time       `json:"converted_at"`
}

// Age returns how old the conversion is at now
func (c *PriceConversion) Age(now time.Time) time.Duration {
	return now.Sub(c.ConvertedAt)
}

// TransactionRequest is an immutable description of one pipeline invocation
type TransactionRequest struct {
	ID        string `json:"id"`         // Unique per invocation
	Kind      Kind   `json:"kind"`       // Transaction kind
	SubjectID string `json:"subject_id"` // Token the transaction acts on
	SignerRef string `json:"signer_ref"` // Account reference, never key material

	Amount        decimal.Decimal `json:"amount"`                   // Price or bid value
	PriceCurrency string          `json:"price_currency,omitempty"` // Currency Amount is quoted in, empty for native

	AuctionWindow *AuctionWindow   `json:"auction_window,omitempty"`
	Conversion    *PriceConversion `json:"conversion,omitempty"` // Set once the price has been converted
	FollowOn      Kind             `json:"follow_on,omitempty"`  // Listing kind chained after APPROVE

	Context ListingContext `json:"context"`
}

// WithKind returns a copy of the request for another kind, keeping its parameters
func (r TransactionRequest) WithKind(kind Kind, id string) TransactionRequest {
	r.Kind = kind
	r.ID = id
	r.FollowOn = ""
	return r
}

// WithConversion returns a copy of the request carrying a price conversion
func (r TransactionRequest) WithConversion(c PriceConversion) TransactionRequest {
	r.Conversion = &c
	return r
}

// NativeAmount returns the amount in the native asset
func (r TransactionRequest) NativeAmount() decimal.Decimal {
	if r.Conversion != nil {
		return r.Conversion.NativeAmount
	}
	return r.Amount
}

// GasEstimate is a normalized fee for one attempt
type GasEstimate struct {
	FeeAmount     decimal.Decimal `json:"fee_amount"`     // Buffered fee
	RawFee        decimal.Decimal `json:"raw_fee"`        // Fee as returned by the provider
	BufferPercent int64           `json:"buffer_percent"` // Buffer applied to RawFee
	AssetType     string          `json:"asset_type"`
	EstimatedAt   time.Time       `json:"estimated_at"`
}

// Status is the terminal state of a submitted transaction
type Status string

const (
	StatusSuccess  Status = "SUCCESS"
	StatusFailed   Status = "FAILED"
	StatusRejected Status = "REJECTED"
)

// ErrorKind classifies a pipeline failure
type ErrorKind string

const (
	ErrorValidation           ErrorKind = "VALIDATION"
	ErrorEstimationFailed     ErrorKind = "ESTIMATION_FAILED"
	ErrorInsufficientBalance  ErrorKind = "INSUFFICIENT_BALANCE"
	ErrorUserRejected         ErrorKind = "USER_REJECTED"
	ErrorStaleApproval        ErrorKind = "STALE_APPROVAL"
	ErrorProviderSubmitFailed ErrorKind = "PROVIDER_SUBMIT_FAILED"
	ErrorProviderReadFailed   ErrorKind = "PROVIDER_READ_FAILED"
	ErrorSubmissionInFlight   ErrorKind = "SUBMISSION_IN_FLIGHT"
	ErrorInternal             ErrorKind = "INTERNAL"
)

// TransactionResult is produced once the executor returns
type TransactionResult struct {
	RequestID   string    `json:"request_id"`
	Kind        Kind      `json:"kind"`
	SubjectID   string    `json:"subject_id"`
	Status      Status    `json:"status"`
	Hash        string    `json:"hash,omitempty"`
	ErrorKind   ErrorKind `json:"error_kind,omitempty"`
	Message     string    `json:"message,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Succeeded returns true if the transaction was confirmed on chain
func (r *TransactionResult) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}
