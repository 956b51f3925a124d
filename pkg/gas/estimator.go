package gas

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"market-pipeline/pkg/provider"
	"market-pipeline/pkg/types"
)

// DefaultBufferPercent is added on top of every raw provider estimate
const DefaultBufferPercent = 20

var (
	// ErrStartTimeInvalid is returned when an auction does not start in the future
	ErrStartTimeInvalid = errors.New("auction start time must be in the future")
	// ErrWindowInvalid is returned for incomplete or inverted auction windows
	ErrWindowInvalid = errors.New("invalid auction window")
	// ErrInvalidRequest is returned when the request cannot be turned into a call
	ErrInvalidRequest = errors.New("invalid transaction request")
	// ErrEstimationFailed is returned when the provider cannot estimate the fee
	ErrEstimationFailed = errors.New("gas estimation failed")
)

// CallBuilder encodes a request into a contract call
type CallBuilder interface {
	BuildCall(req types.TransactionRequest) (provider.Call, error)
}

// Estimator turns provider fee estimates into buffered, normalized fees
type Estimator struct {
	fees          provider.FeeEstimator
	calls         CallBuilder
	asset         string
	bufferPercent int64
	now           func() time.Time
}

// NewEstimator creates an estimator. Negative buffers fall back to the default.
func NewEstimator(fees provider.FeeEstimator, calls CallBuilder, asset string, bufferPercent int64) *Estimator {
	if bufferPercent < 0 {
		bufferPercent = DefaultBufferPercent
	}
	return &Estimator{
		fees:          fees,
		calls:         calls,
		asset:         asset,
		bufferPercent: bufferPercent,
		now:           time.Now,
	}
}

// SetClock overrides the time source used for auction validation
func (e *Estimator) SetClock(now func() time.Time) {
	e.now = now
}

// BufferPercent returns the buffer applied to every estimate
func (e *Estimator) BufferPercent() int64 {
	return e.bufferPercent
}

// Asset returns the asset fees are paid in
func (e *Estimator) Asset() string {
	return e.asset
}

// Estimate returns a fresh fee estimate for the request executed as kind
func (e *Estimator) Estimate(ctx context.Context, kind types.Kind, req types.TransactionRequest) (types.GasEstimate, error) {
	now := e.now()
	if kind == types.KindListAuction {
		if err := ValidateAuctionWindow(req.AuctionWindow, now); err != nil {
			return types.GasEstimate{}, err
		}
	}

	req.Kind = kind
	call, err := e.calls.BuildCall(req)
	if err != nil {
		return types.GasEstimate{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	raw, err := e.fees.EstimateFee(ctx, call)
	if err != nil {
		return types.GasEstimate{}, fmt.Errorf("%w: %v", ErrEstimationFailed, err)
	}
	if raw.IsNegative() {
		return types.GasEstimate{}, fmt.Errorf("%w: negative fee %s", ErrEstimationFailed, raw.String())
	}

	estimate := types.GasEstimate{
		FeeAmount:     ApplyBuffer(raw, e.bufferPercent),
		RawFee:        raw,
		BufferPercent: e.bufferPercent,
		AssetType:     e.asset,
		EstimatedAt:   now,
	}

	log.WithFields(log.Fields{
		"kind":    kind,
		"subject": req.SubjectID,
		"raw":     raw.String(),
		"fee":     estimate.FeeAmount.String(),
	}).Debug("gas estimated")

	return estimate, nil
}

// ApplyBuffer multiplies a fee by (100 + percent) / 100
func ApplyBuffer(fee decimal.Decimal, percent int64) decimal.Decimal {
	return fee.Mul(decimal.NewFromInt(100 + percent)).Div(decimal.NewFromInt(100))
}

// ValidateAuctionWindow requires both bounds, a start strictly after now and an
// end after the start
func ValidateAuctionWindow(w *types.AuctionWindow, now time.Time) error {
	if w == nil || w.StartTime.IsZero() || w.EndTime.IsZero() {
		return fmt.Errorf("%w: start and end time are both required", ErrWindowInvalid)
	}
	if !w.StartTime.After(now) {
		return ErrStartTimeInvalid
	}
	if !w.EndTime.After(w.StartTime) {
		return fmt.Errorf("%w: end time must be after start time", ErrWindowInvalid)
	}
	return nil
}
